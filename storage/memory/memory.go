// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments; partition provisioning is tracked in the registry only.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loamlabs/project-oauth/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	clients     map[string]*storage.Client
	codes       map[string]*storage.AuthorizationCode
	refresh     map[string]*storage.RefreshToken
	users       map[string]*storage.User
	identities  map[string]*storage.Identity // keyed by provider "\x00" subject "\x00" client
	projects    map[string]*storage.Project
	memberships map[string]*storage.Membership // keyed by projectID "\x00" userID
	partitions  map[string]*storage.Partition  // keyed by kind "\x00" projectID

	// partitionKinds are provisioned for every new project.
	partitionKinds []string

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory store. kinds lists the partition
// kinds provisioned per project; nil means the default set.
func NewStore(kinds ...string) *Store {
	if len(kinds) == 0 {
		kinds = []string{"records", "audit"}
	}
	return &Store{
		clients:        make(map[string]*storage.Client),
		codes:          make(map[string]*storage.AuthorizationCode),
		refresh:        make(map[string]*storage.RefreshToken),
		users:          make(map[string]*storage.User),
		identities:     make(map[string]*storage.Identity),
		projects:       make(map[string]*storage.Project),
		memberships:    make(map[string]*storage.Membership),
		partitions:     make(map[string]*storage.Partition),
		partitionKinds: kinds,
		now:            time.Now,
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

// --- ClientStore ---

func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client.ID]; ok {
		return storage.ErrAlreadyExists
	}
	c := *client
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.clients[client.ID] = &c
	return nil
}

func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return storage.ErrNotFound
	}
	if c.Default {
		return storage.ErrClientProtected
	}
	delete(s.clients, clientID)
	return nil
}

func (s *Store) ListClients(_ context.Context, projectID string) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Client
	for _, c := range s.clients {
		if c.ProjectID == projectID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- CodeStore ---

func (s *Store) SaveAuthorizationCode(_ context.Context, code *storage.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code.Code]; ok {
		return storage.ErrAlreadyExists
	}
	c := *code
	s.codes[code.Code] = &c
	return nil
}

func (s *Store) ConsumeAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if c.Consumed {
		cp := *c
		return &cp, storage.ErrCodeConsumed
	}
	if s.now().After(c.ExpiresAt) {
		return nil, storage.ErrCodeExpired
	}
	c.Consumed = true
	cp := *c
	return &cp, nil
}

func (s *Store) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}

// --- RefreshTokenStore ---

func (s *Store) SaveRefreshToken(_ context.Context, token *storage.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[token.Token]; ok {
		return storage.ErrAlreadyExists
	}
	t := *token
	s.refresh[token.Token] = &t
	return nil
}

func (s *Store) GetRefreshToken(_ context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.refresh[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	tp := *t
	return &tp, nil
}

func (s *Store) RotateRefreshToken(_ context.Context, presented string, next *storage.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refresh[presented]
	if !ok {
		return storage.ErrNotFound
	}
	if old.Revoked() {
		return storage.ErrFamilyRevoked
	}
	if old.Superseded() {
		return storage.ErrTokenSuperseded
	}
	if _, ok := s.refresh[next.Token]; ok {
		return storage.ErrAlreadyExists
	}
	old.SupersededAt = s.now()
	t := *next
	s.refresh[next.Token] = &t
	return nil
}

func (s *Store) RevokeFamily(_ context.Context, familyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	revoked := 0
	for _, t := range s.refresh {
		if t.FamilyID == familyID && !t.Revoked() {
			t.RevokedAt = now
			revoked++
		}
	}
	return revoked, nil
}

func (s *Store) RevokeAllForUserClient(_ context.Context, userID, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	revoked := 0
	for _, t := range s.refresh {
		if t.UserID == userID && t.ClientID == clientID && !t.Revoked() {
			t.RevokedAt = now
			revoked++
		}
	}
	return revoked, nil
}

// --- UserStore ---

func (s *Store) CreateUser(_ context.Context, user *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return storage.ErrAlreadyExists
	}
	for _, u := range s.users {
		if u.Email == user.Email || u.ExternalID == user.ExternalID {
			return storage.ErrAlreadyExists
		}
	}
	u := *user
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[user.ID] = &u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	up := *u
	return &up, nil
}

func (s *Store) GetUserByExternalID(_ context.Context, externalID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ExternalID == externalID {
			up := *u
			return &up, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			up := *u
			return &up, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) SetEmailVerified(_ context.Context, id string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.EmailVerified = verified
	return nil
}

func (s *Store) UpsertIdentity(_ context.Context, identity *storage.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(pairKey(identity.Provider, identity.Subject), identity.ClientID)
	if _, ok := s.identities[key]; ok {
		return nil
	}
	id := *identity
	if id.CreatedAt.IsZero() {
		id.CreatedAt = s.now()
	}
	s.identities[key] = &id
	return nil
}

func (s *Store) GetIdentity(_ context.Context, provider, subject string) (*storage.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var oldest *storage.Identity
	for _, id := range s.identities {
		if id.Provider != provider || id.Subject != subject {
			continue
		}
		if oldest == nil || id.CreatedAt.Before(oldest.CreatedAt) {
			oldest = id
		}
	}
	if oldest == nil {
		return nil, storage.ErrNotFound
	}
	ip := *oldest
	return &ip, nil
}

func (s *Store) ListIdentities(_ context.Context, userID string) ([]*storage.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Identity
	for _, id := range s.identities {
		if id.UserID != userID {
			continue
		}
		ip := *id
		out = append(out, &ip)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out, nil
}

// --- ProjectStore ---

func (s *Store) CreateProject(_ context.Context, project *storage.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; ok {
		return storage.ErrAlreadyExists
	}
	p := *project
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.projects[project.ID] = &p
	for _, kind := range s.partitionKinds {
		s.partitions[pairKey(kind, project.ID)] = &storage.Partition{
			Kind:      kind,
			ProjectID: project.ID,
			TableName: fmt.Sprintf("%s_%s", kind, project.ID),
			CreatedAt: p.CreatedAt,
		}
	}
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (*storage.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	pp := *p
	return &pp, nil
}

func (s *Store) ListProjects(_ context.Context) ([]*storage.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.Project, 0, len(s.projects))
	for _, p := range s.projects {
		pp := *p
		out = append(out, &pp)
	}
	return out, nil
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.projects, id)
	for key, part := range s.partitions {
		if part.ProjectID == id {
			delete(s.partitions, key)
		}
	}
	for key, m := range s.memberships {
		if m.ProjectID == id {
			delete(s.memberships, key)
		}
	}
	for cid, c := range s.clients {
		if c.ProjectID == id {
			delete(s.clients, cid)
		}
	}
	return nil
}

func (s *Store) ListPartitions(_ context.Context, projectID string) ([]*storage.Partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Partition
	for _, p := range s.partitions {
		if p.ProjectID == projectID {
			pp := *p
			out = append(out, &pp)
		}
	}
	return out, nil
}

func (s *Store) UpsertMembership(_ context.Context, m *storage.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[m.ProjectID]; !ok {
		return storage.ErrNotFound
	}
	key := pairKey(m.ProjectID, m.UserID)
	now := s.now()
	if existing, ok := s.memberships[key]; ok {
		existing.Role = m.Role
		existing.UpdatedAt = now
		return nil
	}
	mm := *m
	if mm.CreatedAt.IsZero() {
		mm.CreatedAt = now
	}
	mm.UpdatedAt = now
	s.memberships[key] = &mm
	return nil
}

func (s *Store) GetMembership(_ context.Context, projectID, userID string) (*storage.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[pairKey(projectID, userID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	mp := *m
	return &mp, nil
}

func (s *Store) ListMemberships(_ context.Context, projectID string) ([]*storage.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Membership
	for _, m := range s.memberships {
		if m.ProjectID == projectID {
			mp := *m
			out = append(out, &mp)
		}
	}
	return out, nil
}

func (s *Store) DeleteMembership(_ context.Context, projectID, userID string, ownerRole string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(projectID, userID)
	m, ok := s.memberships[key]
	if !ok {
		return storage.ErrNotFound
	}
	if m.Role == ownerRole {
		owners := 0
		for _, other := range s.memberships {
			if other.ProjectID == projectID && other.Role == ownerRole {
				owners++
			}
		}
		if owners <= 1 {
			return storage.ErrLastOwner
		}
	}
	delete(s.memberships, key)
	return nil
}

// --- MaintenanceStore ---

func (s *Store) CleanupExpired(_ context.Context, now time.Time, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for code, c := range s.codes {
		if now.After(c.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}
	cutoff := now.Add(-retention)
	for tok, t := range s.refresh {
		dead := now.After(t.ExpiresAt) || t.Superseded() || t.Revoked()
		if dead && oldestOf(t).Before(cutoff) {
			delete(s.refresh, tok)
			removed++
		}
	}
	return removed, nil
}

// oldestOf picks the timestamp a dead token's retention is measured from.
func oldestOf(t *storage.RefreshToken) time.Time {
	ts := t.ExpiresAt
	if t.Superseded() && t.SupersededAt.Before(ts) {
		ts = t.SupersededAt
	}
	if t.Revoked() && t.RevokedAt.Before(ts) {
		ts = t.RevokedAt
	}
	return ts
}
