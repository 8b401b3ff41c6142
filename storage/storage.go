package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by stores. Flows branch on these to distinguish
// benign misses from security signals without parsing error text.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrAlreadyExists indicates a unique constraint would be violated.
	ErrAlreadyExists = errors.New("storage: already exists")

	// ErrCodeConsumed indicates an authorization code was already exchanged.
	// Callers treat this as a reuse signal, not a retryable failure.
	ErrCodeConsumed = errors.New("storage: authorization code already consumed")

	// ErrCodeExpired indicates an authorization code exists but is past its expiry.
	ErrCodeExpired = errors.New("storage: authorization code expired")

	// ErrTokenSuperseded indicates a refresh token was already rotated.
	// Callers treat this as a reuse signal for the token's family.
	ErrTokenSuperseded = errors.New("storage: refresh token superseded")

	// ErrFamilyRevoked indicates the refresh token's whole family is revoked.
	ErrFamilyRevoked = errors.New("storage: refresh token family revoked")

	// ErrClientProtected indicates a delete was refused for a default client.
	ErrClientProtected = errors.New("storage: default client cannot be deleted")

	// ErrLastOwner indicates a membership removal would leave a project
	// with no owner.
	ErrLastOwner = errors.New("storage: cannot remove the last owner of a project")
)

// Client is a registered OAuth client owned by a project.
type Client struct {
	ID           string
	SecretHash   string // bcrypt hash; empty for public clients
	ProjectID    string
	Name         string
	RedirectURIs []string
	Scopes       []string
	RequirePKCE  bool
	// FirstParty marks clients operated by the project itself; logins
	// through them provision the member role instead of user.
	FirstParty bool
	// Default marks the client created with the project. It cannot be
	// deleted while the project exists.
	Default   bool
	CreatedAt time.Time
}

// AuthorizationCode is a single-use code binding an authenticated end user
// to a client, redirect URI, scope, and PKCE challenge.
type AuthorizationCode struct {
	Code     string
	ClientID string

	// RedirectURI is the resolved redirect target. RedirectURIProvided
	// records whether the authorization request named it explicitly; the
	// token endpoint only demands the parameter again when it did.
	RedirectURI         string
	RedirectURIProvided bool

	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string

	// Identity attributes captured at authorization time; the token
	// endpoint provisions users and memberships from these.
	UserID        string // external user id when the user already exists
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string

	CreatedAt time.Time
	ExpiresAt time.Time
	Consumed  bool
}

// RefreshToken is one generation in a rotation family. Rotation supersedes
// the current generation and inserts the next; presenting a superseded
// token revokes the family.
type RefreshToken struct {
	Token            string
	UserID           string
	ClientID         string
	Scope            string
	FamilyID         string
	Generation       int
	PredecessorToken string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	SupersededAt     time.Time
	RevokedAt        time.Time
}

// Superseded reports whether this generation was already rotated.
func (t *RefreshToken) Superseded() bool { return !t.SupersededAt.IsZero() }

// Revoked reports whether the token's family was revoked.
func (t *RefreshToken) Revoked() bool { return !t.RevokedAt.IsZero() }

// User is an end-user account. ExternalID is the identifier exposed in
// token subjects; the row id never leaves storage.
type User struct {
	ID            string
	ExternalID    string
	Email         string
	EmailVerified bool
	Name          string
	CreatedAt     time.Time
}

// Identity links a user to one authentication source. One row exists per
// client the (provider, subject) pair has logged in through; a login via a
// second client adds a binding without touching the first.
type Identity struct {
	Provider  string
	Subject   string
	UserID    string
	ClientID  string
	CreatedAt time.Time
}

// Project is a tenant. Creating one provisions its partition tables; deleting
// one drops them and cascades to clients and memberships.
type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Membership grants a user a role in a project. At most one membership
// exists per (project, user) pair.
type Membership struct {
	ProjectID string
	UserID    string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Partition is one per-tenant table registered for a project. The registry
// is keyed by (Kind, ProjectID).
type Partition struct {
	Kind      string
	ProjectID string
	TableName string
	CreatedAt time.Time
}

// ClientStore manages registered OAuth clients.
type ClientStore interface {
	// SaveClient inserts a client. Returns ErrAlreadyExists on id collision.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by id.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client. Returns ErrClientProtected for the
	// project's default client.
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients lists the clients of a project.
	ListClients(ctx context.Context, projectID string) ([]*Client, error)
}

// CodeStore manages authorization codes.
type CodeStore interface {
	// SaveAuthorizationCode persists an issued code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically marks an unconsumed, unexpired
	// code as consumed and returns it. Exactly one concurrent caller can
	// succeed per code. Returns ErrNotFound, ErrCodeExpired, or
	// ErrCodeConsumed otherwise; ErrCodeConsumed is the reuse signal and
	// is returned together with the stale code so callers can identify
	// whose tokens to revoke.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code regardless of state.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// RefreshTokenStore manages rotation families.
type RefreshTokenStore interface {
	// SaveRefreshToken persists the first generation of a new family.
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a token by value, whatever its state.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RotateRefreshToken atomically supersedes the presented token and
	// inserts its successor in the same family. Fails with
	// ErrTokenSuperseded if the presented token was already rotated,
	// ErrFamilyRevoked if the family is revoked, or ErrNotFound.
	// The supersede and insert are a single transaction.
	RotateRefreshToken(ctx context.Context, presented string, next *RefreshToken) error

	// RevokeFamily revokes every token in a family. Returns the number of
	// tokens revoked. Idempotent.
	RevokeFamily(ctx context.Context, familyID string) (int, error)

	// RevokeAllForUserClient revokes every family for a user+client pair.
	// Called when authorization code reuse is detected.
	RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error)
}

// UserStore manages users and their linked identities.
type UserStore interface {
	// CreateUser inserts a user. Returns ErrAlreadyExists when the email
	// or external id is taken.
	CreateUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by row id.
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByExternalID retrieves a user by the id used in token subjects.
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// SetEmailVerified updates the user's email verification state.
	SetEmailVerified(ctx context.Context, id string, verified bool) error

	// UpsertIdentity records a (provider, subject, client) binding for a
	// user. Recording an existing binding is a no-op; other clients'
	// bindings for the same pair are never modified.
	UpsertIdentity(ctx context.Context, identity *Identity) error

	// GetIdentity resolves the identity behind (provider, subject). Every
	// binding of a pair shares one user, so any client's row answers; the
	// oldest binding is returned.
	GetIdentity(ctx context.Context, provider, subject string) (*Identity, error)

	// ListIdentities lists the identity bindings linked to a user.
	ListIdentities(ctx context.Context, userID string) ([]*Identity, error)
}

// ProjectStore manages tenants, memberships, and the partition registry.
type ProjectStore interface {
	// CreateProject inserts the project row, registers its partitions, and
	// creates the per-tenant tables, all in one transaction.
	CreateProject(ctx context.Context, project *Project) error

	// GetProject retrieves a project by id.
	GetProject(ctx context.Context, id string) (*Project, error)

	// ListProjects lists all projects.
	ListProjects(ctx context.Context) ([]*Project, error)

	// DeleteProject removes the project, drops its partition tables, and
	// deletes the registry rows in one transaction. Clients and
	// memberships are removed by cascade.
	DeleteProject(ctx context.Context, id string) error

	// ListPartitions lists the registered partitions of a project.
	ListPartitions(ctx context.Context, projectID string) ([]*Partition, error)

	// UpsertMembership inserts a membership or updates its role.
	UpsertMembership(ctx context.Context, m *Membership) error

	// GetMembership retrieves the membership for (project, user).
	GetMembership(ctx context.Context, projectID, userID string) (*Membership, error)

	// ListMemberships lists the memberships of a project.
	ListMemberships(ctx context.Context, projectID string) ([]*Membership, error)

	// DeleteMembership removes a membership. Returns ErrLastOwner when the
	// removal would leave the project without an owner; the check and
	// delete are atomic.
	DeleteMembership(ctx context.Context, projectID, userID string, ownerRole string) error
}

// MaintenanceStore supports periodic cleanup of expired state.
type MaintenanceStore interface {
	// CleanupExpired deletes expired authorization codes and refresh
	// tokens dead longer than retention. Returns rows removed.
	CleanupExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// Store is the full persistence surface the server requires.
type Store interface {
	ClientStore
	CodeStore
	RefreshTokenStore
	UserStore
	ProjectStore
	MaintenanceStore
}
