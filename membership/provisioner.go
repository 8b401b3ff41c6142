package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loamlabs/project-oauth/storage"
)

// ProvisionerStore is the storage surface the provisioner needs.
type ProvisionerStore interface {
	storage.UserStore
	storage.ProjectStore
}

// Provisioner creates users, identities, and memberships on first login and
// on administrative invitation. Both paths share ensureMembership so the
// rules stay in one place.
type Provisioner struct {
	store ProvisionerStore
	// bootstrapUserID is the injected operator account. It receives an
	// owner membership on every project and is the only account the
	// owner role can be granted to.
	bootstrapUserID string
	logger          *slog.Logger
	now             func() time.Time
}

// NewProvisioner creates a provisioner. bootstrapUserID must name an
// existing or to-be-created operator account; it is configuration, not a
// compiled-in constant.
func NewProvisioner(store ProvisionerStore, bootstrapUserID string, logger *slog.Logger) (*Provisioner, error) {
	if store == nil {
		return nil, errors.New("membership: store is required")
	}
	if bootstrapUserID == "" {
		return nil, errors.New("membership: bootstrap user id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		store:           store,
		bootstrapUserID: bootstrapUserID,
		logger:          logger,
		now:             time.Now,
	}, nil
}

// Login carries the identity attributes captured at authorization time.
type Login struct {
	ProjectID     string
	ClientID      string
	FirstParty    bool
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// ProvisionLogin resolves or creates the user behind a login and ensures
// their membership in the client's project. Each client the identity logs in
// through gets its own binding; repeating a login changes nothing, and
// existing memberships are never downgraded or duplicated.
func (p *Provisioner) ProvisionLogin(ctx context.Context, login Login) (*storage.User, *storage.Membership, error) {
	if login.ProjectID == "" || login.Provider == "" || login.Subject == "" {
		return nil, nil, errors.New("membership: project, provider, and subject are required")
	}

	user, err := p.resolveUser(ctx, login)
	if err != nil {
		return nil, nil, err
	}

	err = p.store.UpsertIdentity(ctx, &storage.Identity{
		Provider: login.Provider,
		Subject:  login.Subject,
		UserID:   user.ID,
		ClientID: login.ClientID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("link identity: %w", err)
	}

	// Verified state can change upstream between logins.
	if login.EmailVerified && !user.EmailVerified {
		if err := p.store.SetEmailVerified(ctx, user.ID, true); err != nil {
			return nil, nil, fmt.Errorf("update email verification: %w", err)
		}
		user.EmailVerified = true
	}

	regContext := ContextThirdParty
	if login.FirstParty {
		regContext = ContextFirstParty
	}
	m, err := p.ensureMembership(ctx, login.ProjectID, user.ID, regContext.DefaultRole(), false)
	if err != nil {
		return nil, nil, err
	}

	return user, m, nil
}

// resolveUser finds the account behind a login, creating it on first
// contact. Matching order: linked identity, then verified email, then a new
// account.
func (p *Provisioner) resolveUser(ctx context.Context, login Login) (*storage.User, error) {
	identity, err := p.store.GetIdentity(ctx, login.Provider, login.Subject)
	if err == nil {
		user, err := p.store.GetUser(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("load identity user: %w", err)
		}
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("look up identity: %w", err)
	}

	// Only a verified email may claim an existing account; an unverified
	// address could hijack it.
	if login.Email != "" && login.EmailVerified {
		user, err := p.store.GetUserByEmail(ctx, login.Email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("look up user by email: %w", err)
		}
	}

	user := &storage.User{
		ID:            uuid.NewString(),
		ExternalID:    uuid.NewString(),
		Email:         login.Email,
		EmailVerified: login.EmailVerified,
		Name:          login.Name,
		CreatedAt:     p.now(),
	}
	if err := p.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) && login.Email != "" && login.EmailVerified {
			// Lost a race with a concurrent first login. Only a verified
			// address may resolve to the winner's account.
			return p.store.GetUserByEmail(ctx, login.Email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	p.logger.Info("provisioned new user",
		"user_id", user.ExternalID,
		"project_id", login.ProjectID,
		"provider", login.Provider)
	return user, nil
}

// Invite grants a user a role in a project through the administrative path.
// The owner role cannot be granted this way; it belongs to the bootstrap
// account alone.
func (p *Provisioner) Invite(ctx context.Context, projectID, userID string, role Role) (*storage.Membership, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("membership: invalid role %v", role)
	}
	if role == RoleOwner && userID != p.bootstrapUserID {
		return nil, ErrOwnerReserved
	}
	if _, err := p.store.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("load invited user: %w", err)
	}
	return p.ensureMembership(ctx, projectID, userID, role, true)
}

// ensureMembership creates or, when allowUpgrade is set, raises a
// membership. A login never changes an existing role; an invitation may
// raise but never lower one.
func (p *Provisioner) ensureMembership(ctx context.Context, projectID, userID string, role Role, allowUpgrade bool) (*storage.Membership, error) {
	existing, err := p.store.GetMembership(ctx, projectID, userID)
	if err == nil {
		current, perr := ParseRole(existing.Role)
		if perr != nil {
			return nil, fmt.Errorf("membership: corrupt role on (%s,%s): %w", projectID, userID, perr)
		}
		if !allowUpgrade || current.AtLeast(role) {
			return existing, nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load membership: %w", err)
	}

	m := &storage.Membership{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role.String(),
	}
	if err := p.store.UpsertMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("save membership: %w", err)
	}
	p.logger.Info("membership provisioned",
		"project_id", projectID,
		"role", role.String())
	return p.store.GetMembership(ctx, projectID, userID)
}

// CreateProject creates a tenant: the project row with its storage
// partitions, then the bootstrap account's owner membership. Partition
// provisioning is transactional inside the store; the owner grant is
// idempotent, so a crash between the two steps heals on the next
// EnsureBootstrapOwner run.
func (p *Provisioner) CreateProject(ctx context.Context, project *storage.Project) error {
	if err := p.store.CreateProject(ctx, project); err != nil {
		return err
	}
	return p.EnsureBootstrapOwnerForProject(ctx, project.ID)
}

// EnsureBootstrapOwnerForProject grants the bootstrap account the owner
// role on one project. Safe to call repeatedly.
func (p *Provisioner) EnsureBootstrapOwnerForProject(ctx context.Context, projectID string) error {
	existing, err := p.store.GetMembership(ctx, projectID, p.bootstrapUserID)
	if err == nil && existing.Role == RoleOwner.String() {
		return nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load bootstrap membership: %w", err)
	}
	err = p.store.UpsertMembership(ctx, &storage.Membership{
		ProjectID: projectID,
		UserID:    p.bootstrapUserID,
		Role:      RoleOwner.String(),
	})
	if err != nil {
		return fmt.Errorf("grant bootstrap owner: %w", err)
	}
	p.logger.Info("bootstrap owner ensured", "project_id", projectID)
	return nil
}

// EnsureBootstrapOwner walks every project and repairs any missing
// bootstrap owner membership. Run at startup.
func (p *Provisioner) EnsureBootstrapOwner(ctx context.Context) error {
	projects, err := p.store.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	for _, project := range projects {
		if err := p.EnsureBootstrapOwnerForProject(ctx, project.ID); err != nil {
			return err
		}
	}
	return nil
}
