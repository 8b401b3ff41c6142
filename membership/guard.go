package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/loamlabs/project-oauth/storage"
)

var (
	// ErrOwnerReserved is returned when a caller tries to grant or revoke
	// the owner role for anyone but the bootstrap account.
	ErrOwnerReserved = errors.New("membership: owner role is reserved for the bootstrap account")

	// ErrLastOwner is returned when a removal would leave a project
	// without an owner.
	ErrLastOwner = errors.New("membership: cannot remove the last owner of a project")
)

// Guard answers role questions and applies the mutation rules protecting
// the owner role.
type Guard struct {
	store           storage.ProjectStore
	bootstrapUserID string
}

// NewGuard creates a guard bound to the injected bootstrap account.
func NewGuard(store storage.ProjectStore, bootstrapUserID string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("membership: store is required")
	}
	if bootstrapUserID == "" {
		return nil, errors.New("membership: bootstrap user id is required")
	}
	return &Guard{store: store, bootstrapUserID: bootstrapUserID}, nil
}

// CheckRole reports whether the user holds at least min in the project.
// A missing membership is false, not an error.
func (g *Guard) CheckRole(ctx context.Context, projectID, userID string, min Role) (bool, error) {
	m, err := g.store.GetMembership(ctx, projectID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load membership: %w", err)
	}
	role, err := ParseRole(m.Role)
	if err != nil {
		return false, fmt.Errorf("membership: corrupt role on (%s,%s): %w", projectID, userID, err)
	}
	return role.AtLeast(min), nil
}

// Role returns the user's role in the project.
func (g *Guard) Role(ctx context.Context, projectID, userID string) (Role, error) {
	m, err := g.store.GetMembership(ctx, projectID, userID)
	if err != nil {
		return RoleUser, err
	}
	return ParseRole(m.Role)
}

// ChangeRole sets a member's role. The owner role can neither be granted to
// nor taken from anyone but the bootstrap account; the bootstrap account
// keeps owner unconditionally.
func (g *Guard) ChangeRole(ctx context.Context, projectID, userID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("membership: invalid role %v", role)
	}
	if userID == g.bootstrapUserID {
		if role != RoleOwner {
			return ErrOwnerReserved
		}
		return nil // already owner by construction
	}
	if role == RoleOwner {
		return ErrOwnerReserved
	}

	m, err := g.store.GetMembership(ctx, projectID, userID)
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}
	current, err := ParseRole(m.Role)
	if err != nil {
		return fmt.Errorf("membership: corrupt role on (%s,%s): %w", projectID, userID, err)
	}
	if current == RoleOwner {
		return ErrOwnerReserved
	}

	m.Role = role.String()
	if err := g.store.UpsertMembership(ctx, m); err != nil {
		return fmt.Errorf("save membership: %w", err)
	}
	return nil
}

// RemoveMembership removes a user from a project. The last owner can never
// be removed; the check is atomic with the delete in storage.
func (g *Guard) RemoveMembership(ctx context.Context, projectID, userID string) error {
	err := g.store.DeleteMembership(ctx, projectID, userID, RoleOwner.String())
	if errors.Is(err, storage.ErrLastOwner) {
		return ErrLastOwner
	}
	return err
}
