package membership

import (
	"context"
	"errors"
	"testing"

	"github.com/loamlabs/project-oauth/storage"
	"github.com/loamlabs/project-oauth/storage/memory"
)

func setupGuard(t *testing.T) (*Guard, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	if err := store.CreateProject(ctx, &storage.Project{ID: "proj-1"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	memberships := []*storage.Membership{
		{ProjectID: "proj-1", UserID: bootstrapID, Role: RoleOwner.String()},
		{ProjectID: "proj-1", UserID: "admin-1", Role: RoleAdmin.String()},
		{ProjectID: "proj-1", UserID: "member-1", Role: RoleMember.String()},
		{ProjectID: "proj-1", UserID: "user-1", Role: RoleUser.String()},
	}
	for _, m := range memberships {
		if err := store.UpsertMembership(ctx, m); err != nil {
			t.Fatalf("UpsertMembership() error: %v", err)
		}
	}
	g, err := NewGuard(store, bootstrapID)
	if err != nil {
		t.Fatalf("NewGuard() error: %v", err)
	}
	return g, store
}

func TestCheckRole(t *testing.T) {
	g, _ := setupGuard(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		min    Role
		want   bool
	}{
		{name: "owner passes owner", userID: bootstrapID, min: RoleOwner, want: true},
		{name: "admin passes member", userID: "admin-1", min: RoleMember, want: true},
		{name: "admin fails owner", userID: "admin-1", min: RoleOwner, want: false},
		{name: "member passes user", userID: "member-1", min: RoleUser, want: true},
		{name: "user fails member", userID: "user-1", min: RoleMember, want: false},
		{name: "non-member fails", userID: "stranger", min: RoleUser, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.CheckRole(ctx, "proj-1", tt.userID, tt.min)
			if err != nil {
				t.Fatalf("CheckRole() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CheckRole(%s, %v) = %v, want %v", tt.userID, tt.min, got, tt.want)
			}
		})
	}
}

func TestChangeRoleOwnerReserved(t *testing.T) {
	g, store := setupGuard(t)
	ctx := context.Background()

	// Granting owner to a regular member is refused.
	if err := g.ChangeRole(ctx, "proj-1", "admin-1", RoleOwner); !errors.Is(err, ErrOwnerReserved) {
		t.Errorf("grant owner = %v, want ErrOwnerReserved", err)
	}
	// Demoting the bootstrap account is refused.
	if err := g.ChangeRole(ctx, "proj-1", bootstrapID, RoleAdmin); !errors.Is(err, ErrOwnerReserved) {
		t.Errorf("demote bootstrap = %v, want ErrOwnerReserved", err)
	}

	// Ordinary changes below owner work.
	if err := g.ChangeRole(ctx, "proj-1", "user-1", RoleAdmin); err != nil {
		t.Fatalf("ChangeRole() error: %v", err)
	}
	m, err := store.GetMembership(ctx, "proj-1", "user-1")
	if err != nil {
		t.Fatalf("GetMembership() error: %v", err)
	}
	if m.Role != RoleAdmin.String() {
		t.Errorf("Role = %q, want admin", m.Role)
	}
}

func TestRemoveMembershipLastOwner(t *testing.T) {
	g, _ := setupGuard(t)
	ctx := context.Background()

	if err := g.RemoveMembership(ctx, "proj-1", bootstrapID); !errors.Is(err, ErrLastOwner) {
		t.Errorf("removing sole owner = %v, want ErrLastOwner", err)
	}
	if err := g.RemoveMembership(ctx, "proj-1", "member-1"); err != nil {
		t.Errorf("removing member error: %v", err)
	}

	ok, err := g.CheckRole(ctx, "proj-1", "member-1", RoleUser)
	if err != nil {
		t.Fatalf("CheckRole() error: %v", err)
	}
	if ok {
		t.Error("removed member still passes CheckRole")
	}
}
