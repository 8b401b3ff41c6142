package membership

import (
	"testing"
)

func TestRoleOrdering(t *testing.T) {
	tests := []struct {
		name string
		role Role
		min  Role
		want bool
	}{
		{name: "owner at least admin", role: RoleOwner, min: RoleAdmin, want: true},
		{name: "admin at least member", role: RoleAdmin, min: RoleMember, want: true},
		{name: "member at least user", role: RoleMember, min: RoleUser, want: true},
		{name: "user not at least member", role: RoleUser, min: RoleMember, want: false},
		{name: "member not at least admin", role: RoleMember, min: RoleAdmin, want: false},
		{name: "admin not at least owner", role: RoleAdmin, min: RoleOwner, want: false},
		{name: "role at least itself", role: RoleAdmin, min: RoleAdmin, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.AtLeast(tt.min); got != tt.want {
				t.Errorf("%v.AtLeast(%v) = %v, want %v", tt.role, tt.min, got, tt.want)
			}
		})
	}
}

func TestParseRoleRoundTrip(t *testing.T) {
	for _, role := range []Role{RoleUser, RoleMember, RoleAdmin, RoleOwner} {
		got, err := ParseRole(role.String())
		if err != nil {
			t.Errorf("ParseRole(%q) error: %v", role.String(), err)
		}
		if got != role {
			t.Errorf("ParseRole(%q) = %v, want %v", role.String(), got, role)
		}
	}
	if _, err := ParseRole("superuser"); err == nil {
		t.Error("ParseRole() accepted an unknown role name")
	}
}

func TestPermissionsAreCumulative(t *testing.T) {
	prev := 0
	for _, role := range []Role{RoleUser, RoleMember, RoleAdmin, RoleOwner} {
		perms := role.Permissions()
		if len(perms) <= prev {
			t.Errorf("%v has %d permissions, want more than %d", role, len(perms), prev)
		}
		prev = len(perms)
	}
}

func TestDefaultRoleByContext(t *testing.T) {
	if got := ContextFirstParty.DefaultRole(); got != RoleMember {
		t.Errorf("first-party default = %v, want member", got)
	}
	if got := ContextThirdParty.DefaultRole(); got != RoleUser {
		t.Errorf("third-party default = %v, want user", got)
	}
}
