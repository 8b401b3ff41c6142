// Package membership implements the project membership model: the ordered
// role enumeration, first-login and invitation provisioning, and the role
// checks other services call before acting on project resources.
package membership

import (
	"fmt"
)

// Role is a closed, ordered enumeration. Comparisons use the numeric order;
// a larger role includes every capability of the smaller ones.
type Role int

const (
	// RoleUser is the default for logins through third-party clients.
	RoleUser Role = iota
	// RoleMember is the default for logins through first-party clients.
	RoleMember
	// RoleAdmin can manage members and clients.
	RoleAdmin
	// RoleOwner is reserved for the bootstrap account.
	RoleOwner
)

var roleNames = map[Role]string{
	RoleUser:   "user",
	RoleMember: "member",
	RoleAdmin:  "admin",
	RoleOwner:  "owner",
}

// String returns the stable name persisted in storage.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r grants at least the capabilities of min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ParseRole maps a stored role name back to the enum. Unknown names are an
// error; storage rows only ever contain names this package wrote.
func ParseRole(name string) (Role, error) {
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return RoleUser, fmt.Errorf("unknown role %q", name)
}

// Permissions returns the permission strings embedded in access tokens for
// a role. Capabilities are cumulative up the order.
func (r Role) Permissions() []string {
	var perms []string
	if r >= RoleUser {
		perms = append(perms, "records.read")
	}
	if r >= RoleMember {
		perms = append(perms, "records.write")
	}
	if r >= RoleAdmin {
		perms = append(perms, "members.manage", "clients.manage")
	}
	if r >= RoleOwner {
		perms = append(perms, "project.admin")
	}
	return perms
}

// RegistrationContext describes how a user arrived at a project; it selects
// the default role provisioned on first login.
type RegistrationContext int

const (
	// ContextThirdParty is a login through a third-party client.
	ContextThirdParty RegistrationContext = iota
	// ContextFirstParty is a login through a client the project operates.
	ContextFirstParty
	// ContextInvitation is an administrative invitation.
	ContextInvitation
)

// DefaultRole returns the role a new membership gets in this context.
// Invitations carry an explicit role instead and do not use this path.
func (c RegistrationContext) DefaultRole() Role {
	if c == ContextFirstParty {
		return RoleMember
	}
	return RoleUser
}
