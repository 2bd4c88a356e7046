// Package access decides whether an acting member may assign a role and a
// capability set to another member of the same organization.
//
// Roles are ordered Owner > Admin > Custom > User. The decision is a table of
// ordered deny rules; the first matching rule wins. Nothing here performs I/O.
package access

import (
	"fmt"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

// Denial messages.
const (
	MsgOwnerOnly            = "only an owner can configure another owner's account"
	MsgCannotManageUsers    = "your account does not have permission to manage users"
	MsgCustomCannotElevate  = "custom users can not manage admins or owners"
	MsgCustomSubsetOnly     = "custom users can only grant the same custom permissions that they have"
	MsgCustomPermsDisabled  = "organization must enable custom permissions"
	MsgOrganizationNotFound = "organization not found"
)

// Privileges is an actor's role and capability snapshot in one organization.
// The zero value holds no role and no capability.
type Privileges struct {
	Role        organization.Role
	Permissions organization.Permissions
}

// PrivilegesOf derives privileges from the actor's membership. Only confirmed
// memberships carry privileges.
func PrivilegesOf(m *organization.Membership) Privileges {
	if m == nil || m.Status() != organization.StatusConfirmed {
		return Privileges{}
	}
	return Privileges{Role: m.Role(), Permissions: m.Permissions()}
}

// IsOwner reports whether the actor is a confirmed owner.
func (p Privileges) IsOwner() bool {
	return p.Role == organization.RoleOwner
}

// CanManageUsers reports whether the actor holds ManageUsers, explicitly or
// through its role.
func (p Privileges) CanManageUsers() bool {
	if p.Role.ManagesUsersImplicitly() {
		return true
	}
	return p.Role == organization.RoleCustom && p.Permissions.Has(organization.CapManageUsers)
}

// Assignment is a requested role and capability set for a member. CurrentRole
// is empty for new invitations.
type Assignment struct {
	Role        organization.Role
	Permissions organization.Permissions
	CurrentRole organization.Role
}

func (a Assignment) involves(r organization.Role) bool {
	return a.Role == r || a.CurrentRole == r
}

type rule struct {
	denies  func(actor Privileges, a Assignment) bool
	message string
}

var rules = []rule{
	{
		denies: func(actor Privileges, a Assignment) bool {
			return a.involves(organization.RoleOwner) && !actor.IsOwner()
		},
		message: MsgOwnerOnly,
	},
	{
		denies: func(actor Privileges, _ Assignment) bool {
			return !actor.CanManageUsers()
		},
		message: MsgCannotManageUsers,
	},
	{
		denies: func(actor Privileges, a Assignment) bool {
			return actor.Role == organization.RoleCustom &&
				(a.involves(organization.RoleAdmin) || a.involves(organization.RoleOwner))
		},
		message: MsgCustomCannotElevate,
	},
	{
		denies: func(actor Privileges, a Assignment) bool {
			return actor.Role == organization.RoleCustom &&
				a.Role == organization.RoleCustom &&
				!a.Permissions.SubsetOf(actor.Permissions)
		},
		message: MsgCustomSubsetOnly,
	},
}

// CanAssign returns nil when actor may give a the requested role and
// capabilities, or a PermissionDenied error naming the first rule that denies it.
func CanAssign(actor Privileges, a Assignment) error {
	for _, r := range rules {
		if r.denies(actor, a) {
			return fmt.Errorf("%w: %s", shared.ErrPermissionDenied, r.message)
		}
	}
	return nil
}

// CheckCustomPermissionsEnabled denies the Custom role in organizations that
// have not enabled custom permissions, whatever the actor's role.
func CheckCustomPermissionsEnabled(org *organization.Organization, role organization.Role) error {
	if role != organization.RoleCustom {
		return nil
	}
	if org == nil {
		return fmt.Errorf("%w: %s", shared.ErrNotFound, MsgOrganizationNotFound)
	}
	if !org.UsesCustomPermissions() {
		return fmt.Errorf("%w: %s", shared.ErrPermissionDenied, MsgCustomPermsDisabled)
	}
	return nil
}
