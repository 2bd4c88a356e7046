package organization

// Capability is a single grantable permission for Custom members.
type Capability string

const (
	CapAccessEventLogs      Capability = "access_event_logs"
	CapAccessImportExport   Capability = "access_import_export"
	CapAccessReports        Capability = "access_reports"
	CapCreateNewCollections Capability = "create_new_collections"
	CapEditAnyCollection    Capability = "edit_any_collection"
	CapDeleteAnyCollection  Capability = "delete_any_collection"
	CapManageGroups         Capability = "manage_groups"
	CapManagePolicies       Capability = "manage_policies"
	CapManageSso            Capability = "manage_sso"
	CapManageUsers          Capability = "manage_users"
	CapManageResetPassword  Capability = "manage_reset_password"
	CapManageScim           Capability = "manage_scim"
)

// AllCapabilities lists every capability in a stable order.
var AllCapabilities = []Capability{
	CapAccessEventLogs,
	CapAccessImportExport,
	CapAccessReports,
	CapCreateNewCollections,
	CapEditAnyCollection,
	CapDeleteAnyCollection,
	CapManageGroups,
	CapManagePolicies,
	CapManageSso,
	CapManageUsers,
	CapManageResetPassword,
	CapManageScim,
}

// Permissions is the capability set granted to a Custom member.
// It is persisted as a JSON document.
type Permissions struct {
	AccessEventLogs      bool `json:"accessEventLogs,omitempty"`
	AccessImportExport   bool `json:"accessImportExport,omitempty"`
	AccessReports        bool `json:"accessReports,omitempty"`
	CreateNewCollections bool `json:"createNewCollections,omitempty"`
	EditAnyCollection    bool `json:"editAnyCollection,omitempty"`
	DeleteAnyCollection  bool `json:"deleteAnyCollection,omitempty"`
	ManageGroups         bool `json:"manageGroups,omitempty"`
	ManagePolicies       bool `json:"managePolicies,omitempty"`
	ManageSso            bool `json:"manageSso,omitempty"`
	ManageUsers          bool `json:"manageUsers,omitempty"`
	ManageResetPassword  bool `json:"manageResetPassword,omitempty"`
	ManageScim           bool `json:"manageScim,omitempty"`
}

// PermissionsOf builds a capability set from a list.
func PermissionsOf(caps ...Capability) Permissions {
	var p Permissions
	for _, c := range caps {
		if f := p.field(c); f != nil {
			*f = true
		}
	}
	return p
}

func (p *Permissions) field(c Capability) *bool {
	switch c {
	case CapAccessEventLogs:
		return &p.AccessEventLogs
	case CapAccessImportExport:
		return &p.AccessImportExport
	case CapAccessReports:
		return &p.AccessReports
	case CapCreateNewCollections:
		return &p.CreateNewCollections
	case CapEditAnyCollection:
		return &p.EditAnyCollection
	case CapDeleteAnyCollection:
		return &p.DeleteAnyCollection
	case CapManageGroups:
		return &p.ManageGroups
	case CapManagePolicies:
		return &p.ManagePolicies
	case CapManageSso:
		return &p.ManageSso
	case CapManageUsers:
		return &p.ManageUsers
	case CapManageResetPassword:
		return &p.ManageResetPassword
	case CapManageScim:
		return &p.ManageScim
	}
	return nil
}

// Has reports whether the capability is granted.
func (p Permissions) Has(c Capability) bool {
	if f := p.field(c); f != nil {
		return *f
	}
	return false
}

// Granted lists granted capabilities in AllCapabilities order.
func (p Permissions) Granted() []Capability {
	var out []Capability
	for _, c := range AllCapabilities {
		if p.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Missing returns the capabilities of p that are not present in held.
func (p Permissions) Missing(held Permissions) []Capability {
	var out []Capability
	for _, c := range p.Granted() {
		if !held.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// SubsetOf reports whether every capability in p is also in held.
func (p Permissions) SubsetOf(held Permissions) bool {
	return len(p.Missing(held)) == 0
}

// IsEmpty reports whether no capability is granted.
func (p Permissions) IsEmpty() bool {
	return len(p.Granted()) == 0
}
