package auth

import (
	"strings"
	"time"
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// RoleKind is the stable authorization identity of a role, resolved once at
// role creation. Renaming a role for display purposes must not change how it
// authorizes, so permission rules key off the kind, never the name.
type RoleKind string

const (
	RoleKindSuperAdmin    RoleKind = "super_admin"
	RoleKindOrgAdmin      RoleKind = "org_admin"
	RoleKindDoctor        RoleKind = "doctor"
	RoleKindNurse         RoleKind = "nurse"
	RoleKindReceptionist  RoleKind = "receptionist"
	RoleKindLabTechnician RoleKind = "lab_technician"
	RoleKindBillingStaff  RoleKind = "billing_staff"
	RoleKindManager       RoleKind = "manager"
	RoleKindSeniorCarer   RoleKind = "senior_carer"
	RoleKindCarer         RoleKind = "carer"
	RoleKindUnknown       RoleKind = ""
)

// ResolveRoleKind maps a human-readable role name to its stable kind.
// Unknown names resolve to RoleKindUnknown and contribute no permission rules.
func ResolveRoleKind(name string) RoleKind {
	switch normalizeRoleName(name) {
	case "super admin", "superadmin", "system admin":
		return RoleKindSuperAdmin
	case "organization admin", "organisation admin", "org admin":
		return RoleKindOrgAdmin
	case "doctor":
		return RoleKindDoctor
	case "nurse":
		return RoleKindNurse
	case "receptionist":
		return RoleKindReceptionist
	case "lab technician":
		return RoleKindLabTechnician
	case "billing staff":
		return RoleKindBillingStaff
	case "manager", "home manager":
		return RoleKindManager
	case "senior carer":
		return RoleKindSeniorCarer
	case "carer", "care assistant":
		return RoleKindCarer
	default:
		return RoleKindUnknown
	}
}

func normalizeRoleName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
}

// Organization is a tenant: a hospital, care home, or staffing agency.
type Organization struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Sector    string            `json:"sector,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Department groups staff within an organization (ward, unit, floor).
type Department struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Role groups permissions. Kind carries the authorization identity; Name is
// display only. System roles are provisioned by the platform and shared
// across tenants.
type Role struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id,omitempty"`
	Name           string       `json:"name"`
	Kind           RoleKind     `json:"kind"`
	IsSystemRole   bool         `json:"is_system_role"`
	Sector         string       `json:"sector,omitempty"`
	Permissions    []Permission `json:"permissions,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Permission is a single can/cannot grant. Action and Subject are validated
// against the closed enums in the ability package when rules are compiled;
// unknown values simply never match. Conditions use the restricted operator
// set (equality, $ne, $in, $exists) evaluated by the ability package's
// condition matcher.
type Permission struct {
	ID         string         `json:"id,omitempty"`
	Action     string         `json:"action"`
	Subject    string         `json:"subject"`
	Conditions map[string]any `json:"conditions,omitempty"`
	Inverted   bool           `json:"inverted,omitempty"`
	Fields     []string       `json:"fields,omitempty"`
}

// User is a staff member or portal account. Roles and Permissions are kept in
// assignment order; ability compilation depends on that order being stable.
type User struct {
	ID                 string       `json:"id"`
	OrganizationID     string       `json:"organization_id"`
	DepartmentID       string       `json:"department_id,omitempty"`
	Email              string       `json:"email"`
	PasswordHash       string       `json:"-"`
	Status             string       `json:"status"`
	Roles              []Role       `json:"roles,omitempty"`
	Permissions        []Permission `json:"permissions,omitempty"`
	AssignedPatientIDs []string     `json:"assigned_patient_ids,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// HasRoleKind reports whether any of the user's roles resolves to kind.
func (u *User) HasRoleKind(kind RoleKind) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

// UserRoleAssignment links a user to a role within an organization.
type UserRoleAssignment struct {
	UserID         string    `json:"user_id"`
	RoleID         string    `json:"role_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}
