package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RBACStore describes persistence operations required by the RBAC service.
type RBACStore interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	ListOrganizations(ctx context.Context) ([]Organization, error)
	GetOrganization(ctx context.Context, id string) (Organization, error)
	DeleteOrganization(ctx context.Context, id string) error

	CreateDepartment(ctx context.Context, dept *Department) error
	ListDepartments(ctx context.Context, organizationID string) ([]Department, error)

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, organizationID string) ([]User, error)
	DeleteUser(ctx context.Context, userID string) error

	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID string) (Role, error)
	ListRoles(ctx context.Context, organizationID string) ([]Role, error)
	SetRolePermissions(ctx context.Context, roleID string, perms []Permission) error
	SetUserPermissions(ctx context.Context, userID string, perms []Permission) error
	AssignRoleToUser(ctx context.Context, userID, roleID string) (UserRoleAssignment, error)
	RemoveRoleAssignment(ctx context.Context, userID, roleID string) error

	// UserWithAccess loads the user together with roles (assignment order)
	// and direct permission grants (grant order). Ability compilation relies
	// on both orderings being stable.
	UserWithAccess(ctx context.Context, userID string) (User, error)
}

// RBACService exposes validated multi-tenant RBAC operations.
type RBACService struct {
	store RBACStore
}

// NewRBACService constructs the service.
func NewRBACService(store RBACStore) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	return &RBACService{store: store}, nil
}

func (s *RBACService) CreateOrganization(ctx context.Context, name, sector string, metadata map[string]string) (Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	org := Organization{
		Name:     name,
		Sector:   strings.TrimSpace(strings.ToLower(sector)),
		Metadata: metadata,
	}
	if err := s.store.CreateOrganization(ctx, &org); err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *RBACService) ListOrganizations(ctx context.Context) ([]Organization, error) {
	return s.store.ListOrganizations(ctx)
}

func (s *RBACService) GetOrganization(ctx context.Context, id string) (Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Organization{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.GetOrganization(ctx, id)
}

func (s *RBACService) CreateDepartment(ctx context.Context, organizationID, name string) (Department, error) {
	organizationID = strings.TrimSpace(organizationID)
	name = strings.TrimSpace(name)
	if organizationID == "" || name == "" {
		return Department{}, fmt.Errorf("%w: organization_id and department name are required", ErrInvalidInput)
	}
	dept := Department{OrganizationID: organizationID, Name: name}
	if err := s.store.CreateDepartment(ctx, &dept); err != nil {
		return Department{}, err
	}
	return dept, nil
}

func (s *RBACService) ListDepartments(ctx context.Context, organizationID string) ([]Department, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.ListDepartments(ctx, organizationID)
}

func (s *RBACService) CreateUser(ctx context.Context, organizationID, departmentID, email, password string) (User, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return User{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	user := User{
		OrganizationID: organizationID,
		DepartmentID:   strings.TrimSpace(departmentID),
		Email:          email,
		PasswordHash:   hash,
		Status:         UserStatusActive,
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *RBACService) ListUsers(ctx context.Context, organizationID string) ([]User, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.ListUsers(ctx, organizationID)
}

func (s *RBACService) DeleteUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.DeleteUser(ctx, userID)
}

// CreateRole resolves the role kind from the requested name once, at creation
// time. The name stays editable for display without touching authorization.
func (s *RBACService) CreateRole(ctx context.Context, organizationID, name, sector string, isSystemRole bool) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" && !isSystemRole {
		return Role{}, fmt.Errorf("%w: organization_id is required for tenant roles", ErrInvalidInput)
	}
	role := Role{
		OrganizationID: organizationID,
		Name:           name,
		Kind:           ResolveRoleKind(name),
		IsSystemRole:   isSystemRole,
		Sector:         strings.TrimSpace(strings.ToLower(sector)),
	}
	if err := s.store.CreateRole(ctx, &role); err != nil {
		return Role{}, err
	}
	return role, nil
}

func (s *RBACService) ListRoles(ctx context.Context, organizationID string) ([]Role, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.ListRoles(ctx, organizationID)
}

func (s *RBACService) SetRolePermissions(ctx context.Context, roleID string, perms []Permission) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	for i, p := range perms {
		if strings.TrimSpace(p.Action) == "" || strings.TrimSpace(p.Subject) == "" {
			return fmt.Errorf("%w: permission %d needs action and subject", ErrInvalidInput, i)
		}
	}
	return s.store.SetRolePermissions(ctx, roleID, perms)
}

// SetUserPermissions replaces a user's direct permission grants. Grant order
// is preserved: later grants can widen what earlier role rules narrowed.
func (s *RBACService) SetUserPermissions(ctx context.Context, userID string, perms []Permission) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	for i, p := range perms {
		if strings.TrimSpace(p.Action) == "" || strings.TrimSpace(p.Subject) == "" {
			return fmt.Errorf("%w: permission %d needs action and subject", ErrInvalidInput, i)
		}
	}
	return s.store.SetUserPermissions(ctx, userID, perms)
}

func (s *RBACService) AssignRoleToUser(ctx context.Context, userID, roleID string) (UserRoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return UserRoleAssignment{}, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return s.store.AssignRoleToUser(ctx, userID, roleID)
}

func (s *RBACService) RemoveRoleAssignment(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return s.store.RemoveRoleAssignment(ctx, userID, roleID)
}

// UserWithAccess loads the user snapshot the ability builder consumes.
func (s *RBACService) UserWithAccess(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.UserWithAccess(ctx, userID)
}

// Authenticate verifies credentials and returns the user with access data.
func (s *RBACService) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return User{}, ErrUnauthorized
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return User{}, ErrUnauthorized
	}
	if user.Status != UserStatusActive {
		return User{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, ErrUnauthorized
	}
	return s.store.UserWithAccess(ctx, user.ID)
}
