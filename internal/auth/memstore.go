package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"wyecare.org/internal/ids"
)

// InMemoryStore implements RBACStore for tests and single-node development.
type InMemoryStore struct {
	mu            sync.RWMutex
	organizations map[string]Organization
	departments   map[string]Department
	users         map[string]User
	roles         map[string]Role
	rolePerms     map[string][]Permission
	// assignments keeps role ids per user in assignment order.
	assignments map[string][]string
	now         func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		organizations: make(map[string]Organization),
		departments:   make(map[string]Department),
		users:         make(map[string]User),
		roles:         make(map[string]Role),
		rolePerms:     make(map[string][]Permission),
		assignments:   make(map[string][]string),
		now:           time.Now,
	}
}

func (s *InMemoryStore) CreateOrganization(ctx context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.organizations {
		if strings.EqualFold(existing.Name, org.Name) {
			return ErrConflict
		}
	}
	org.ID = ids.New()
	org.CreatedAt = s.now().UTC()
	org.UpdatedAt = org.CreatedAt
	s.organizations[org.ID] = *org
	return nil
}

func (s *InMemoryStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Organization, 0, len(s.organizations))
	for _, org := range s.organizations {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) GetOrganization(ctx context.Context, id string) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.organizations[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

func (s *InMemoryStore) DeleteOrganization(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.organizations[id]; !ok {
		return ErrNotFound
	}
	delete(s.organizations, id)
	return nil
}

func (s *InMemoryStore) CreateDepartment(ctx context.Context, dept *Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.organizations[dept.OrganizationID]; !ok {
		return ErrNotFound
	}
	for _, existing := range s.departments {
		if existing.OrganizationID == dept.OrganizationID && strings.EqualFold(existing.Name, dept.Name) {
			return ErrConflict
		}
	}
	dept.ID = ids.New()
	dept.CreatedAt = s.now().UTC()
	dept.UpdatedAt = dept.CreatedAt
	s.departments[dept.ID] = *dept
	return nil
}

func (s *InMemoryStore) ListDepartments(ctx context.Context, organizationID string) ([]Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Department
	for _, dept := range s.departments {
		if dept.OrganizationID == organizationID {
			out = append(out, dept)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) CreateUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.organizations[user.OrganizationID]; !ok {
		return ErrNotFound
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return ErrConflict
		}
	}
	user.ID = ids.New()
	user.CreatedAt = s.now().UTC()
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = *user
	return nil
}

func (s *InMemoryStore) GetUser(ctx context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *InMemoryStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *InMemoryStore) ListUsers(ctx context.Context, organizationID string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, user := range s.users {
		if user.OrganizationID == organizationID {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	delete(s.users, userID)
	delete(s.assignments, userID)
	return nil
}

func (s *InMemoryStore) CreateRole(ctx context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.OrganizationID != "" {
		if _, ok := s.organizations[role.OrganizationID]; !ok {
			return ErrNotFound
		}
	}
	role.ID = ids.New()
	role.CreatedAt = s.now().UTC()
	role.UpdatedAt = role.CreatedAt
	s.roles[role.ID] = *role
	return nil
}

func (s *InMemoryStore) GetRole(ctx context.Context, roleID string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[roleID]
	if !ok {
		return Role{}, ErrNotFound
	}
	role.Permissions = clonePerms(s.rolePerms[roleID])
	return role, nil
}

func (s *InMemoryStore) ListRoles(ctx context.Context, organizationID string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Role
	for id, role := range s.roles {
		if role.OrganizationID != organizationID && !role.IsSystemRole {
			continue
		}
		role.Permissions = clonePerms(s.rolePerms[id])
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) SetRolePermissions(ctx context.Context, roleID string, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	s.rolePerms[roleID] = clonePerms(perms)
	return nil
}

func (s *InMemoryStore) SetUserPermissions(ctx context.Context, userID string, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Permissions = clonePerms(perms)
	s.users[userID] = user
	return nil
}

func (s *InMemoryStore) AssignRoleToUser(ctx context.Context, userID, roleID string) (UserRoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return UserRoleAssignment{}, ErrNotFound
	}
	role, ok := s.roles[roleID]
	if !ok {
		return UserRoleAssignment{}, ErrNotFound
	}
	if !role.IsSystemRole && role.OrganizationID != user.OrganizationID {
		return UserRoleAssignment{}, ErrInvalidInput
	}
	for _, assigned := range s.assignments[userID] {
		if assigned == roleID {
			return UserRoleAssignment{}, ErrConflict
		}
	}
	s.assignments[userID] = append(s.assignments[userID], roleID)
	return UserRoleAssignment{
		UserID:         userID,
		RoleID:         roleID,
		OrganizationID: user.OrganizationID,
		CreatedAt:      s.now().UTC(),
	}, nil
}

func (s *InMemoryStore) RemoveRoleAssignment(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	assigned := s.assignments[userID]
	for i, id := range assigned {
		if id == roleID {
			s.assignments[userID] = append(assigned[:i:i], assigned[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) UserWithAccess(ctx context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	// Assignment order, not map order: ability compilation depends on it.
	for _, roleID := range s.assignments[userID] {
		role, ok := s.roles[roleID]
		if !ok {
			continue
		}
		role.Permissions = clonePerms(s.rolePerms[roleID])
		user.Roles = append(user.Roles, role)
	}
	user.Permissions = clonePerms(user.Permissions)
	return user, nil
}

func clonePerms(perms []Permission) []Permission {
	if len(perms) == 0 {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
