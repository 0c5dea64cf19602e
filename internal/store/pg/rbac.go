package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"wyecare.org/internal/auth"
	"wyecare.org/internal/ids"
)

// RBACStore is the PostgreSQL implementation of auth.RBACStore. Role and
// permission orderings are materialized with explicit position columns so
// ability compilation sees the same sequence on every load.
type RBACStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ auth.RBACStore = (*RBACStore)(nil)

// NewRBACStore wires the store.
func NewRBACStore(db *sql.DB) *RBACStore {
	return &RBACStore{db: db, now: time.Now}
}

func isUniqueViolation(err error) bool {
	// pgx wraps pq error codes; 23505 is unique_violation.
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}

func (s *RBACStore) CreateOrganization(ctx context.Context, org *auth.Organization) error {
	org.ID = ids.New()
	org.CreatedAt = s.now().UTC()
	org.UpdatedAt = org.CreatedAt
	metadata, err := json.Marshal(orDefault(org.Metadata))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into organizations(id, name, sector, metadata, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6)
	`, org.ID, org.Name, org.Sector, metadata, org.CreatedAt, org.UpdatedAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func orDefault(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func (s *RBACStore) ListOrganizations(ctx context.Context) ([]auth.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, sector, metadata, created_at, updated_at
		from organizations order by id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func scanOrganization(row rowScanner) (auth.Organization, error) {
	var org auth.Organization
	var metadata []byte
	err := row.Scan(&org.ID, &org.Name, &org.Sector, &metadata, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Organization{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Organization{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &org.Metadata); err != nil {
			return auth.Organization{}, err
		}
	}
	if len(org.Metadata) == 0 {
		org.Metadata = nil
	}
	return org, nil
}

func (s *RBACStore) GetOrganization(ctx context.Context, id string) (auth.Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, sector, metadata, created_at, updated_at
		from organizations where id=$1`, id)
	return scanOrganization(row)
}

func (s *RBACStore) DeleteOrganization(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from organizations where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *RBACStore) CreateDepartment(ctx context.Context, dept *auth.Department) error {
	dept.ID = ids.New()
	dept.CreatedAt = s.now().UTC()
	dept.UpdatedAt = dept.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		insert into departments(id, organization_id, name, created_at)
		values ($1,$2,$3,$4)
	`, dept.ID, dept.OrganizationID, dept.Name, dept.CreatedAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func (s *RBACStore) ListDepartments(ctx context.Context, organizationID string) ([]auth.Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, name, created_at
		from departments where organization_id=$1 order by id asc`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Department
	for rows.Next() {
		var dept auth.Department
		if err := rows.Scan(&dept.ID, &dept.OrganizationID, &dept.Name, &dept.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, dept)
	}
	return out, rows.Err()
}

func (s *RBACStore) CreateUser(ctx context.Context, user *auth.User) error {
	user.ID = ids.New()
	user.CreatedAt = s.now().UTC()
	user.UpdatedAt = user.CreatedAt
	patients, err := json.Marshal(user.AssignedPatientIDs)
	if err != nil {
		return err
	}
	if user.AssignedPatientIDs == nil {
		patients = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users(id, organization_id, department_id, email, password_hash,
			assigned_patient_ids, created_at, updated_at)
		values ($1,$2,nullif($3,''),$4,$5,$6,$7,$8)
	`, user.ID, user.OrganizationID, user.DepartmentID, user.Email,
		user.PasswordHash, patients, user.CreatedAt, user.UpdatedAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

const userColumns = `id, organization_id, coalesce(department_id, ''), email,
	password_hash, assigned_patient_ids, created_at, updated_at`

func scanUser(row rowScanner) (auth.User, error) {
	var user auth.User
	var patients []byte
	err := row.Scan(&user.ID, &user.OrganizationID, &user.DepartmentID,
		&user.Email, &user.PasswordHash, &patients, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	user.Status = auth.UserStatusActive
	if len(patients) > 0 {
		if err := json.Unmarshal(patients, &user.AssignedPatientIDs); err != nil {
			return auth.User{}, err
		}
	}
	return user, nil
}

func (s *RBACStore) GetUser(ctx context.Context, userID string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, userID)
	return scanUser(row)
}

func (s *RBACStore) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email)=lower($1)`, email)
	return scanUser(row)
}

func (s *RBACStore) ListUsers(ctx context.Context, organizationID string) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where organization_id=$1 order by id asc`,
		organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (s *RBACStore) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *RBACStore) CreateRole(ctx context.Context, role *auth.Role) error {
	role.ID = ids.New()
	role.CreatedAt = s.now().UTC()
	role.UpdatedAt = role.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		insert into roles(id, organization_id, name, kind, is_system_role, sector, created_at)
		values ($1,nullif($2,''),$3,$4,$5,$6,$7)
	`, role.ID, role.OrganizationID, role.Name, string(role.Kind),
		role.IsSystemRole, role.Sector, role.CreatedAt)
	return err
}

const roleColumns = `id, coalesce(organization_id, ''), name, kind, is_system_role,
	coalesce(sector, ''), created_at`

func scanRole(row rowScanner) (auth.Role, error) {
	var role auth.Role
	err := row.Scan(&role.ID, &role.OrganizationID, &role.Name, &role.Kind,
		&role.IsSystemRole, &role.Sector, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, err
}

func (s *RBACStore) GetRole(ctx context.Context, roleID string) (auth.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id=$1`, roleID)
	role, err := scanRole(row)
	if err != nil {
		return auth.Role{}, err
	}
	role.Permissions, err = s.rolePermissions(ctx, roleID)
	return role, err
}

func (s *RBACStore) ListRoles(ctx context.Context, organizationID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+roleColumns+` from roles
		where organization_id=$1 or is_system_role order by id asc`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Permissions, err = s.rolePermissions(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *RBACStore) rolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select action, subject, conditions, inverted, fields
		from role_permissions where role_id=$1 order by position asc`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func scanPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	var out []auth.Permission
	for rows.Next() {
		var p auth.Permission
		var conditions, fields []byte
		if err := rows.Scan(&p.Action, &p.Subject, &conditions, &p.Inverted, &fields); err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
				return nil, err
			}
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &p.Fields); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *RBACStore) SetRolePermissions(ctx context.Context, roleID string, perms []auth.Permission) error {
	return s.replacePermissions(ctx, "role_permissions", "role_id", roleID, perms)
}

func (s *RBACStore) SetUserPermissions(ctx context.Context, userID string, perms []auth.Permission) error {
	return s.replacePermissions(ctx, "user_permissions", "user_id", userID, perms)
}

func (s *RBACStore) replacePermissions(ctx context.Context, table, keyCol, key string, perms []auth.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from `+table+` where `+keyCol+`=$1`, key); err != nil {
		return err
	}
	for i, p := range perms {
		conditions, err := nullJSON(mapOrNil(p.Conditions))
		if err != nil {
			return err
		}
		fields, err := nullJSON(sliceOrNil(p.Fields))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into `+table+`(`+keyCol+`, position, action, subject, conditions, inverted, fields)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, key, i, p.Action, p.Subject, conditions, p.Inverted, fields); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func mapOrNil(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func sliceOrNil(s []string) any {
	if len(s) == 0 {
		return nil
	}
	return s
}

func (s *RBACStore) AssignRoleToUser(ctx context.Context, userID, roleID string) (auth.UserRoleAssignment, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return auth.UserRoleAssignment{}, err
	}
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return auth.UserRoleAssignment{}, err
	}
	if !role.IsSystemRole && role.OrganizationID != user.OrganizationID {
		return auth.UserRoleAssignment{}, auth.ErrInvalidInput
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		insert into user_roles(user_id, role_id, position, assigned_at)
		values ($1,$2,
			(select coalesce(max(position)+1, 0) from user_roles where user_id=$1),
			$3)
	`, userID, roleID, now)
	if isUniqueViolation(err) {
		return auth.UserRoleAssignment{}, auth.ErrConflict
	}
	if err != nil {
		return auth.UserRoleAssignment{}, err
	}
	return auth.UserRoleAssignment{
		UserID:         userID,
		RoleID:         roleID,
		OrganizationID: user.OrganizationID,
		CreatedAt:      now,
	}, nil
}

func (s *RBACStore) RemoveRoleAssignment(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from user_roles where user_id=$1 and role_id=$2`, userID, roleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *RBACStore) UserWithAccess(ctx context.Context, userID string) (auth.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return auth.User{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select r.id, coalesce(r.organization_id, ''), r.name, r.kind,
			r.is_system_role, coalesce(r.sector, ''), r.created_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id=$1
		order by ur.position asc`, userID)
	if err != nil {
		return auth.User{}, err
	}
	defer rows.Close()
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return auth.User{}, err
		}
		user.Roles = append(user.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return auth.User{}, err
	}
	for i := range user.Roles {
		user.Roles[i].Permissions, err = s.rolePermissions(ctx, user.Roles[i].ID)
		if err != nil {
			return auth.User{}, err
		}
	}

	permRows, err := s.db.QueryContext(ctx, `
		select action, subject, conditions, inverted, fields
		from user_permissions where user_id=$1 order by position asc`, userID)
	if err != nil {
		return auth.User{}, err
	}
	defer permRows.Close()
	user.Permissions, err = scanPermissions(permRows)
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}
