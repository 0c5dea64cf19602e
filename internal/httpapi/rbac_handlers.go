package httpapi

import (
	"net/http"
	"strings"

	"wyecare.org/internal/ability"
	"wyecare.org/internal/audit"
	"wyecare.org/internal/auth"
)

// handleOrganizations serves the /v1/organizations collection.
func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireCan(w, r, ability.ActionRead, ability.SubjectOrganization, nil) {
			return
		}
		orgs, err := a.rbac.ListOrganizations(r.Context())
		if err != nil {
			writeRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
	case http.MethodPost:
		if !requireCan(w, r, ability.ActionManage, ability.SubjectOrganization, nil) {
			return
		}
		var req struct {
			Name     string            `json:"name"`
			Sector   string            `json:"sector"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		org, err := a.rbac.CreateOrganization(r.Context(), req.Name, req.Sector, req.Metadata)
		if err != nil {
			writeRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.organization_created", map[string]any{"organization_id": org.ID})
		writeJSON(w, http.StatusCreated, org)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleOrganizationScoped serves /v1/organizations/{id} and its
// departments/users/roles subresources.
func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "organization id required")
		return
	}
	orgID := parts[0]
	scope := map[string]any{"organizationId": orgID}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !requireCan(w, r, ability.ActionRead, ability.SubjectOrganization, map[string]any{"id": orgID, "organizationId": orgID}) {
			return
		}
		org, err := a.rbac.GetOrganization(r.Context(), orgID)
		if err != nil {
			writeRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
	case len(parts) == 2 && parts[1] == "departments":
		a.handleDepartments(w, r, orgID, scope)
	case len(parts) == 2 && parts[1] == "users":
		a.handleOrgUsers(w, r, orgID, scope)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleOrgRoles(w, r, orgID, scope)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (a *API) handleDepartments(w http.ResponseWriter, r *http.Request, orgID string, scope map[string]any) {
	switch r.Method {
	case http.MethodGet:
		if !requireCan(w, r, ability.ActionRead, ability.SubjectDepartment, scope) {
			return
		}
		deps, err := a.rbac.ListDepartments(r.Context(), orgID)
		if err != nil {
			writeRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"departments": deps})
	case http.MethodPost:
		if !requireCan(w, r, ability.ActionManage, ability.SubjectDepartment, scope) {
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		dep, err := a.rbac.CreateDepartment(r.Context(), orgID, req.Name)
		if err != nil {
			writeRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, dep)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrgUsers(w http.ResponseWriter, r *http.Request, orgID string, scope map[string]any) {
	switch r.Method {
	case http.MethodGet:
		if !requireCan(w, r, ability.ActionRead, ability.SubjectUser, scope) {
			return
		}
		users, err := a.rbac.ListUsers(r.Context(), orgID)
		if err != nil {
			writeRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		if !requireCan(w, r, ability.ActionInvite, ability.SubjectUser, scope) {
			return
		}
		var req struct {
			Email        string `json:"email"`
			Password     string `json:"password"`
			DepartmentID string `json:"department_id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		user, err := a.rbac.CreateUser(r.Context(), orgID, req.DepartmentID, req.Email, req.Password)
		if err != nil {
			writeRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user_created", map[string]any{"created_user_id": user.ID})
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrgRoles(w http.ResponseWriter, r *http.Request, orgID string, scope map[string]any) {
	switch r.Method {
	case http.MethodGet:
		if !requireCan(w, r, ability.ActionRead, ability.SubjectUser, scope) {
			return
		}
		roles, err := a.rbac.ListRoles(r.Context(), orgID)
		if err != nil {
			writeRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !requireCan(w, r, ability.ActionManage, ability.SubjectUser, scope) {
			return
		}
		var req struct {
			Name         string `json:"name"`
			Sector       string `json:"sector"`
			IsSystemRole bool   `json:"is_system_role"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), orgID, req.Name, req.Sector, req.IsSystemRole)
		if err != nil {
			writeRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role_created", map[string]any{"role_id": role.ID, "kind": string(role.Kind)})
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleUserScoped serves /v1/users/{id} plus role assignments and direct
// permission grants.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "user id required")
		return
	}
	userID := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			if !requireCan(w, r, ability.ActionRead, ability.SubjectUser, nil) {
				return
			}
			user, err := a.rbac.UserWithAccess(r.Context(), userID)
			if err != nil {
				writeRBACError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, user)
		case http.MethodDelete:
			if !requireCan(w, r, ability.ActionDelete, ability.SubjectUser, nil) {
				return
			}
			if err := a.rbac.DeleteUser(r.Context(), userID); err != nil {
				writeRBACError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "rbac.user_deleted", map[string]any{"deleted_user_id": userID})
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case parts[1] == "roles":
		a.handleUserRoles(w, r, userID, parts)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		if !requireCan(w, r, ability.ActionAssign, ability.SubjectUser, nil) {
			return
		}
		var req struct {
			RoleID string `json:"role_id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		assignment, err := a.rbac.AssignRoleToUser(r.Context(), userID, req.RoleID)
		if err != nil {
			writeRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role_assigned", map[string]any{
			"target_user_id": userID,
			"role_id":        req.RoleID,
		})
		writeJSON(w, http.StatusCreated, assignment)
	case len(parts) == 3 && r.Method == http.MethodDelete:
		if !requireCan(w, r, ability.ActionAssign, ability.SubjectUser, nil) {
			return
		}
		if err := a.rbac.RemoveRoleAssignment(r.Context(), userID, parts[2]); err != nil {
			writeRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role_removed", map[string]any{
			"target_user_id": userID,
			"role_id":        parts[2],
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !requireCan(w, r, ability.ActionManage, ability.SubjectUser, nil) {
		return
	}
	var req struct {
		Permissions []auth.Permission `json:"permissions"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := a.rbac.SetUserPermissions(r.Context(), userID, req.Permissions); err != nil {
		writeRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user_permissions_set", map[string]any{
		"target_user_id": userID,
		"count":          len(req.Permissions),
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleRoleScoped serves /v1/roles/{id}/permissions.
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "not_found", "unknown resource")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !requireCan(w, r, ability.ActionManage, ability.SubjectUser, nil) {
		return
	}
	var req struct {
		Permissions []auth.Permission `json:"permissions"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := a.rbac.SetRolePermissions(r.Context(), parts[0], req.Permissions); err != nil {
		writeRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role_permissions_set", map[string]any{
		"role_id": parts[0],
		"count":   len(req.Permissions),
	})
	w.WriteHeader(http.StatusNoContent)
}
