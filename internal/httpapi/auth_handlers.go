package httpapi

import (
	"net/http"
	"time"

	"wyecare.org/internal/audit"
	"wyecare.org/internal/auth"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
}

// handleAuthToken exchanges email/password for a signed bearer token.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	user, err := a.rbac.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login_failed", map[string]any{"email": req.Email})
		writeRBACError(w, r, err)
		return
	}
	token, expires, err := a.tokens.Generate(&user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "could not issue token")
		return
	}
	ctx := auth.ContextWithUser(r.Context(), &user)
	_ = audit.LogEvent(ctx, "auth.login", nil)
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expires, UserID: user.ID})
}
