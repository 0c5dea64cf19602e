package httpapi

import (
	"net/http"
	"strings"

	"wyecare.org/internal/ability"
	"wyecare.org/internal/auth"
)

// publicPaths can be reached without a bearer token.
var publicPaths = map[string]bool{
	"/":              true,
	"/healthz":       true,
	"/readyz":        true,
	"/metrics":       true,
	"/v1/info":       true,
	"/v1/auth/token": true,
}

// withAuth authenticates bearer tokens, loads the caller with their full
// access profile and installs both the user and a compiled ability session
// on the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		claims, err := a.tokens.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		user, err := a.rbac.UserWithAccess(r.Context(), claims.Subject)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "unknown subject")
			return
		}

		sess := ability.NewSession(&user)
		ctx := auth.ContextWithUser(r.Context(), &user)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = ability.ContextWithSession(ctx, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingAuth
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errMalformedAuth
	}
	return parts[1], nil
}

var (
	errMissingAuth   = authError("missing Authorization header")
	errMalformedAuth = authError("malformed Authorization header")
)

type authError string

func (e authError) Error() string { return string(e) }

// requireCan checks the session ability for the caller and writes a 403
// when the check fails. Returns true when the request may proceed.
func requireCan(w http.ResponseWriter, r *http.Request, action ability.Action, subject ability.Subject, data map[string]any) bool {
	ab, err := ability.FromContext(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "no session")
		return false
	}
	if !ab.Can(action, subject, data) {
		writeError(w, r, http.StatusForbidden, "forbidden", "not permitted")
		return false
	}
	return true
}
