package ability

import (
	"net/http"
	"strings"
)

// Pick is the conditional-render primitive: it returns allowed when the
// ability permits the check and fallback otherwise. It carries no logic of
// its own beyond delegating to Can.
func Pick[T any](a *Ability, action Action, subject Subject, data map[string]any, allowed, fallback T) T {
	if Check(a, action, subject, data) {
		return allowed
	}
	return fallback
}

// DefaultRedirect is where the route guard sends denied browser requests.
const DefaultRedirect = "/unauthorized"

// GuardOption configures RequireCan.
type GuardOption func(*guard)

type guard struct {
	redirect string
	data     func(*http.Request) map[string]any
}

// WithRedirect overrides the denial redirect target.
func WithRedirect(target string) GuardOption {
	return func(g *guard) {
		if target != "" {
			g.redirect = target
		}
	}
}

// WithSubjectData supplies per-request subject data for the check.
func WithSubjectData(fn func(*http.Request) map[string]any) GuardOption {
	return func(g *guard) {
		g.data = fn
	}
}

// RequireCan guards a route behind an ability check. The ability comes from
// the request context session; a missing session counts as a denial. The
// check runs exactly once per request. Browser requests are redirected,
// API requests get a 403 — the route below never renders on denial.
func RequireCan(action Action, subject Subject, next http.Handler, opts ...GuardOption) http.Handler {
	g := &guard{redirect: DefaultRedirect}
	for _, opt := range opts {
		opt(g)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ab, err := FromContext(r.Context())
		if err != nil {
			deny(w, r, g.redirect)
			return
		}
		var data map[string]any
		if g.data != nil {
			data = g.data(r)
		}
		if !Check(ab, action, subject, data) {
			deny(w, r, g.redirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, r *http.Request, redirect string) {
	if wantsHTML(r) {
		http.Redirect(w, r, redirect, http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"forbidden"}`))
}

func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}
