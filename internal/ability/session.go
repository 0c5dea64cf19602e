package ability

import (
	"context"
	"errors"
	"sync"

	"wyecare.org/internal/auth"
)

// ErrNoSession is returned when an ability is requested outside a session
// scope. This is a contract violation by the caller, not a recoverable
// runtime condition, so it is surfaced instead of silently denying.
var ErrNoSession = errors.New("ability: no session in scope")

// Session holds the Ability for one authenticated session and rebuilds it
// whenever the observed user identity changes. Constructed with a nil user
// it starts in the unauthenticated state.
type Session struct {
	mu      sync.RWMutex
	userID  string
	ability *Ability
}

// NewSession builds a session for the given user (nil for unauthenticated).
func NewSession(user *auth.User) *Session {
	s := &Session{ability: Build(nil)}
	if user != nil {
		s.userID = user.ID
		s.ability = Build(user)
	}
	return s
}

// SetUser swaps the session user. The ability is rebuilt only when the
// identity actually changes; repeated delivery of the same user is a no-op.
func (s *Session) SetUser(user *auth.User) {
	id := ""
	if user != nil {
		id = user.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.userID && s.ability != nil && (user == nil) == (s.userID == "") {
		return
	}
	s.userID = id
	s.ability = Build(user)
}

// Ability returns the current compiled ability.
func (s *Session) Ability() *Ability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ability
}

type sessionContextKey struct{}

// ContextWithSession attaches the session to the context for downstream
// permission checks.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext returns the session's ability, or ErrNoSession when called
// outside a session scope.
func FromContext(ctx context.Context) (*Ability, error) {
	if ctx == nil {
		return nil, ErrNoSession
	}
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || s == nil {
		return nil, ErrNoSession
	}
	return s.Ability(), nil
}
