// Package audit emits structured audit events for security-relevant actions:
// authentication, permission changes, timesheet transitions.
package audit

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"wyecare.org/internal/auth"
	"wyecare.org/internal/obs"
)

type ctxKey struct{}

var (
	mu     sync.RWMutex
	custom *zap.Logger
)

// SetLogger overrides the destination logger. Tests use this with an
// observer core; a nil logger restores the shared one.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	custom = l
	mu.Unlock()
}

func activeLogger() *zap.Logger {
	mu.RLock()
	l := custom
	mu.RUnlock()
	if l != nil {
		return l
	}
	return obs.Logger()
}

// WithRequestID attaches the request identifier to the context so audit
// entries can be correlated with access logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and actor context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zfields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		zfields = append(zfields, zap.String("request_id", rid))
	}
	if user, ok := auth.UserFromContext(ctx); ok {
		zfields = append(zfields,
			zap.String("user_id", user.ID),
			zap.String("organization_id", user.OrganizationID),
		)
	}
	if len(fields) > 0 {
		zfields = append(zfields, zap.Any("fields", fields))
	}
	activeLogger().Info("audit", zfields...)
	return nil
}
