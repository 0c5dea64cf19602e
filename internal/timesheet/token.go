package timesheet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenStore manages opaque single-use QR tokens bound to timesheets. Only a
// successful terminal application consumes a token; failed scan attempts
// leave it resolvable so the user can retry.
type TokenStore interface {
	// Issue returns the active token for the timesheet, minting one when
	// none exists. One active token per timesheet at a time.
	Issue(ctx context.Context, timesheetID string, ttl time.Duration) (string, error)
	// Resolve maps a token back to its timesheet. ErrTokenUsed when it was
	// already consumed, ErrTokenMismatch when unknown or expired.
	Resolve(ctx context.Context, token string) (string, error)
	// Consume marks the token used; ErrTokenUsed when already consumed.
	Consume(ctx context.Context, token string) error
	// Release drops the active token for a timesheet, if any.
	Release(ctx context.Context, timesheetID string) error
}

type tokenRecord struct {
	timesheetID string
	used        bool
	expiresAt   time.Time
}

// MemoryTokenStore is the in-process TokenStore used in tests and
// single-node deployments.
type MemoryTokenStore struct {
	mu     sync.Mutex
	byTok  map[string]*tokenRecord
	active map[string]string // timesheetID -> token
	now    func() time.Time
}

// NewMemoryTokenStore creates an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		byTok:  make(map[string]*tokenRecord),
		active: make(map[string]string),
		now:    time.Now,
	}
}

func (s *MemoryTokenStore) Issue(ctx context.Context, timesheetID string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.active[timesheetID]; ok {
		rec := s.byTok[tok]
		if rec != nil && !rec.used && s.now().Before(rec.expiresAt) {
			return tok, nil
		}
		delete(s.active, timesheetID)
	}
	tok := uuid.NewString()
	s.byTok[tok] = &tokenRecord{timesheetID: timesheetID, expiresAt: s.now().Add(ttl)}
	s.active[timesheetID] = tok
	return tok, nil
}

func (s *MemoryTokenStore) Resolve(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byTok[token]
	if !ok {
		return "", ErrTokenMismatch
	}
	if rec.used {
		return "", ErrTokenUsed
	}
	if !s.now().Before(rec.expiresAt) {
		return "", ErrTokenMismatch
	}
	return rec.timesheetID, nil
}

func (s *MemoryTokenStore) Consume(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byTok[token]
	if !ok {
		return ErrTokenMismatch
	}
	if rec.used {
		return ErrTokenUsed
	}
	rec.used = true
	delete(s.active, rec.timesheetID)
	return nil
}

func (s *MemoryTokenStore) Release(ctx context.Context, timesheetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.active[timesheetID]; ok {
		delete(s.byTok, tok)
		delete(s.active, timesheetID)
	}
	return nil
}
