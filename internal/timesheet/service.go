package timesheet

import (
	"context"
	"strings"
	"sync"
	"time"

	"wyecare.org/internal/auth"
	"wyecare.org/internal/ids"
	"wyecare.org/internal/obs"
	"wyecare.org/internal/stream"
)

// CreateInput carries the fields needed to open a pending timesheet.
type CreateInput struct {
	ShiftScheduleID string
	CarerID         string
	HomeOrgID       string
	AgencyOrgID     string
	Shift           Shift
	Attendance      Attendance
	IsHoliday       bool
}

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	OrganizationID string
	CarerID        string
	Status         Status
	InvoiceStatus  InvoiceStatus
	From, To       string // shift dates, "2006-01-02", inclusive
}

// Service defines timesheet lifecycle operations. The implementation is the
// sole arbiter of the approved-once invariant; callers must treat any local
// optimistic state as provisional until a call returns.
type Service interface {
	Create(ctx context.Context, in CreateInput) (Timesheet, error)
	Get(ctx context.Context, id string) (Timesheet, error)
	List(ctx context.Context, f ListFilter) ([]Timesheet, error)

	ApproveWithSignature(ctx context.Context, id string, actor *auth.User, sig Signature) (Timesheet, error)
	Reject(ctx context.Context, id string, actor *auth.User, reason string) (Timesheet, error)
	Invalidate(ctx context.Context, id string, actor *auth.User) (Timesheet, error)
	Delete(ctx context.Context, id string, actor *auth.User) error
	SetInvoiceStatus(ctx context.Context, id string, next InvoiceStatus) (Timesheet, error)

	// TokenForQR returns the opaque scan token bound to a pending
	// timesheet, minting one when none is active.
	TokenForQR(ctx context.Context, id string) (string, error)
	// SubmitScan resolves a scanned token and applies the approve
	// transition atomically. The outcome is also published on the scan
	// stream so the requester's awaiting device observes it.
	SubmitScan(ctx context.Context, token string, actor *auth.User) (Timesheet, error)
}

// InMemory implements Service with in-process concurrency safety. The pg
// store provides the durable implementation with identical guard semantics.
type InMemory struct {
	mu     sync.RWMutex
	sheets map[string]*Timesheet
	tokens TokenStore
	events *stream.Stream
	now    func() time.Time
	ttl    time.Duration
}

// Option configures InMemory.
type Option func(*InMemory)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTokenTTL overrides how long issued scan tokens stay valid.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *InMemory) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewInMemory creates a fresh service. tokens and events may not be nil.
func NewInMemory(tokens TokenStore, events *stream.Stream, opts ...Option) *InMemory {
	s := &InMemory{
		sheets: make(map[string]*Timesheet),
		tokens: tokens,
		events: events,
		now:    time.Now,
		ttl:    10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Create(ctx context.Context, in CreateInput) (Timesheet, error) {
	if strings.TrimSpace(in.ShiftScheduleID) == "" ||
		strings.TrimSpace(in.CarerID) == "" ||
		strings.TrimSpace(in.HomeOrgID) == "" {
		return Timesheet{}, ErrNotFound // no such shift context to open against
	}
	now := s.now().UTC()
	ts := &Timesheet{
		ID:              ids.New(),
		ShiftScheduleID: in.ShiftScheduleID,
		CarerID:         in.CarerID,
		HomeOrgID:       in.HomeOrgID,
		AgencyOrgID:     in.AgencyOrgID,
		Status:          StatusPending,
		InvoiceStatus:   InvoiceDraft,
		Attendance:      in.Attendance,
		IsHoliday:       in.IsHoliday,
		Shift:           in.Shift,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.mu.Lock()
	s.sheets[ts.ID] = ts
	s.mu.Unlock()
	return *ts, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.sheets[id]
	if !ok {
		return Timesheet{}, ErrNotFound
	}
	return *ts, nil
}

func (s *InMemory) List(ctx context.Context, f ListFilter) ([]Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Timesheet, 0, len(s.sheets))
	for _, ts := range s.sheets {
		if f.OrganizationID != "" && ts.HomeOrgID != f.OrganizationID && ts.AgencyOrgID != f.OrganizationID {
			continue
		}
		if f.CarerID != "" && ts.CarerID != f.CarerID {
			continue
		}
		if f.Status != "" && ts.Status != f.Status {
			continue
		}
		if f.InvoiceStatus != "" && ts.InvoiceStatus != f.InvoiceStatus {
			continue
		}
		if f.From != "" && ts.Shift.Date < f.From {
			continue
		}
		if f.To != "" && ts.Shift.Date > f.To {
			continue
		}
		out = append(out, *ts)
	}
	// ULIDs sort by creation time.
	sortByID(out)
	return out, nil
}

func sortByID(list []Timesheet) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].ID < list[j-1].ID; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func (s *InMemory) ApproveWithSignature(ctx context.Context, id string, actor *auth.User, sig Signature) (Timesheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.sheets[id]
	if !ok {
		obs.ObserveTransition("approve", false)
		return Timesheet{}, ErrNotFound
	}
	if err := ApplyApprove(ts, actor, &sig, "", s.now); err != nil {
		obs.ObserveTransition("approve", false)
		return Timesheet{}, err
	}
	obs.ObserveTransition("approve", true)
	return *ts, nil
}

func (s *InMemory) Reject(ctx context.Context, id string, actor *auth.User, reason string) (Timesheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.sheets[id]
	if !ok {
		obs.ObserveTransition("reject", false)
		return Timesheet{}, ErrNotFound
	}
	if err := PendingGuard(ts); err != nil {
		obs.ObserveTransition("reject", false)
		return Timesheet{}, err
	}
	if err := ApproverGuard(ts, actor); err != nil {
		obs.ObserveTransition("reject", false)
		return Timesheet{}, err
	}
	ts.Status = StatusRejected
	if reason = strings.TrimSpace(reason); reason != "" {
		ts.Review = reason
	}
	ts.UpdatedAt = s.now().UTC()
	obs.ObserveTransition("reject", true)
	return *ts, nil
}

func (s *InMemory) Invalidate(ctx context.Context, id string, actor *auth.User) (Timesheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.sheets[id]
	if !ok {
		obs.ObserveTransition("invalidate", false)
		return Timesheet{}, ErrNotFound
	}
	if ts.Status != StatusApproved && ts.Status != StatusRejected {
		obs.ObserveTransition("invalidate", false)
		return Timesheet{}, ErrNotFinalized
	}
	if !IsAdminActor(actor) || (actor.OrganizationID != ts.HomeOrgID && actor.OrganizationID != ts.AgencyOrgID) {
		obs.ObserveTransition("invalidate", false)
		return Timesheet{}, ErrActorRole
	}
	ts.Status = StatusInvalidated
	ts.UpdatedAt = s.now().UTC()
	obs.ObserveTransition("invalidate", true)
	return *ts, nil
}

func (s *InMemory) Delete(ctx context.Context, id string, actor *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.sheets[id]
	if !ok {
		obs.ObserveTransition("delete", false)
		return ErrNotFound
	}
	if !IsAdminActor(actor) {
		obs.ObserveTransition("delete", false)
		return ErrActorRole
	}
	if !ts.Deletable() {
		obs.ObserveTransition("delete", false)
		return ErrNotInvalidated
	}
	delete(s.sheets, id)
	_ = s.tokens.Release(ctx, id)
	obs.ObserveTransition("delete", true)
	return nil
}

func (s *InMemory) SetInvoiceStatus(ctx context.Context, id string, next InvoiceStatus) (Timesheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.sheets[id]
	if !ok {
		return Timesheet{}, ErrNotFound
	}
	if !ValidInvoiceTransition(ts.InvoiceStatus, next) {
		return Timesheet{}, ErrInvoiceTransition
	}
	ts.InvoiceStatus = next
	ts.UpdatedAt = s.now().UTC()
	return *ts, nil
}

func (s *InMemory) TokenForQR(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	ts, ok := s.sheets[id]
	if !ok {
		s.mu.RUnlock()
		return "", ErrNotFound
	}
	status := ts.Status
	s.mu.RUnlock()
	if status != StatusPending {
		if status == StatusApproved {
			return "", ErrAlreadyApproved
		}
		return "", ErrNotPending
	}
	return s.tokens.Issue(ctx, id, s.ttl)
}

func (s *InMemory) SubmitScan(ctx context.Context, token string, actor *auth.User) (Timesheet, error) {
	tsID, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		s.publishScanFailure(token, "", err)
		obs.ObserveTransition("scan", false)
		return Timesheet{}, err
	}

	s.mu.Lock()
	ts, ok := s.sheets[tsID]
	if !ok {
		s.mu.Unlock()
		s.publishScanFailure(token, tsID, ErrTokenMismatch)
		obs.ObserveTransition("scan", false)
		return Timesheet{}, ErrTokenMismatch
	}
	if err := ApplyApprove(ts, actor, nil, token, s.now); err != nil {
		s.mu.Unlock()
		// Guard failures leave the token resolvable: only a successful
		// terminal application consumes it. Terminal-state failures are
		// pushed so the awaiting device stops its session.
		if err == ErrAlreadyApproved || err == ErrNotPending {
			s.publishScanFailure(token, tsID, err)
		}
		obs.ObserveTransition("scan", false)
		return Timesheet{}, err
	}
	result := *ts
	s.mu.Unlock()

	if err := s.tokens.Consume(ctx, token); err != nil {
		// The transition already happened under the lock; a consume race
		// can only mean a concurrent scan lost, which pendingGuard
		// prevented. Log-level concern, not a caller error.
		obs.Logger().Warn("scan token consume after approve failed")
	}
	if s.events != nil {
		s.events.Publish(stream.ScanEvent{
			Token:       token,
			Status:      stream.ScanSuccess,
			TimesheetID: tsID,
		})
	}
	obs.ObserveTransition("scan", true)
	return result, nil
}

func (s *InMemory) publishScanFailure(token, tsID string, err error) {
	if s.events == nil {
		return
	}
	// Retryable failures (mismatch, actor guards) do not end the session,
	// so no terminal event is pushed for them.
	if err != ErrTokenUsed && err != ErrAlreadyApproved && err != ErrNotPending {
		return
	}
	s.events.Publish(stream.ScanEvent{
		Token:       token,
		Status:      stream.ScanFailure,
		TimesheetID: tsID,
		Reason:      ReasonCode(err),
	})
}
