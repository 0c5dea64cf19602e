package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"wyecare.org/internal/auth"
	"wyecare.org/internal/ids"
	"wyecare.org/internal/obs"
	"wyecare.org/internal/stream"
	"wyecare.org/internal/timesheet"
)

// TimesheetStore is the durable timesheet.Service. Transitions lock the row
// with select ... for update so the database stays the sole arbiter of the
// approved-once invariant across replicas.
type TimesheetStore struct {
	db     *sql.DB
	tokens timesheet.TokenStore
	events *stream.Stream
	now    func() time.Time
	ttl    time.Duration
}

var _ timesheet.Service = (*TimesheetStore)(nil)

// TimesheetOption configures TimesheetStore.
type TimesheetOption func(*TimesheetStore)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TimesheetOption {
	return func(s *TimesheetStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTokenTTL overrides how long issued scan tokens stay valid.
func WithTokenTTL(ttl time.Duration) TimesheetOption {
	return func(s *TimesheetStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewTimesheetStore wires the store. tokens and events may not be nil;
// production deployments pass the Redis token store so single-use holds
// across instances.
func NewTimesheetStore(db *sql.DB, tokens timesheet.TokenStore, events *stream.Stream, opts ...TimesheetOption) *TimesheetStore {
	s := &TimesheetStore{
		db:     db,
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

const timesheetColumns = `id, shift_schedule_id, carer_id, home_organization_id,
	coalesce(agency_organization_id, ''), status, invoice_status, attendance,
	signature, coalesce(qr_token, ''), rating, coalesce(review, ''), is_holiday,
	shift, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimesheet(row rowScanner) (timesheet.Timesheet, error) {
	var (
		ts            timesheet.Timesheet
		attendanceRaw []byte
		signatureRaw  []byte
		shiftRaw      []byte
		rating        sql.NullInt64
	)
	err := row.Scan(
		&ts.ID, &ts.ShiftScheduleID, &ts.CarerID, &ts.HomeOrgID,
		&ts.AgencyOrgID, &ts.Status, &ts.InvoiceStatus, &attendanceRaw,
		&signatureRaw, &ts.QRToken, &rating, &ts.Review, &ts.IsHoliday,
		&shiftRaw, &ts.CreatedAt, &ts.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return timesheet.Timesheet{}, timesheet.ErrNotFound
	}
	if err != nil {
		return timesheet.Timesheet{}, err
	}
	if len(attendanceRaw) > 0 {
		if err := json.Unmarshal(attendanceRaw, &ts.Attendance); err != nil {
			return timesheet.Timesheet{}, err
		}
	}
	if len(signatureRaw) > 0 {
		var sig timesheet.Signature
		if err := json.Unmarshal(signatureRaw, &sig); err != nil {
			return timesheet.Timesheet{}, err
		}
		ts.Signature = &sig
	}
	if len(shiftRaw) > 0 {
		if err := json.Unmarshal(shiftRaw, &ts.Shift); err != nil {
			return timesheet.Timesheet{}, err
		}
	}
	if rating.Valid {
		v := int(rating.Int64)
		ts.Rating = &v
	}
	return ts, nil
}

func (s *TimesheetStore) Create(ctx context.Context, in timesheet.CreateInput) (timesheet.Timesheet, error) {
	if strings.TrimSpace(in.ShiftScheduleID) == "" ||
		strings.TrimSpace(in.CarerID) == "" ||
		strings.TrimSpace(in.HomeOrgID) == "" {
		return timesheet.Timesheet{}, timesheet.ErrNotFound
	}
	now := s.now().UTC()
	ts := timesheet.Timesheet{
		ID:              ids.New(),
		ShiftScheduleID: in.ShiftScheduleID,
		CarerID:         in.CarerID,
		HomeOrgID:       in.HomeOrgID,
		AgencyOrgID:     in.AgencyOrgID,
		Status:          timesheet.StatusPending,
		InvoiceStatus:   timesheet.InvoiceDraft,
		Attendance:      in.Attendance,
		IsHoliday:       in.IsHoliday,
		Shift:           in.Shift,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	attendance, err := json.Marshal(ts.Attendance)
	if err != nil {
		return timesheet.Timesheet{}, err
	}
	shift, err := json.Marshal(ts.Shift)
	if err != nil {
		return timesheet.Timesheet{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into timesheets(
			id, shift_schedule_id, carer_id, home_organization_id,
			agency_organization_id, status, invoice_status, attendance,
			is_holiday, shift, created_at, updated_at)
		values ($1,$2,$3,$4,nullif($5,''),$6,$7,$8,$9,$10,$11,$12)
	`, ts.ID, ts.ShiftScheduleID, ts.CarerID, ts.HomeOrgID, ts.AgencyOrgID,
		ts.Status, ts.InvoiceStatus, attendance, ts.IsHoliday, shift,
		ts.CreatedAt, ts.UpdatedAt)
	if err != nil {
		return timesheet.Timesheet{}, err
	}
	return ts, nil
}

func (s *TimesheetStore) Get(ctx context.Context, id string) (timesheet.Timesheet, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+timesheetColumns+` from timesheets where id=$1`, id)
	return scanTimesheet(row)
}

func (s *TimesheetStore) List(ctx context.Context, f timesheet.ListFilter) ([]timesheet.Timesheet, error) {
	query := `select ` + timesheetColumns + ` from timesheets where 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.OrganizationID != "" {
		p := arg(f.OrganizationID)
		query += ` and (home_organization_id=` + p + ` or agency_organization_id=` + p + `)`
	}
	if f.CarerID != "" {
		query += ` and carer_id=` + arg(f.CarerID)
	}
	if f.Status != "" {
		query += ` and status=` + arg(string(f.Status))
	}
	if f.InvoiceStatus != "" {
		query += ` and invoice_status=` + arg(string(f.InvoiceStatus))
	}
	if f.From != "" {
		query += ` and shift->>'date' >= ` + arg(f.From)
	}
	if f.To != "" {
		query += ` and shift->>'date' <= ` + arg(f.To)
	}
	query += ` order by id asc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []timesheet.Timesheet{}
	for rows.Next() {
		ts, err := scanTimesheet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// transition loads the row under lock, applies fn, and persists the result.
func (s *TimesheetStore) transition(ctx context.Context, id string, fn func(*timesheet.Timesheet) error) (timesheet.Timesheet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return timesheet.Timesheet{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`select `+timesheetColumns+` from timesheets where id=$1 for update`, id)
	ts, err := scanTimesheet(row)
	if err != nil {
		return timesheet.Timesheet{}, err
	}
	if err := fn(&ts); err != nil {
		return timesheet.Timesheet{}, err
	}

	signature, err := nullJSON(ts.Signature)
	if err != nil {
		return timesheet.Timesheet{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update timesheets
		set status=$2, invoice_status=$3, signature=$4,
			qr_token=nullif($5,''), review=$6, updated_at=$7
		where id=$1
	`, ts.ID, ts.Status, ts.InvoiceStatus, signature, ts.QRToken, ts.Review, ts.UpdatedAt); err != nil {
		return timesheet.Timesheet{}, err
	}
	if err := tx.Commit(); err != nil {
		return timesheet.Timesheet{}, err
	}
	return ts, nil
}

func (s *TimesheetStore) ApproveWithSignature(ctx context.Context, id string, actor *auth.User, sig timesheet.Signature) (timesheet.Timesheet, error) {
	ts, err := s.transition(ctx, id, func(ts *timesheet.Timesheet) error {
		return timesheet.ApplyApprove(ts, actor, &sig, "", s.now)
	})
	obs.ObserveTransition("approve", err == nil)
	return ts, err
}

func (s *TimesheetStore) Reject(ctx context.Context, id string, actor *auth.User, reason string) (timesheet.Timesheet, error) {
	ts, err := s.transition(ctx, id, func(ts *timesheet.Timesheet) error {
		if err := timesheet.PendingGuard(ts); err != nil {
			return err
		}
		if err := timesheet.ApproverGuard(ts, actor); err != nil {
			return err
		}
		ts.Status = timesheet.StatusRejected
		if reason = strings.TrimSpace(reason); reason != "" {
			ts.Review = reason
		}
		ts.UpdatedAt = s.now().UTC()
		return nil
	})
	obs.ObserveTransition("reject", err == nil)
	return ts, err
}

func (s *TimesheetStore) Invalidate(ctx context.Context, id string, actor *auth.User) (timesheet.Timesheet, error) {
	ts, err := s.transition(ctx, id, func(ts *timesheet.Timesheet) error {
		if ts.Status != timesheet.StatusApproved && ts.Status != timesheet.StatusRejected {
			return timesheet.ErrNotFinalized
		}
		if !timesheet.IsAdminActor(actor) ||
			(actor.OrganizationID != ts.HomeOrgID && actor.OrganizationID != ts.AgencyOrgID) {
			return timesheet.ErrActorRole
		}
		ts.Status = timesheet.StatusInvalidated
		ts.UpdatedAt = s.now().UTC()
		return nil
	})
	obs.ObserveTransition("invalidate", err == nil)
	return ts, err
}

func (s *TimesheetStore) Delete(ctx context.Context, id string, actor *auth.User) error {
	if !timesheet.IsAdminActor(actor) {
		obs.ObserveTransition("delete", false)
		return timesheet.ErrActorRole
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`select `+timesheetColumns+` from timesheets where id=$1 for update`, id)
	ts, err := scanTimesheet(row)
	if err != nil {
		obs.ObserveTransition("delete", false)
		return err
	}
	if !ts.Deletable() {
		obs.ObserveTransition("delete", false)
		return timesheet.ErrNotInvalidated
	}
	if _, err := tx.ExecContext(ctx, `delete from timesheets where id=$1`, id); err != nil {
		obs.ObserveTransition("delete", false)
		return err
	}
	if err := tx.Commit(); err != nil {
		obs.ObserveTransition("delete", false)
		return err
	}
	_ = s.tokens.Release(ctx, id)
	obs.ObserveTransition("delete", true)
	return nil
}

func (s *TimesheetStore) SetInvoiceStatus(ctx context.Context, id string, next timesheet.InvoiceStatus) (timesheet.Timesheet, error) {
	return s.transition(ctx, id, func(ts *timesheet.Timesheet) error {
		if !timesheet.ValidInvoiceTransition(ts.InvoiceStatus, next) {
			return timesheet.ErrInvoiceTransition
		}
		ts.InvoiceStatus = next
		ts.UpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *TimesheetStore) TokenForQR(ctx context.Context, id string) (string, error) {
	ts, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if err := timesheet.PendingGuard(&ts); err != nil {
		return "", err
	}
	return s.tokens.Issue(ctx, id, s.ttl)
}

func (s *TimesheetStore) SubmitScan(ctx context.Context, token string, actor *auth.User) (timesheet.Timesheet, error) {
	tsID, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		s.publishScanFailure(token, "", err)
		obs.ObserveTransition("scan", false)
		return timesheet.Timesheet{}, err
	}

	ts, err := s.transition(ctx, tsID, func(ts *timesheet.Timesheet) error {
		return timesheet.ApplyApprove(ts, actor, nil, token, s.now)
	})
	if err != nil {
		if errors.Is(err, timesheet.ErrAlreadyApproved) || errors.Is(err, timesheet.ErrNotPending) {
			s.publishScanFailure(token, tsID, err)
		}
		obs.ObserveTransition("scan", false)
		return timesheet.Timesheet{}, err
	}

	if err := s.tokens.Consume(ctx, token); err != nil {
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
	return ts, nil
}

func (s *TimesheetStore) publishScanFailure(token, tsID string, err error) {
	if s.events == nil {
		return
	}
	if !errors.Is(err, timesheet.ErrTokenUsed) &&
		!errors.Is(err, timesheet.ErrAlreadyApproved) &&
		!errors.Is(err, timesheet.ErrNotPending) {
		return
	}
	s.events.Publish(stream.ScanEvent{
		Token:       token,
		Status:      stream.ScanFailure,
		TimesheetID: tsID,
		Reason:      timesheet.ReasonCode(err),
	})
}

func nullJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if sig, ok := v.(*timesheet.Signature); ok && sig == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
