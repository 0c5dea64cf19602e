package timesheet

import "errors"

// Guard violations are sentinel errors so callers can map each to a stable
// reason code, distinguishable from transport failures. They all represent
// a single atomic refusal; no partial mutation happens.
var (
	ErrNotFound = errors.New("timesheet: not found")

	// Approval/rejection guards.
	ErrAlreadyApproved = errors.New("timesheet: already approved")
	ErrNotPending      = errors.New("timesheet: not pending")
	ErrSelfApproval    = errors.New("timesheet: carers cannot approve their own timesheet")
	ErrActorRole       = errors.New("timesheet: actor role not permitted")
	ErrActorOrg        = errors.New("timesheet: actor belongs to a different organization")

	// Evidence validation.
	ErrEvidenceRequired = errors.New("timesheet: approval evidence required")
	ErrEvidenceConflict = errors.New("timesheet: exactly one evidence payload allowed")
	ErrSignerName       = errors.New("timesheet: signer name required")
	ErrSignerRole       = errors.New("timesheet: signer role not recognized")
	ErrSignatureEmpty   = errors.New("timesheet: signature image has no strokes")

	// Invalidate/delete guards.
	ErrNotFinalized    = errors.New("timesheet: only approved or rejected timesheets can be invalidated")
	ErrNotInvalidated  = errors.New("timesheet: approved or rejected timesheets must be invalidated before deletion")

	// QR protocol. ErrTokenMismatch is retryable (rescan); ErrTokenUsed is
	// terminal for the session (the code was already consumed).
	ErrTokenMismatch = errors.New("timesheet: qr token does not match any pending timesheet")
	ErrTokenUsed     = errors.New("timesheet: qr token already used")
	ErrScanActive    = errors.New("timesheet: a scan session is already active for this timesheet")

	// Invoice lifecycle.
	ErrInvoiceTransition = errors.New("timesheet: invoice status transition not permitted")
)

// ReasonCode maps a guard violation to its stable wire code; empty for
// errors that are not guard violations.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyApproved):
		return "already_approved"
	case errors.Is(err, ErrNotPending):
		return "not_pending"
	case errors.Is(err, ErrSelfApproval):
		return "self_approval"
	case errors.Is(err, ErrActorRole):
		return "actor_role"
	case errors.Is(err, ErrActorOrg):
		return "actor_org"
	case errors.Is(err, ErrEvidenceRequired):
		return "evidence_required"
	case errors.Is(err, ErrEvidenceConflict):
		return "evidence_conflict"
	case errors.Is(err, ErrSignerName):
		return "signer_name_required"
	case errors.Is(err, ErrSignerRole):
		return "signer_role_invalid"
	case errors.Is(err, ErrSignatureEmpty):
		return "signature_empty"
	case errors.Is(err, ErrNotFinalized):
		return "not_finalized"
	case errors.Is(err, ErrNotInvalidated):
		return "not_invalidated"
	case errors.Is(err, ErrTokenMismatch):
		return "token_mismatch"
	case errors.Is(err, ErrTokenUsed):
		return "token_used"
	case errors.Is(err, ErrScanActive):
		return "scan_active"
	case errors.Is(err, ErrInvoiceTransition):
		return "invoice_transition"
	default:
		return ""
	}
}
