package timesheet

import (
	"strings"
	"time"

	"wyecare.org/internal/auth"
)

// ApproverGuard enforces the shared approve/reject actor conditions: an
// admin, nurse or manager of the receiving organization who is not the
// timesheet's own carer.
func ApproverGuard(ts *Timesheet, actor *auth.User) error {
	if actor == nil {
		return ErrActorRole
	}
	if actor.ID == ts.CarerID {
		return ErrSelfApproval
	}
	if !IsAdminActor(actor) && !actor.HasRoleKind(auth.RoleKindNurse) && !actor.HasRoleKind(auth.RoleKindManager) {
		return ErrActorRole
	}
	if actor.OrganizationID != ts.HomeOrgID {
		return ErrActorOrg
	}
	return nil
}

// IsAdminActor reports whether the actor is an organization admin or a
// system super admin.
func IsAdminActor(actor *auth.User) bool {
	if actor == nil {
		return false
	}
	if actor.HasRoleKind(auth.RoleKindOrgAdmin) {
		return true
	}
	for _, r := range actor.Roles {
		if r.Kind == auth.RoleKindSuperAdmin && r.IsSystemRole {
			return true
		}
	}
	return false
}

// PendingGuard refuses transitions off a non-pending timesheet, naming the
// already-approved case distinctly.
func PendingGuard(ts *Timesheet) error {
	switch ts.Status {
	case StatusPending:
		return nil
	case StatusApproved:
		return ErrAlreadyApproved
	default:
		return ErrNotPending
	}
}

// ValidateSignature checks the captured-signature evidence payload.
func ValidateSignature(sig Signature) error {
	if strings.TrimSpace(sig.SignerName) == "" {
		return ErrSignerName
	}
	if !ValidSignerRole(sig.SignerRole) {
		return ErrSignerRole
	}
	if strings.TrimSpace(sig.ImageData) == "" {
		return ErrSignatureEmpty
	}
	return nil
}

// ApplyApprove performs the approve transition in place with exactly one
// evidence payload. Nothing is mutated on failure; both the in-memory
// service and the pg store funnel through it so the guard semantics cannot
// drift.
func ApplyApprove(ts *Timesheet, actor *auth.User, sig *Signature, qrToken string, now func() time.Time) error {
	if err := PendingGuard(ts); err != nil {
		return err
	}
	if err := ApproverGuard(ts, actor); err != nil {
		return err
	}
	switch {
	case sig != nil && qrToken != "":
		return ErrEvidenceConflict
	case sig == nil && qrToken == "":
		return ErrEvidenceRequired
	case sig != nil:
		if err := ValidateSignature(*sig); err != nil {
			return err
		}
		sigCopy := *sig
		sigCopy.SignerName = strings.TrimSpace(sigCopy.SignerName)
		ts.Signature = &sigCopy
		ts.QRToken = ""
	default:
		ts.QRToken = qrToken
		ts.Signature = nil
	}
	ts.Status = StatusApproved
	ts.UpdatedAt = now().UTC()
	return nil
}

// InvoiceNext defines the only legal invoice-status progressions.
var InvoiceNext = map[InvoiceStatus][]InvoiceStatus{
	InvoiceDraft:    {InvoicePending},
	InvoicePending:  {InvoiceApproved, InvoiceInvoiced},
	InvoiceApproved: {InvoiceInvoiced},
	InvoiceInvoiced: {InvoicePaid},
}

// ValidInvoiceTransition reports whether from may advance to next.
func ValidInvoiceTransition(from, next InvoiceStatus) bool {
	for _, allowed := range InvoiceNext[from] {
		if allowed == next {
			return true
		}
	}
	return false
}
