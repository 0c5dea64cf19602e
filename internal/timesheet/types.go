// Package timesheet implements the timesheet lifecycle: a guarded status
// state machine (pending → approved/rejected → invalidated → deleted) with
// two approval evidence protocols, QR scan and captured signature.
package timesheet

import "time"

// Status is the primary lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusInvalidated Status = "invalidated"
)

// InvoiceStatus is the secondary billing lifecycle, advanced only by
// invoicing and independent of the approval status.
type InvoiceStatus string

const (
	InvoiceDraft    InvoiceStatus = "draft"
	InvoicePending  InvoiceStatus = "pending_invoice"
	InvoiceInvoiced InvoiceStatus = "invoiced"
	InvoicePaid     InvoiceStatus = "paid"
	InvoiceApproved InvoiceStatus = "approved"
)

// SignerRole is the fixed set of roles allowed to sign a timesheet.
type SignerRole string

const (
	SignerAdmin       SignerRole = "admin"
	SignerManager     SignerRole = "manager"
	SignerNurse       SignerRole = "nurse"
	SignerSeniorCarer SignerRole = "senior-carer"
)

// ValidSignerRole reports whether r is one of the enumerated signer roles.
func ValidSignerRole(r SignerRole) bool {
	switch r {
	case SignerAdmin, SignerManager, SignerNurse, SignerSeniorCarer:
		return true
	}
	return false
}

// Signature is the captured-signature approval evidence.
type Signature struct {
	ImageData   string     `json:"imageData,omitempty"`
	SignerName  string     `json:"signerName"`
	SignerRole  SignerRole `json:"signerRole"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
}

// Attendance records sign-in/out times against the shift.
type Attendance struct {
	SignInTime  *time.Time `json:"signInTime,omitempty"`
	SignOutTime *time.Time `json:"signOutTime,omitempty"`
}

// ShiftTiming is the clock-time window of the shift. Times use the 24h
// "15:04" form; an end before the start means the shift wraps past midnight.
type ShiftTiming struct {
	StartTime     string   `json:"startTime"`
	EndTime       string   `json:"endTime"`
	BreakHours    *float64 `json:"breakHours,omitempty"`
	BillableHours *float64 `json:"billableHours,omitempty"`
}

// Rate is one row of a shift pattern's rate table: four rates per carer role.
type Rate struct {
	CarerRole             string  `json:"carerRole"`
	WeekdayRate           float64 `json:"weekdayRate"`
	WeekendRate           float64 `json:"weekendRate"`
	EmergencyWeekdayRate  float64 `json:"emergencyWeekdayRate"`
	EmergencyWeekendRate  float64 `json:"emergencyWeekendRate"`
}

// Shift is the snapshot of the shift schedule a timesheet was worked
// against. The scheduling subsystem owns the live record; the timesheet
// machine reads this copy and never writes it back.
type Shift struct {
	ID             string      `json:"id"`
	ShiftTypeID    string      `json:"shiftTypeId,omitempty"`
	PatternID      string      `json:"shiftPatternId,omitempty"`
	DepartmentID   string      `json:"departmentId,omitempty"`
	OrganizationID string      `json:"organizationId,omitempty"`
	Date           string      `json:"date"` // "2006-01-02"
	Timing         ShiftTiming `json:"timing"`
	CarerRole      string      `json:"carerRole,omitempty"`
	IsEmergency    bool        `json:"isEmergency"`
	IsConfirmed    bool        `json:"isConfirmed"`
	Rates          []Rate      `json:"rates,omitempty"`
}

// Timesheet is one record of worked time pending or approved for payment.
// Approval evidence is exactly one of Signature or QRToken.
type Timesheet struct {
	ID              string        `json:"id"`
	ShiftScheduleID string        `json:"shiftScheduleId"`
	CarerID         string        `json:"carerId"`
	// HomeOrgID is the receiving organization (hospital or care home);
	// AgencyOrgID is the staffing agency side, when the carer is agency
	// supplied.
	HomeOrgID   string        `json:"homeOrganizationId"`
	AgencyOrgID string        `json:"agencyOrganizationId,omitempty"`
	Status      Status        `json:"status"`
	InvoiceStatus InvoiceStatus `json:"invoiceStatus"`
	Attendance  Attendance    `json:"attendance"`
	Signature   *Signature    `json:"signature,omitempty"`
	QRToken     string        `json:"tokenForQrCode,omitempty"`
	Rating      *int          `json:"rating,omitempty"`
	Review      string        `json:"review,omitempty"`
	IsHoliday   bool          `json:"isHoliday,omitempty"`
	Shift       Shift         `json:"shift"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Deletable reports whether the state machine permits removal: only pending
// timesheets and invalidated ones may be deleted; an approved or rejected
// timesheet must be invalidated first.
func (t *Timesheet) Deletable() bool {
	return t.Status == StatusPending || t.Status == StatusInvalidated
}
