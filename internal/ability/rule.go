// Package ability implements attribute-based access control: per-role rule
// templates are compiled into an immutable Ability whose Can method answers
// (action, subject, data) checks. Rule order is significant; the last
// matching rule wins, so cannot-rules declared after a can-rule narrow it.
package ability

import "strings"

// Action is the closed verb set rules may reference.
type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionManage   Action = "manage" // matches every action
	ActionInvite   Action = "invite"
	ActionAssign   Action = "assign"
	ActionApprove  Action = "approve"
	ActionExport   Action = "export"
	ActionSchedule Action = "schedule"
)

// Subject is the closed set of domain nouns rules may reference.
type Subject string

const (
	SubjectAll           Subject = "all" // matches every subject
	SubjectUser          Subject = "User"
	SubjectOrganization  Subject = "Organization"
	SubjectDepartment    Subject = "Department"
	SubjectPatient       Subject = "Patient"
	SubjectMedicalRecord Subject = "MedicalRecord"
	SubjectAppointment   Subject = "Appointment"
	SubjectLabReport     Subject = "LabReport"
	SubjectInvoice       Subject = "Invoice"
	SubjectTimesheet     Subject = "Timesheet"
	SubjectShiftSchedule Subject = "ShiftSchedule"
	SubjectAuditLog      Subject = "AuditLog"
)

var actions = map[Action]struct{}{
	ActionCreate: {}, ActionRead: {}, ActionUpdate: {}, ActionDelete: {},
	ActionManage: {}, ActionInvite: {}, ActionAssign: {}, ActionApprove: {},
	ActionExport: {}, ActionSchedule: {},
}

var subjects = map[Subject]struct{}{
	SubjectAll: {}, SubjectUser: {}, SubjectOrganization: {}, SubjectDepartment: {},
	SubjectPatient: {}, SubjectMedicalRecord: {}, SubjectAppointment: {},
	SubjectLabReport: {}, SubjectInvoice: {}, SubjectTimesheet: {},
	SubjectShiftSchedule: {}, SubjectAuditLog: {},
}

// KnownAction reports whether a is part of the closed action enum.
func KnownAction(a Action) bool {
	_, ok := actions[a]
	return ok
}

// KnownSubject reports whether s is part of the closed subject enum.
func KnownSubject(s Subject) bool {
	_, ok := subjects[s]
	return ok
}

// Actions returns the closed action enum in a stable order.
func Actions() []Action {
	return []Action{
		ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage,
		ActionInvite, ActionAssign, ActionApprove, ActionExport, ActionSchedule,
	}
}

// Subjects returns the closed subject enum in a stable order.
func Subjects() []Subject {
	return []Subject{
		SubjectAll, SubjectUser, SubjectOrganization, SubjectDepartment,
		SubjectPatient, SubjectMedicalRecord, SubjectAppointment,
		SubjectLabReport, SubjectInvoice, SubjectTimesheet,
		SubjectShiftSchedule, SubjectAuditLog,
	}
}

// Conditions restrict when a rule applies. Keys are field paths into the data
// map (dots descend into nested maps); values are either a literal to compare
// for equality or an operator form using exactly one of $ne, $in, $exists.
// This is deliberately not a general query language.
type Conditions map[string]any

// Rule is one compiled can/cannot entry.
type Rule struct {
	Action     Action
	Subject    Subject
	Conditions Conditions
	Inverted   bool // true marks a cannot-rule
	Fields     []string
}

func (r Rule) matches(action Action, subject Subject, data map[string]any) bool {
	if r.Action != ActionManage && r.Action != action {
		return false
	}
	if r.Subject != SubjectAll && r.Subject != subject {
		return false
	}
	if len(r.Conditions) == 0 {
		return true
	}
	if data == nil {
		return false
	}
	return r.Conditions.Match(data)
}

// Match reports whether every condition holds against data.
func (c Conditions) Match(data map[string]any) bool {
	for path, want := range c {
		value, present := lookupPath(data, path)
		if !matchCondition(want, value, present) {
			return false
		}
	}
	return true
}

func matchCondition(want, value any, present bool) bool {
	if op, ok := want.(map[string]any); ok {
		if len(op) == 1 {
			for key, arg := range op {
				switch key {
				case "$ne":
					return !present || !looseEqual(value, arg)
				case "$in":
					return present && containsLoose(arg, value)
				case "$exists":
					expect, _ := arg.(bool)
					return present == expect
				}
			}
		}
		// Nested maps without a recognized operator compare structurally.
	}
	return present && looseEqual(value, want)
}

func lookupPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func containsLoose(list, value any) bool {
	switch items := list.(type) {
	case []any:
		for _, item := range items {
			if looseEqual(value, item) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if looseEqual(value, item) {
				return true
			}
		}
	}
	return false
}

// looseEqual compares scalars with numeric widening so values decoded from
// JSON (float64) compare equal to native ints.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
