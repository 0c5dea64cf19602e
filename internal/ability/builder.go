package ability

import (
	"strings"

	"wyecare.org/internal/auth"
)

// Medical record types withheld from non-clinical staff. These lists encode
// compliance-mandated data segregation; changing them is a policy decision,
// not a refactor.
var (
	confidentialRecordTypes = []any{"Diagnosis", "LabResult", "Confidential", "Psychiatric"}
	nurseRecordTypes        = []any{"VitalSigns", "CarePlan", "MedicationChart"}
	nurseWritableTypes      = []any{"VitalSigns", "CarePlan"}
	labRecordTypes          = []any{"LabResult"}
)

// Build compiles the Ability for a user snapshot. A nil user is an
// unauthenticated session and may only read public records. Rules are
// appended in a fixed precedence order; later rules override earlier ones
// for overlapping checks, which is how cannot-rules narrow grants. Unknown
// role kinds contribute nothing. Build never fails.
func Build(user *auth.User) *Ability {
	if user == nil {
		return NewAbility([]Rule{
			{Action: ActionRead, Subject: SubjectAll, Conditions: Conditions{"isPublic": true}},
		})
	}

	for _, role := range user.Roles {
		if role.Kind == auth.RoleKindSuperAdmin && role.IsSystemRole {
			// Full access; nothing can narrow a trailing manage-all grant.
			return NewAbility([]Rule{{Action: ActionManage, Subject: SubjectAll}})
		}
	}

	var rules []Rule

	if user.HasRoleKind(auth.RoleKindOrgAdmin) {
		rules = append(rules,
			Rule{Action: ActionManage, Subject: SubjectUser},
			Rule{Action: ActionManage, Subject: SubjectAll, Conditions: Conditions{"organizationId": user.OrganizationID}},
			Rule{Action: ActionRead, Subject: SubjectOrganization, Conditions: Conditions{"id": map[string]any{"$ne": user.OrganizationID}}, Inverted: true},
			Rule{Action: ActionManage, Subject: SubjectUser, Conditions: Conditions{"organizationId": map[string]any{"$ne": user.OrganizationID}}, Inverted: true},
			Rule{Action: ActionRead, Subject: SubjectAuditLog, Conditions: Conditions{"organizationId": user.OrganizationID}},
		)
	}

	// Role-specific grants, in assignment order. A user holding several of
	// these roles gets the concatenation; no conflict resolution beyond
	// append order exists on purpose.
	for _, role := range user.Roles {
		rules = append(rules, rulesForRole(role.Kind, user)...)
	}

	// Dynamic per-user grants, in grant order.
	for _, p := range user.Permissions {
		rules = append(rules, Rule{
			Action:     Action(strings.TrimSpace(p.Action)),
			Subject:    Subject(strings.TrimSpace(p.Subject)),
			Conditions: Conditions(p.Conditions),
			Inverted:   p.Inverted,
			Fields:     p.Fields,
		})
	}

	// Self-service profile access, appended last so no earlier cannot-rule
	// can revoke it. Scoped to the user's own record only.
	rules = append(rules,
		Rule{Action: ActionRead, Subject: SubjectUser, Conditions: Conditions{"id": user.ID}},
		Rule{Action: ActionUpdate, Subject: SubjectUser, Conditions: Conditions{"id": user.ID}},
	)

	return NewAbility(rules)
}

func rulesForRole(kind auth.RoleKind, user *auth.User) []Rule {
	org := user.OrganizationID
	dept := user.DepartmentID
	switch kind {
	case auth.RoleKindDoctor:
		return []Rule{
			{Action: ActionRead, Subject: SubjectPatient, Conditions: Conditions{"assignedDoctorId": user.ID}},
			{Action: ActionUpdate, Subject: SubjectPatient, Conditions: Conditions{"assignedDoctorId": user.ID}},
			{Action: ActionRead, Subject: SubjectMedicalRecord, Conditions: Conditions{"assignedDoctorId": user.ID}},
			{Action: ActionCreate, Subject: SubjectMedicalRecord, Conditions: Conditions{"organizationId": org}},
			{Action: ActionUpdate, Subject: SubjectMedicalRecord, Conditions: Conditions{"assignedDoctorId": user.ID}},
			{Action: ActionRead, Subject: SubjectAppointment, Conditions: Conditions{"departmentId": dept}},
		}
	case auth.RoleKindNurse:
		return []Rule{
			{Action: ActionRead, Subject: SubjectPatient, Conditions: Conditions{"departmentId": dept}},
			{Action: ActionRead, Subject: SubjectMedicalRecord, Conditions: Conditions{
				"departmentId": dept,
				"type":         map[string]any{"$in": nurseRecordTypes},
			}},
			{Action: ActionUpdate, Subject: SubjectMedicalRecord, Conditions: Conditions{
				"departmentId": dept,
				"type":         map[string]any{"$in": nurseWritableTypes},
			}},
			{Action: ActionApprove, Subject: SubjectTimesheet, Conditions: Conditions{"organizationId": org}},
			{Action: ActionRead, Subject: SubjectShiftSchedule, Conditions: Conditions{"departmentId": dept}},
		}
	case auth.RoleKindReceptionist:
		return []Rule{
			{Action: ActionRead, Subject: SubjectPatient, Conditions: Conditions{"organizationId": org}},
			{Action: ActionCreate, Subject: SubjectAppointment, Conditions: Conditions{"organizationId": org}},
			{Action: ActionRead, Subject: SubjectAppointment, Conditions: Conditions{"organizationId": org}},
			{Action: ActionUpdate, Subject: SubjectAppointment, Conditions: Conditions{"organizationId": org}},
			// No affirmative MedicalRecord grant exists for this role; the
			// deny below is belt-and-braces against broader grants from a
			// second role.
			{Action: ActionRead, Subject: SubjectMedicalRecord, Conditions: Conditions{
				"type": map[string]any{"$in": confidentialRecordTypes},
			}, Inverted: true},
		}
	case auth.RoleKindLabTechnician:
		return []Rule{
			{Action: ActionRead, Subject: SubjectLabReport, Conditions: Conditions{"departmentId": dept}},
			{Action: ActionCreate, Subject: SubjectLabReport, Conditions: Conditions{"departmentId": dept}},
			{Action: ActionUpdate, Subject: SubjectLabReport, Conditions: Conditions{"departmentId": dept}},
			{Action: ActionRead, Subject: SubjectMedicalRecord, Conditions: Conditions{
				"organizationId": org,
				"type":           map[string]any{"$in": labRecordTypes},
			}},
		}
	case auth.RoleKindBillingStaff:
		return []Rule{
			{Action: ActionRead, Subject: SubjectInvoice, Conditions: Conditions{"organizationId": org}},
			{Action: ActionCreate, Subject: SubjectInvoice, Conditions: Conditions{"organizationId": org}},
			{Action: ActionExport, Subject: SubjectInvoice, Conditions: Conditions{"organizationId": org}},
			{Action: ActionRead, Subject: SubjectTimesheet, Conditions: Conditions{"organizationId": org}},
			{Action: ActionRead, Subject: SubjectMedicalRecord, Inverted: true},
		}
	case auth.RoleKindManager:
		return []Rule{
			{Action: ActionRead, Subject: SubjectShiftSchedule, Conditions: Conditions{"organizationId": org}},
			{Action: ActionSchedule, Subject: SubjectShiftSchedule, Conditions: Conditions{"organizationId": org}},
			{Action: ActionAssign, Subject: SubjectShiftSchedule, Conditions: Conditions{"organizationId": org}},
			{Action: ActionApprove, Subject: SubjectTimesheet, Conditions: Conditions{"organizationId": org}},
			{Action: ActionRead, Subject: SubjectTimesheet, Conditions: Conditions{"organizationId": org}},
			{Action: ActionInvite, Subject: SubjectUser, Conditions: Conditions{"organizationId": org}},
		}
	case auth.RoleKindSeniorCarer:
		return []Rule{
			{Action: ActionRead, Subject: SubjectShiftSchedule, Conditions: Conditions{"departmentId": dept}},
			{Action: ActionRead, Subject: SubjectTimesheet, Conditions: Conditions{"departmentId": dept}},
		}
	case auth.RoleKindCarer:
		return []Rule{
			{Action: ActionRead, Subject: SubjectShiftSchedule, Conditions: Conditions{"staffId": user.ID}},
			{Action: ActionRead, Subject: SubjectTimesheet, Conditions: Conditions{"carerId": user.ID}},
			{Action: ActionCreate, Subject: SubjectTimesheet, Conditions: Conditions{"carerId": user.ID}},
		}
	default:
		return nil
	}
}
