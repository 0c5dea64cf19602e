package ability

import (
	"reflect"
	"testing"

	"wyecare.org/internal/auth"
)

func carer(id, org string, roles ...auth.Role) *auth.User {
	return &auth.User{ID: id, OrganizationID: org, Roles: roles}
}

func TestBuildNilUserPublicReadOnly(t *testing.T) {
	a := Build(nil)
	if !a.Can(ActionRead, SubjectPatient, map[string]any{"isPublic": true}) {
		t.Fatal("unauthenticated users may read public records")
	}
	if a.Can(ActionRead, SubjectPatient, map[string]any{"isPublic": false}) {
		t.Fatal("non-public records must be denied")
	}
	if a.Can(ActionUpdate, SubjectPatient, map[string]any{"isPublic": true}) {
		t.Fatal("only read is granted to unauthenticated users")
	}
}

func TestBuildDenyByDefault(t *testing.T) {
	user := carer("u1", "org-1")
	a := Build(user)
	for _, action := range Actions() {
		for _, subject := range Subjects() {
			if subject == SubjectUser && (action == ActionRead || action == ActionUpdate) {
				continue // self-service fallback, checked below
			}
			if a.Can(action, subject, nil) {
				t.Fatalf("user without roles got %s on %s", action, subject)
			}
		}
	}
	if !a.Can(ActionRead, SubjectUser, map[string]any{"id": "u1"}) {
		t.Fatal("self-service read on own record should be granted")
	}
	if !a.Can(ActionUpdate, SubjectUser, map[string]any{"id": "u1"}) {
		t.Fatal("self-service update on own record should be granted")
	}
	if a.Can(ActionUpdate, SubjectUser, map[string]any{"id": "u2"}) {
		t.Fatal("self-service must not extend beyond the user's own record")
	}
}

func TestBuildSuperAdminShortcut(t *testing.T) {
	user := carer("u1", "org-1", auth.Role{Kind: auth.RoleKindSuperAdmin, IsSystemRole: true})
	a := Build(user)
	for _, action := range Actions() {
		for _, subject := range Subjects() {
			if !a.Can(action, subject, nil) {
				t.Fatalf("super admin denied %s on %s", action, subject)
			}
		}
	}
	if len(a.Rules()) != 1 {
		t.Fatalf("super admin ability should short-circuit to a single rule, got %d", len(a.Rules()))
	}
}

func TestBuildSuperAdminRequiresSystemRole(t *testing.T) {
	// A tenant-created role that merely names itself Super Admin gets nothing.
	user := carer("u1", "org-1", auth.Role{Kind: auth.RoleKindSuperAdmin, IsSystemRole: false})
	a := Build(user)
	if a.Can(ActionManage, SubjectAll, nil) {
		t.Fatal("non-system super admin role must not grant full access")
	}
}

func TestBuildOrgAdminScoping(t *testing.T) {
	user := carer("u1", "org-1", auth.Role{Kind: auth.RoleKindOrgAdmin})
	a := Build(user)

	if !a.Can(ActionDelete, SubjectTimesheet, map[string]any{"organizationId": "org-1"}) {
		t.Fatal("org admin manages everything inside own org")
	}
	if a.Can(ActionDelete, SubjectTimesheet, map[string]any{"organizationId": "org-2"}) {
		t.Fatal("org admin must not touch another org")
	}
	if a.Can(ActionRead, SubjectOrganization, map[string]any{"id": "org-2"}) {
		t.Fatal("reading a foreign organization must be denied")
	}
	if !a.Can(ActionRead, SubjectOrganization, map[string]any{"id": "org-1", "organizationId": "org-1"}) {
		t.Fatal("reading own organization should be allowed")
	}
	if a.Can(ActionManage, SubjectUser, map[string]any{"organizationId": "org-2"}) {
		t.Fatal("managing users of another org must be denied")
	}
	if !a.Can(ActionManage, SubjectUser, map[string]any{"organizationId": "org-1"}) {
		t.Fatal("managing users of own org should be allowed")
	}
	if !a.Can(ActionRead, SubjectAuditLog, map[string]any{"organizationId": "org-1"}) {
		t.Fatal("org admin reads own audit log")
	}
	if a.Can(ActionRead, SubjectAuditLog, map[string]any{"organizationId": "org-2"}) {
		t.Fatal("foreign audit log must be denied")
	}
}

func TestBuildReceptionistRecordAccess(t *testing.T) {
	user := carer("u1", "org-1", auth.Role{Kind: auth.RoleKindReceptionist})
	a := Build(user)

	if a.Can(ActionRead, SubjectMedicalRecord, map[string]any{"type": "Diagnosis"}) {
		t.Fatal("receptionists must not read diagnosis records")
	}
	// No affirmative grant exists for other record types either.
	if a.Can(ActionRead, SubjectMedicalRecord, map[string]any{"type": "VitalSigns"}) {
		t.Fatal("receptionists have no medical record grant at all")
	}
	if !a.Can(ActionRead, SubjectPatient, map[string]any{"organizationId": "org-1"}) {
		t.Fatal("receptionists read patient demographics in their org")
	}
	if !a.Can(ActionCreate, SubjectAppointment, map[string]any{"organizationId": "org-1"}) {
		t.Fatal("receptionists book appointments")
	}
}

func TestBuildReceptionistDenyNarrowsNurseGrant(t *testing.T) {
	// Nurse grant first, receptionist deny second: the later cannot-rule
	// wins for the confidential list, exactly as append order dictates.
	nurse := auth.Role{Kind: auth.RoleKindNurse}
	receptionist := auth.Role{Kind: auth.RoleKindReceptionist}
	user := &auth.User{ID: "u1", OrganizationID: "org-1", DepartmentID: "d1", Roles: []auth.Role{nurse, receptionist}}
	a := Build(user)

	if !a.Can(ActionRead, SubjectMedicalRecord, map[string]any{"departmentId": "d1", "type": "VitalSigns"}) {
		t.Fatal("nurse grant should survive for non-confidential types")
	}
	if a.Can(ActionRead, SubjectMedicalRecord, map[string]any{"departmentId": "d1", "type": "Diagnosis"}) {
		t.Fatal("receptionist deny should narrow the nurse grant for confidential types")
	}

	// Reversed role order flips nothing here (the nurse grant never covered
	// Diagnosis), but the rule sequence must follow assignment order.
	reversed := Build(&auth.User{ID: "u1", OrganizationID: "org-1", DepartmentID: "d1", Roles: []auth.Role{receptionist, nurse}})
	if !reversed.Can(ActionRead, SubjectMedicalRecord, map[string]any{"departmentId": "d1", "type": "VitalSigns"}) {
		t.Fatal("nurse grant should still apply with reversed assignment order")
	}
}

func TestBuildUnknownRoleContributesNothing(t *testing.T) {
	user := carer("u1", "org-1", auth.Role{Kind: auth.RoleKindUnknown, Name: "Archivist"})
	a := Build(user)
	// Only the two self-service fallback rules remain.
	if got := len(a.Rules()); got != 2 {
		t.Fatalf("unknown role should contribute no rules, got %d total", got)
	}
}

func TestBuildDynamicGrants(t *testing.T) {
	user := carer("u1", "org-1")
	user.Permissions = []auth.Permission{
		{Action: "export", Subject: "Invoice", Conditions: map[string]any{"organizationId": "org-1"}},
		{Action: "read", Subject: "ShiftSchedule"},
	}
	a := Build(user)
	if !a.Can(ActionExport, SubjectInvoice, map[string]any{"organizationId": "org-1"}) {
		t.Fatal("conditioned dynamic grant should apply")
	}
	if a.Can(ActionExport, SubjectInvoice, map[string]any{"organizationId": "org-2"}) {
		t.Fatal("dynamic grant must respect its conditions")
	}
	if !a.Can(ActionRead, SubjectShiftSchedule, nil) {
		t.Fatal("unconditioned dynamic grant should apply without data")
	}
}

func TestBuildSelfServiceSurvivesDenies(t *testing.T) {
	user := carer("u1", "org-1")
	user.Permissions = []auth.Permission{
		{Action: "read", Subject: "User", Inverted: true},
	}
	a := Build(user)
	if !a.Can(ActionRead, SubjectUser, map[string]any{"id": "u1"}) {
		t.Fatal("self-service fallback is appended last and cannot be revoked")
	}
	if a.Can(ActionRead, SubjectUser, map[string]any{"id": "u2"}) {
		t.Fatal("the dynamic deny still applies to other records")
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	user := &auth.User{
		ID:             "u1",
		OrganizationID: "org-1",
		DepartmentID:   "d1",
		Roles: []auth.Role{
			{Kind: auth.RoleKindOrgAdmin},
			{Kind: auth.RoleKindNurse},
			{Kind: auth.RoleKindBillingStaff},
		},
		Permissions: []auth.Permission{
			{Action: "read", Subject: "LabReport"},
			{Action: "export", Subject: "Invoice", Inverted: true},
		},
	}
	first := Build(user).Rules()
	for i := 0; i < 10; i++ {
		if next := Build(user).Rules(); !reflect.DeepEqual(first, next) {
			t.Fatalf("rule sequence changed between builds on iteration %d", i)
		}
	}
}
