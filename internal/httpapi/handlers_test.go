package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"wyecare.org/internal/auth"
	"wyecare.org/internal/ids"
	"wyecare.org/internal/stream"
	"wyecare.org/internal/timesheet"
)

type env struct {
	t       *testing.T
	handler http.Handler
	rbac    *auth.RBACService
	svc     *timesheet.InMemory
	events  *stream.Stream

	org    auth.Organization
	agency auth.Organization

	rootTok  string
	adminTok string
	nurseTok string
	carerTok string
	carerID  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	store := auth.NewInMemoryStore()
	rbac, err := auth.NewRBACService(store)
	if err != nil {
		t.Fatalf("rbac service: %v", err)
	}
	tokens, err := auth.NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	events := stream.New()
	svc := timesheet.NewInMemory(timesheet.NewMemoryTokenStore(), events)

	api := New(Options{
		Version:    "test",
		Tokens:     tokens,
		RBAC:       rbac,
		Timesheets: svc,
		Events:     events,
	})

	e := &env{
		t:       t,
		handler: api.Handler(),
		rbac:    rbac,
		svc:     svc,
		events:  events,
	}

	e.org = e.mustOrg(rbac.CreateOrganization(ctx, "Sunrise Care", "healthcare", nil))
	e.agency = e.mustOrg(rbac.CreateOrganization(ctx, "Harbour Staffing", "staffing", nil))

	rootRole, err := rbac.CreateRole(ctx, "", "Super Admin", "", true)
	if err != nil {
		t.Fatalf("create system role: %v", err)
	}
	adminRole, err := rbac.CreateRole(ctx, e.org.ID, "Organization Admin", "healthcare", false)
	if err != nil {
		t.Fatalf("create admin role: %v", err)
	}
	nurseRole, err := rbac.CreateRole(ctx, e.org.ID, "Nurse", "healthcare", false)
	if err != nil {
		t.Fatalf("create nurse role: %v", err)
	}
	carerRole, err := rbac.CreateRole(ctx, e.org.ID, "Carer", "healthcare", false)
	if err != nil {
		t.Fatalf("create carer role: %v", err)
	}

	root := e.mustUser(rbac.CreateUser(ctx, e.org.ID, "", "root@platform.test", "password-root"))
	admin := e.mustUser(rbac.CreateUser(ctx, e.org.ID, "", "admin@sunrise.test", "password-admin"))
	nurse := e.mustUser(rbac.CreateUser(ctx, e.org.ID, "", "nurse@sunrise.test", "password-nurse"))
	carer := e.mustUser(rbac.CreateUser(ctx, e.org.ID, "", "carer@sunrise.test", "password-carer"))
	e.carerID = carer.ID

	e.mustAssign(root.ID, rootRole.ID)
	e.mustAssign(admin.ID, adminRole.ID)
	e.mustAssign(nurse.ID, nurseRole.ID)
	e.mustAssign(carer.ID, carerRole.ID)

	e.rootTok = e.login("root@platform.test", "password-root")
	e.adminTok = e.login("admin@sunrise.test", "password-admin")
	e.nurseTok = e.login("nurse@sunrise.test", "password-nurse")
	e.carerTok = e.login("carer@sunrise.test", "password-carer")

	return e
}

func (e *env) mustOrg(org auth.Organization, err error) auth.Organization {
	e.t.Helper()
	if err != nil {
		e.t.Fatalf("create organization: %v", err)
	}
	return org
}

func (e *env) mustUser(u auth.User, err error) auth.User {
	e.t.Helper()
	if err != nil {
		e.t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *env) mustAssign(userID, roleID string) {
	e.t.Helper()
	if _, err := e.rbac.AssignRoleToUser(context.Background(), userID, roleID); err != nil {
		e.t.Fatalf("assign role: %v", err)
	}
}

func (e *env) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) login(email, password string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/v1/auth/token", "", tokenRequest{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		e.t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		e.t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func (e *env) createTimesheet(req createTimesheetRequest) timesheet.Timesheet {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/v1/timesheets", e.adminTok, req)
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("create timesheet: status %d body %s", rec.Code, rec.Body.String())
	}
	var ts timesheet.Timesheet
	if err := json.Unmarshal(rec.Body.Bytes(), &ts); err != nil {
		e.t.Fatalf("decode timesheet: %v", err)
	}
	return ts
}

func (e *env) sampleCreate() createTimesheetRequest {
	return createTimesheetRequest{
		ShiftScheduleID: "shift-1",
		CarerID:         e.carerID,
		HomeOrgID:       e.org.ID,
		Shift: timesheet.Shift{
			ID:             "shift-1",
			OrganizationID: e.org.ID,
			Date:           "2026-03-02",
			Timing:         timesheet.ShiftTiming{StartTime: "08:00", EndTime: "16:00"},
			CarerRole:      "Nurse",
			Rates: []timesheet.Rate{{
				CarerRole:            "Nurse",
				WeekdayRate:          20,
				WeekendRate:          25,
				EmergencyWeekdayRate: 30,
				EmergencyWeekendRate: 35,
			}},
		},
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Code
}

func validSignature() timesheet.Signature {
	return timesheet.Signature{
		ImageData:  "data:image/png;base64,iVBORw0KGgo=",
		SignerName: "Sam Ellery",
		SignerRole: timesheet.SignerNurse,
	}
}

func TestPublicAndProtectedPaths(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a request id header")
	}

	rec = e.do(http.MethodGet, "/v1/timesheets", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list: status %d", rec.Code)
	}

	rec = e.do(http.MethodGet, "/v1/timesheets", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/v1/auth/token", "", tokenRequest{
		Email:    "nurse@sunrise.test",
		Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d", rec.Code)
	}

	rec = e.do(http.MethodGet, "/v1/auth/token", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET login: status %d", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodPost {
		t.Fatalf("Allow = %q, want POST", got)
	}
}

func TestApprovalOverHTTP(t *testing.T) {
	e := newEnv(t)
	ts := e.createTimesheet(e.sampleCreate())

	body := map[string]any{"signature": validSignature()}

	rec := e.do(http.MethodPost, "/v1/timesheets/"+ts.ID+"/approve", e.carerTok, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("carer approve: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodPost, "/v1/timesheets/"+ts.ID+"/approve", e.nurseTok, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("nurse approve: status %d body %s", rec.Code, rec.Body.String())
	}
	var approved timesheet.Timesheet
	if err := json.Unmarshal(rec.Body.Bytes(), &approved); err != nil {
		t.Fatalf("decode approved: %v", err)
	}
	if approved.Status != timesheet.StatusApproved {
		t.Fatalf("status = %q, want approved", approved.Status)
	}
	if approved.Signature == nil || approved.Signature.SignerName != "Sam Ellery" {
		t.Fatalf("signature not recorded: %+v", approved.Signature)
	}

	rec = e.do(http.MethodPost, "/v1/timesheets/"+ts.ID+"/approve", e.nurseTok, body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second approve: status %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "already_approved" {
		t.Fatalf("code = %q, want already_approved", code)
	}
}

func TestApproveRejectsBadSignature(t *testing.T) {
	e := newEnv(t)
	ts := e.createTimesheet(e.sampleCreate())

	sig := validSignature()
	sig.SignerName = "   "
	rec := e.do(http.MethodPost, "/v1/timesheets/"+ts.ID+"/approve", e.nurseTok, map[string]any{"signature": sig})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank signer: status %d body %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "signer_name_required" {
		t.Fatalf("code = %q", code)
	}
}

func TestQRScanOverHTTP(t *testing.T) {
	e := newEnv(t)
	ts := e.createTimesheet(e.sampleCreate())

	// The carer whose shift it is displays the code; an approver scans it.
	rec := e.do(http.MethodGet, "/v1/timesheets/"+ts.ID+"/qr-code", e.carerTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("qr-code: status %d body %s", rec.Code, rec.Body.String())
	}
	var qr struct {
		Token string `json:"tokenForQrCode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &qr); err != nil {
		t.Fatalf("decode qr: %v", err)
	}
	if qr.Token == "" {
		t.Fatal("expected a scan token")
	}

	// Re-requesting returns the same active token.
	rec = e.do(http.MethodGet, "/v1/timesheets/"+ts.ID+"/qr-code", e.carerTok, nil)
	var again struct {
		Token string `json:"tokenForQrCode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &again); err != nil {
		t.Fatalf("decode qr again: %v", err)
	}
	if again.Token != qr.Token {
		t.Fatalf("token changed across requests: %q vs %q", qr.Token, again.Token)
	}

	rec = e.do(http.MethodPost, "/v1/timesheets/scan", e.adminTok, map[string]any{"token": qr.Token})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: status %d body %s", rec.Code, rec.Body.String())
	}
	var approved timesheet.Timesheet
	if err := json.Unmarshal(rec.Body.Bytes(), &approved); err != nil {
		t.Fatalf("decode scanned: %v", err)
	}
	if approved.Status != timesheet.StatusApproved {
		t.Fatalf("status = %q, want approved", approved.Status)
	}

	rec = e.do(http.MethodPost, "/v1/timesheets/scan", e.adminTok, map[string]any{"token": qr.Token})
	if rec.Code != http.StatusConflict {
		t.Fatalf("replayed scan: status %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "token_used" {
		t.Fatalf("code = %q, want token_used", code)
	}
}

func TestDeleteLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)

	pending := e.createTimesheet(e.sampleCreate())
	rec := e.do(http.MethodDelete, "/v1/timesheets/"+pending.ID, e.adminTok, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete pending: status %d body %s", rec.Code, rec.Body.String())
	}

	approved := e.createTimesheet(e.sampleCreate())
	rec = e.do(http.MethodPost, "/v1/timesheets/"+approved.ID+"/approve", e.nurseTok, map[string]any{"signature": validSignature()})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodDelete, "/v1/timesheets/"+approved.ID, e.adminTok, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete approved: status %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "not_invalidated" {
		t.Fatalf("code = %q, want not_invalidated", code)
	}

	rec = e.do(http.MethodPost, "/v1/timesheets/"+approved.ID+"/invalidate", e.adminTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("invalidate: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = e.do(http.MethodDelete, "/v1/timesheets/"+approved.ID, e.adminTok, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete invalidated: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestInvoiceStatusOverHTTP(t *testing.T) {
	e := newEnv(t)
	ts := e.createTimesheet(e.sampleCreate())

	rec := e.do(http.MethodPost, "/v1/timesheets/"+ts.ID+"/invoice-status", e.adminTok,
		map[string]any{"invoiceStatus": timesheet.InvoicePending})
	if rec.Code != http.StatusOK {
		t.Fatalf("draft→pending: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodPost, "/v1/timesheets/"+ts.ID+"/invoice-status", e.adminTok,
		map[string]any{"invoiceStatus": timesheet.InvoiceDraft})
	if rec.Code != http.StatusConflict {
		t.Fatalf("regression: status %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "invoice_transition" {
		t.Fatalf("code = %q, want invoice_transition", code)
	}
}

func TestRBACEndpoints(t *testing.T) {
	e := newEnv(t)

	// Creating organizations is a platform operation.
	rec := e.do(http.MethodPost, "/v1/organizations", e.adminTok,
		map[string]any{"name": "Another Home", "sector": "healthcare"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("org admin creating org: status %d", rec.Code)
	}
	rec = e.do(http.MethodPost, "/v1/organizations", e.rootTok,
		map[string]any{"name": "Another Home", "sector": "healthcare"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("root creating org: status %d body %s", rec.Code, rec.Body.String())
	}

	// Org admins manage their own tenant.
	rec = e.do(http.MethodPost, "/v1/organizations/"+e.org.ID+"/departments", e.adminTok,
		map[string]any{"name": "East Wing"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create department: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodPost, "/v1/organizations/"+e.org.ID+"/users", e.adminTok,
		map[string]any{"email": "new@sunrise.test", "password": "password-new"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("invite user: status %d body %s", rec.Code, rec.Body.String())
	}
	var created auth.User
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode user: %v", err)
	}

	rec = e.do(http.MethodGet, "/v1/organizations/"+e.org.ID, e.adminTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read own org: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = e.do(http.MethodGet, "/v1/organizations/"+e.agency.ID, e.adminTok, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("read foreign org: status %d", rec.Code)
	}

	// Direct permission grant takes effect on the next request.
	rec = e.do(http.MethodPut, "/v1/users/"+created.ID+"/permissions", e.adminTok,
		map[string]any{"permissions": []auth.Permission{{
			Action:     "read",
			Subject:    "Timesheet",
			Conditions: map[string]any{"organizationId": e.org.ID},
		}}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("grant permissions: status %d body %s", rec.Code, rec.Body.String())
	}
	newTok := e.login("new@sunrise.test", "password-new")
	rec = e.do(http.MethodGet, "/v1/timesheets?organizationId="+e.org.ID, newTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("granted list: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestInvoiceSummaryOverHTTP(t *testing.T) {
	e := newEnv(t)
	ts := e.createTimesheet(e.sampleCreate())
	rec := e.do(http.MethodPost, "/v1/timesheets/"+ts.ID+"/approve", e.nurseTok,
		map[string]any{"signature": validSignature()})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodGet, "/v1/reports/invoice-summary?from=2026-03-01&to=2026-03-31", e.adminTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: status %d body %s", rec.Code, rec.Body.String())
	}
	var summary struct {
		TotalHours float64 `json:"totalHours"`
		TotalPay   float64 `json:"totalPay"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalHours != 8 {
		t.Fatalf("totalHours = %v, want 8", summary.TotalHours)
	}
	if summary.TotalPay != 160 {
		t.Fatalf("totalPay = %v, want 160", summary.TotalPay)
	}
}

func TestUnknownRoutes(t *testing.T) {
	e := newEnv(t)

	// Malformed ids are refused before the store is consulted.
	rec := e.do(http.MethodGet, "/v1/timesheets/does-not-exist", e.adminTok, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("malformed id: status %d", rec.Code)
	}

	// Well-formed but unknown ids fall through to the store lookup.
	rec = e.do(http.MethodGet, "/v1/timesheets/"+ids.New(), e.adminTok, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing timesheet: status %d", rec.Code)
	}

	rec = e.do(http.MethodPut, "/v1/timesheets", e.adminTok, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("PUT collection: status %d", rec.Code)
	}
}
