package httpapi

import (
	"net/http"
	"strings"

	"wyecare.org/internal/ability"
	"wyecare.org/internal/audit"
	"wyecare.org/internal/auth"
	"wyecare.org/internal/ids"
	"wyecare.org/internal/timesheet"
)

type createTimesheetRequest struct {
	ShiftScheduleID string               `json:"shiftScheduleId"`
	CarerID         string               `json:"carerId"`
	HomeOrgID       string               `json:"homeOrganizationId"`
	AgencyOrgID     string               `json:"agencyOrganizationId"`
	Shift           timesheet.Shift      `json:"shift"`
	Attendance      timesheet.Attendance `json:"attendance"`
	IsHoliday       bool                 `json:"isHoliday"`
}

// timesheetScope builds the subject data for ability checks. Rules are
// scoped per organization, so we present the org the actor shares with the
// timesheet (agency side when the actor is agency staff, home side
// otherwise).
func timesheetScope(ts timesheet.Timesheet, actor *auth.User) map[string]any {
	org := ts.HomeOrgID
	if actor != nil && ts.AgencyOrgID != "" && actor.OrganizationID == ts.AgencyOrgID {
		org = ts.AgencyOrgID
	}
	return map[string]any{
		"organizationId": org,
		"carerId":        ts.CarerID,
		"departmentId":   ts.Shift.DepartmentID,
	}
}

func orgScope(orgID string) map[string]any {
	return map[string]any{"organizationId": orgID}
}

// handleTimesheetsCollection serves GET (list) and POST (create) on
// /v1/timesheets.
func (a *API) handleTimesheetsCollection(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "no authenticated user")
		return
	}
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		orgID := q.Get("organizationId")
		if orgID == "" {
			orgID = actor.OrganizationID
		}
		data := orgScope(orgID)
		if carerID := q.Get("carerId"); carerID != "" {
			data["carerId"] = carerID
		}
		if !requireCan(w, r, ability.ActionRead, ability.SubjectTimesheet, data) {
			return
		}
		filter := timesheet.ListFilter{
			OrganizationID: orgID,
			CarerID:        q.Get("carerId"),
			Status:         timesheet.Status(q.Get("status")),
			InvoiceStatus:  timesheet.InvoiceStatus(q.Get("invoiceStatus")),
			From:           q.Get("from"),
			To:             q.Get("to"),
		}
		sheets, err := a.timesheets.List(r.Context(), filter)
		if err != nil {
			writeTimesheetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"timesheets": sheets})
	case http.MethodPost:
		var req createTimesheetRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		data := orgScope(req.HomeOrgID)
		data["carerId"] = req.CarerID
		if !requireCan(w, r, ability.ActionCreate, ability.SubjectTimesheet, data) {
			return
		}
		ts, err := a.timesheets.Create(r.Context(), timesheet.CreateInput{
			ShiftScheduleID: req.ShiftScheduleID,
			CarerID:         req.CarerID,
			HomeOrgID:       req.HomeOrgID,
			AgencyOrgID:     req.AgencyOrgID,
			Shift:           req.Shift,
			Attendance:      req.Attendance,
			IsHoliday:       req.IsHoliday,
		})
		if err != nil {
			writeTimesheetError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "timesheet.created", map[string]any{"timesheet_id": ts.ID})
		writeJSON(w, http.StatusCreated, ts)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleTimesheetResource routes /v1/timesheets/{id} and its lifecycle
// subresources.
func (a *API) handleTimesheetResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/timesheets/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "timesheet id required")
		return
	}
	id := parts[0]
	// Reject malformed identifiers before touching the store.
	if !ids.IsValid(id) {
		writeError(w, r, http.StatusNotFound, "not_found", "no such timesheet")
		return
	}

	actor, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "no authenticated user")
		return
	}
	ts, err := a.timesheets.Get(r.Context(), id)
	if err != nil {
		writeTimesheetError(w, r, err)
		return
	}
	scope := timesheetScope(ts, actor)

	switch {
	case len(parts) == 1:
		a.handleTimesheetByID(w, r, ts, actor, scope)
	case len(parts) == 2 && parts[1] == "approve":
		a.handleApprove(w, r, id, actor, scope)
	case len(parts) == 2 && parts[1] == "reject":
		a.handleReject(w, r, id, actor, scope)
	case len(parts) == 2 && parts[1] == "invalidate":
		a.handleInvalidate(w, r, id, actor, scope)
	case len(parts) == 2 && parts[1] == "qr-code":
		a.handleQRCode(w, r, id, scope)
	case len(parts) == 2 && parts[1] == "invoice-status":
		a.handleInvoiceStatus(w, r, id, scope)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (a *API) handleTimesheetByID(w http.ResponseWriter, r *http.Request, ts timesheet.Timesheet, actor *auth.User, scope map[string]any) {
	switch r.Method {
	case http.MethodGet:
		if !requireCan(w, r, ability.ActionRead, ability.SubjectTimesheet, scope) {
			return
		}
		writeJSON(w, http.StatusOK, ts)
	case http.MethodDelete:
		if !requireCan(w, r, ability.ActionDelete, ability.SubjectTimesheet, scope) {
			return
		}
		if err := a.timesheets.Delete(r.Context(), ts.ID, actor); err != nil {
			writeTimesheetError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "timesheet.deleted", map[string]any{"timesheet_id": ts.ID})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request, id string, actor *auth.User, scope map[string]any) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !requireCan(w, r, ability.ActionApprove, ability.SubjectTimesheet, scope) {
		return
	}
	var req struct {
		Signature timesheet.Signature `json:"signature"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ts, err := a.timesheets.ApproveWithSignature(r.Context(), id, actor, req.Signature)
	if err != nil {
		writeTimesheetError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "timesheet.approved", map[string]any{"timesheet_id": id, "evidence": "signature"})
	writeJSON(w, http.StatusOK, ts)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request, id string, actor *auth.User, scope map[string]any) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !requireCan(w, r, ability.ActionApprove, ability.SubjectTimesheet, scope) {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ts, err := a.timesheets.Reject(r.Context(), id, actor, req.Reason)
	if err != nil {
		writeTimesheetError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "timesheet.rejected", map[string]any{"timesheet_id": id})
	writeJSON(w, http.StatusOK, ts)
}

func (a *API) handleInvalidate(w http.ResponseWriter, r *http.Request, id string, actor *auth.User, scope map[string]any) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !requireCan(w, r, ability.ActionManage, ability.SubjectTimesheet, scope) {
		return
	}
	ts, err := a.timesheets.Invalidate(r.Context(), id, actor)
	if err != nil {
		writeTimesheetError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "timesheet.invalidated", map[string]any{"timesheet_id": id})
	writeJSON(w, http.StatusOK, ts)
}

// handleQRCode returns the scan token bound to a pending timesheet. The
// same token is returned until it is consumed or expires.
func (a *API) handleQRCode(w http.ResponseWriter, r *http.Request, id string, scope map[string]any) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !requireCan(w, r, ability.ActionRead, ability.SubjectTimesheet, scope) {
		return
	}
	token, err := a.timesheets.TokenForQR(r.Context(), id)
	if err != nil {
		writeTimesheetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokenForQrCode": token})
}

func (a *API) handleInvoiceStatus(w http.ResponseWriter, r *http.Request, id string, scope map[string]any) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !requireCan(w, r, ability.ActionUpdate, ability.SubjectInvoice, scope) {
		return
	}
	var req struct {
		InvoiceStatus timesheet.InvoiceStatus `json:"invoiceStatus"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ts, err := a.timesheets.SetInvoiceStatus(r.Context(), id, req.InvoiceStatus)
	if err != nil {
		writeTimesheetError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "timesheet.invoice_status", map[string]any{
		"timesheet_id":   id,
		"invoice_status": string(ts.InvoiceStatus),
	})
	writeJSON(w, http.StatusOK, ts)
}

// handleScan applies a scanned QR token as the approve transition. The
// token identifies the timesheet, so the ability check is scoped to the
// scanning actor's own organization.
func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "no authenticated user")
		return
	}
	if !requireCan(w, r, ability.ActionApprove, ability.SubjectTimesheet, orgScope(actor.OrganizationID)) {
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ts, err := a.timesheets.SubmitScan(r.Context(), req.Token, actor)
	if err != nil {
		writeTimesheetError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "timesheet.approved", map[string]any{"timesheet_id": ts.ID, "evidence": "qr_scan"})
	writeJSON(w, http.StatusOK, ts)
}
