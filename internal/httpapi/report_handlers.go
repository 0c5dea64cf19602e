package httpapi

import (
	"net/http"

	"wyecare.org/internal/ability"
	"wyecare.org/internal/auth"
	"wyecare.org/internal/report"
	"wyecare.org/internal/timesheet"
)

// handleInvoiceSummary aggregates approved timesheets over a date range
// into the invoice summary report.
func (a *API) handleInvoiceSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "no authenticated user")
		return
	}
	q := r.URL.Query()
	orgID := q.Get("organizationId")
	if orgID == "" {
		orgID = actor.OrganizationID
	}
	if !requireCan(w, r, ability.ActionRead, ability.SubjectInvoice, orgScope(orgID)) {
		return
	}
	sheets, err := a.timesheets.List(r.Context(), timesheet.ListFilter{
		OrganizationID: orgID,
		Status:         timesheet.StatusApproved,
	})
	if err != nil {
		writeTimesheetError(w, r, err)
		return
	}
	summary := report.Summarize(sheets, report.DateRange{From: q.Get("from"), To: q.Get("to")})
	writeJSON(w, http.StatusOK, summary)
}
