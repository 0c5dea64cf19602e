package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wyecare.org/internal/auth"
	"wyecare.org/internal/timesheet"
)

const maxDecodeBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	body := map[string]any{
		"error": msg,
		"code":  code,
	}
	if id := requestIDFrom(r.Context()); id != "" {
		body["request_id"] = id
	}
	writeJSON(w, status, body)
}

// decodeJSON decodes a request body strictly: unknown fields and trailing
// data are errors. The size cap is applied by the MaxBodyBytes middleware.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// writeTimesheetError maps domain errors to HTTP statuses. Guard violations
// surface as 409 with the machine reason code so clients can react without
// parsing messages.
func writeTimesheetError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, timesheet.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, timesheet.ErrTokenMismatch):
		writeError(w, r, http.StatusNotFound, timesheet.ReasonCode(err), err.Error())
	case errors.Is(err, timesheet.ErrSignatureEmpty),
		errors.Is(err, timesheet.ErrSignerName),
		errors.Is(err, timesheet.ErrSignerRole),
		errors.Is(err, timesheet.ErrEvidenceRequired),
		errors.Is(err, timesheet.ErrEvidenceConflict):
		writeError(w, r, http.StatusBadRequest, timesheet.ReasonCode(err), err.Error())
	default:
		if code := timesheet.ReasonCode(err); code != "" {
			writeError(w, r, http.StatusConflict, code, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid credentials")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}
