package httpapi

import (
	"encoding/json"
	"net/http"

	"wyecare.org/internal/timesheet"
)

// handleScanEvents streams scan outcomes for one token over SSE. The watch
// session rides out dropped subscriptions with the configured backoff and
// reconnect budget; the connection ends after the terminal event for the
// token arrives or the client disconnects.
func (a *API) handleScanEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "bad_request", "token query parameter required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Initial comment so proxies flush headers immediately.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	events := timesheet.WatchScan(r.Context(), a.events, token, a.scanBackoff, a.scanMaxReconnects)
	for evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
