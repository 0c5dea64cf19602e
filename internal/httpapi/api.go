// Package httpapi is the HTTP layer: REST endpoints for auth, RBAC and
// timesheets, the SSE scan stream, and the operational surface
// (health/ready/metrics).
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"wyecare.org/internal/auth"
	"wyecare.org/internal/obs"
	"wyecare.org/internal/stream"
	"wyecare.org/internal/timesheet"
)

// ReadyProbe checks dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	tokens     *auth.TokenService
	rbac       *auth.RBACService
	timesheets timesheet.Service
	events     *stream.Stream

	maxBodyBytes      int64
	scanBackoff       time.Duration
	scanMaxReconnects int
}

// Options wires the API's collaborators.
type Options struct {
	ReadyProbe ReadyProbe
	Version    string
	Tokens     *auth.TokenService
	RBAC       *auth.RBACService
	Timesheets timesheet.Service
	Events     *stream.Stream

	// MaxBodyBytes caps request bodies; zero means the default 1 MiB.
	MaxBodyBytes int64
	// ScanBackoff and ScanMaxReconnects control how the scan-event stream
	// rides out dropped subscriptions before reporting connection loss.
	ScanBackoff       time.Duration
	ScanMaxReconnects int
}

// New constructs the API and registers all routes.
func New(opts Options) *API {
	a := &API{
		mux:               http.NewServeMux(),
		readyProbe:        opts.ReadyProbe,
		version:           opts.Version,
		tokens:            opts.Tokens,
		rbac:              opts.RBAC,
		timesheets:        opts.Timesheets,
		events:            opts.Events,
		maxBodyBytes:      opts.MaxBodyBytes,
		scanBackoff:       opts.ScanBackoff,
		scanMaxReconnects: opts.ScanMaxReconnects,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = maxDecodeBytes
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)
	a.mux.HandleFunc("/v1/users/", a.handleUserScoped)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleScoped)

	a.mux.HandleFunc("/v1/timesheets", a.handleTimesheetsCollection)
	a.mux.HandleFunc("/v1/timesheets/scan", a.handleScan)
	a.mux.HandleFunc("/v1/timesheets/scan-events", a.handleScanEvents)
	a.mux.HandleFunc("/v1/timesheets/", a.handleTimesheetResource)

	a.mux.HandleFunc("/v1/reports/invoice-summary", a.handleInvoiceSummary)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(a.maxBodyBytes, h)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "wyecare-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "wyecare-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
