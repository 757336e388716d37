package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"rasd.org/internal/confidential"
	"rasd.org/internal/obs"
	"rasd.org/internal/workflow"
)

// ReadyProbe reports whether the service can take traffic (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the workflow engine and confidentiality gate.
type API struct {
	mux        *http.ServeMux
	svc        workflow.Service
	gate       *confidential.Gate
	readyProbe ReadyProbe
	version    string
	authOn     bool
}

// Option configures the API.
type Option func(*API)

// WithAuth enables bearer-token authentication on the /v1 surface.
func WithAuth(enabled bool) Option {
	return func(a *API) { a.authOn = enabled }
}

func New(svc workflow.Service, gate *confidential.Gate, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		gate:       gate,
		readyProbe: rp,
		version:    version,
	}
	for _, o := range opts {
		o(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/reports", a.handleReportsCollection)
	a.mux.HandleFunc("/v1/reports/", a.handleReportResource)
	a.mux.HandleFunc("/v1/directives", a.handleDirectivesCollection)
	a.mux.HandleFunc("/v1/directives/", a.handleDirectiveResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: metrics around auth around mux.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "rasd-api",
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
		"name":    "rasd-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleWorkflowError maps engine sentinels onto HTTP statuses. Access
// denials surface as 404 so the existence of a marked document leaks nothing.
func handleWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrInvalidInput), errors.Is(err, confidential.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrStaleState):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrIllegalTransition),
		errors.Is(err, workflow.ErrApprovalsPending),
		errors.Is(err, workflow.ErrChildrenNotClosed),
		errors.Is(err, workflow.ErrInvalidForwardingTarget),
		errors.Is(err, workflow.ErrCycle),
		errors.Is(err, workflow.ErrDuplicateLink):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, workflow.ErrNotAMember):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, confidential.ErrAccessDenied):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, confidential.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
