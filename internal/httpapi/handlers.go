// Package httpapi is the HTTP surface of the back-office auth service.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parkrow.org/internal/activity"
	"parkrow.org/internal/auth"
	"parkrow.org/internal/feed"
	"parkrow.org/internal/obs"
)

// ReadyProbe reports whether the datastore answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API dependencies.
type Config struct {
	Auth         *auth.Service
	Activity     *activity.Service
	Recorder     auth.Recorder
	Feed         *feed.Feed
	Ready        ReadyProbe
	Version      string
	CookieSecure bool
	CORSOrigins  []string
}

// API is the HTTP layer.
type API struct {
	mux          *http.ServeMux
	auth         *auth.Service
	activity     *activity.Service
	recorder     auth.Recorder
	feed         *feed.Feed
	readyProbe   ReadyProbe
	version      string
	cookieSecure bool
	corsOrigins  []string
}

func New(cfg Config) *API {
	a := &API{
		mux:          http.NewServeMux(),
		auth:         cfg.Auth,
		activity:     cfg.Activity,
		recorder:     cfg.Recorder,
		feed:         cfg.Feed,
		readyProbe:   cfg.Ready,
		version:      cfg.Version,
		cookieSecure: cfg.CookieSecure,
		corsOrigins:  cfg.CORSOrigins,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/admin/login", a.handleLogin)
	a.mux.HandleFunc("/v1/admin/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/admin/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/admin/session", a.handleSession)
	a.mux.HandleFunc("/v1/admin/sessions", a.handleSessions)
	a.mux.HandleFunc("/v1/admin/sessions/", a.handleSessionResource)
	a.mux.HandleFunc("/v1/admin/password", a.handlePasswordChange)

	// provisioning
	a.mux.HandleFunc("/v1/admin/principals", a.handlePrincipals)
	a.mux.HandleFunc("/v1/admin/principals/", a.handlePrincipalResource)

	// audit trail
	a.mux.HandleFunc("/v1/admin/activity", a.handleActivity)
	a.mux.HandleFunc("/v1/admin/activity/stats", a.handleActivityStats)
	a.mux.HandleFunc("/v1/admin/activity/feed", a.ActivityFeed)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server: request id
// and logging on the outside, authentication just before the mux.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.withAuth(a.mux))
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "parkrow-admin-api",
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
		"name":    "parkrow-admin-api",
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

// handleAuthError maps the auth sentinel errors onto HTTP statuses.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, auth.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "datastore unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit is out of range")
	}
	return val, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func device(r *http.Request) auth.Device {
	return auth.Device{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}
