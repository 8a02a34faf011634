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

	"crewdesk.io/internal/attendance"
	"crewdesk.io/internal/auth"
	"crewdesk.io/internal/obs"
	"crewdesk.io/internal/qrtoken"
	"crewdesk.io/internal/stream"
)

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the API dependencies and tunables.
type Config struct {
	Ready         ReadyProbe
	Version       string
	Tokens        qrtoken.Service
	Recorder      *attendance.Recorder
	Stream        *stream.Stream
	TokenValidity time.Duration
	IssuerRoles   []string
	RateBurst     int
	RatePerSecond int
}

// API is the HTTP layer over the attendance core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	tokens        qrtoken.Service
	recorder      *attendance.Recorder
	stream        *stream.Stream
	tokenValidity time.Duration
	issuerRoles   []string

	rateBurst  int
	ratePerSec int
}

func New(cfg Config) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    cfg.Ready,
		version:       cfg.Version,
		tokens:        cfg.Tokens,
		recorder:      cfg.Recorder,
		stream:        cfg.Stream,
		tokenValidity: cfg.TokenValidity,
		issuerRoles:   cfg.IssuerRoles,
		rateBurst:     cfg.RateBurst,
		ratePerSec:    cfg.RatePerSecond,
	}
	if a.tokenValidity <= 0 {
		a.tokenValidity = qrtoken.DefaultValidity
	}
	if len(a.issuerRoles) == 0 {
		a.issuerRoles = auth.DefaultIssuerRoles()
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// attendance core
	a.mux.HandleFunc("/v1/attendance/record", a.handleRecord)
	a.mux.HandleFunc("/v1/attendance/qr/generate", a.handleGenerate)
	a.mux.HandleFunc("/v1/attendance/qr/current", a.handleCurrent)
	a.mux.HandleFunc("/v1/attendance/qr/cleanup", a.handleCleanup)
	a.mux.HandleFunc("/v1/attendance/validate/", a.handleValidate)
	a.mux.HandleFunc("/v1/attendance/check-absent", a.handleCheckAbsent)
	a.mux.HandleFunc("/v1/attendance/history", a.handleHistory)
	a.mux.HandleFunc("/v1/attendance/correct", a.handleCorrect)
	a.mux.HandleFunc("/v1/attendance/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "crewdesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "crewdesk-api",
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

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit out of range")
	}
	return val, nil
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
