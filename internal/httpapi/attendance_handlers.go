package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"crewdesk.io/internal/attendance"
	"crewdesk.io/internal/audit"
	"crewdesk.io/internal/auth"
	"crewdesk.io/internal/obs"
	"crewdesk.io/internal/qrtoken"
	"crewdesk.io/internal/stream"
)

type recordRequest struct {
	UserID string `json:"user_id,omitempty"`
	Token  string `json:"token"`
	Action string `json:"action"`
}

type correctRequest struct {
	LogID     string `json:"log_id"`
	Timestamp string `json:"timestamp,omitempty"`
	Note      string `json:"note,omitempty"`
}

type qrTokenResponse struct {
	Token          string    `json:"token"`
	SequenceNumber int64     `json:"sequence_number"`
	ValidFrom      time.Time `json:"valid_from"`
	ValidTo        time.Time `json:"valid_to"`
	ExpiresIn      float64   `json:"expires_in"`
}

type validateResponse struct {
	Valid     bool    `json:"valid"`
	ExpiresIn float64 `json:"expires_in,omitempty"`
}

type historyResponse struct {
	Items []attendance.Log `json:"items"`
	AsOf  time.Time        `json:"as_of"`
}

func qrTokenView(tok qrtoken.Token, now time.Time) qrTokenResponse {
	return qrTokenResponse{
		Token:          tok.Value,
		SequenceNumber: tok.SequenceNumber,
		ValidFrom:      tok.ValidFrom,
		ValidTo:        tok.ValidTo,
		ExpiresIn:      tok.ExpiresIn(now).Seconds(),
	}
}

func (a *API) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	action, ok := attendance.ParseAction(req.Action)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "action must be checkin or checkout")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	if target := strings.TrimSpace(req.UserID); target != "" && target != userID {
		// Recording on behalf of someone else is an issuer-role action.
		if !auth.HasAnyRole(r.Context(), a.issuerRoles) {
			writeError(w, r, http.StatusForbidden, "cannot record for another user")
			return
		}
		userID = target
	}
	if userID == "" {
		writeError(w, r, http.StatusUnauthorized, "user identity required")
		return
	}

	log, err := a.recorder.Record(r.Context(), userID, req.Token, action, attendance.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		handleAttendanceError(w, r, err)
		return
	}

	if a.stream != nil {
		a.stream.Publish(stream.Event{
			UserID:    log.UserID,
			Action:    string(log.Action),
			Method:    string(log.Method),
			Timestamp: log.Timestamp,
		})
	}
	_ = audit.LogEvent(r.Context(), "attendance.record", map[string]any{
		"log_id":        log.ID,
		"target_user":   log.UserID,
		"action":        string(log.Action),
		"operative_day": log.OperativeDay,
	})
	writeJSON(w, http.StatusCreated, log)
}

func (a *API) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireIssuerRole(w, r) {
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	tok, err := a.tokens.Generate(r.Context(), a.tokenValidity, userID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	obs.IncTokenIssued()
	_ = audit.LogEvent(r.Context(), "qrtoken.issue", map[string]any{
		"sequence_number": tok.SequenceNumber,
		"valid_to":        tok.ValidTo.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, qrTokenView(tok, time.Now().UTC()))
}

func (a *API) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireIssuerRole(w, r) {
		return
	}
	tok, err := a.tokens.Current(r.Context())
	if err != nil {
		if errors.Is(err, qrtoken.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "no active token")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, qrTokenView(tok, time.Now().UTC()))
}

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	value := strings.TrimPrefix(r.URL.Path, "/v1/attendance/validate/")
	if value == "" || strings.Contains(value, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	tok, err := a.tokens.Validate(r.Context(), value)
	if err != nil {
		if errors.Is(err, qrtoken.ErrNotFound) || errors.Is(err, qrtoken.ErrExpired) {
			// NotFound and Expired collapse into one answer so callers
			// cannot probe which tokens ever existed.
			writeJSON(w, http.StatusOK, validateResponse{Valid: false})
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:     true,
		ExpiresIn: tok.ExpiresIn(time.Now().UTC()).Seconds(),
	})
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireIssuerRole(w, r) {
		return
	}
	expired, err := a.tokens.CleanupExpired(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "cleanup failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "qrtoken.cleanup", map[string]any{
		"expired": expired,
	})
	writeJSON(w, http.StatusOK, map[string]any{"expired": expired})
}

func (a *API) handleCheckAbsent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireIssuerRole(w, r) {
		return
	}
	notified, err := a.recorder.SweepAbsent(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "absence sweep failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "attendance.sweep_absent", map[string]any{
		"notified": notified,
	})
	writeJSON(w, http.StatusOK, map[string]any{"notified": notified})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 50, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	self, _ := auth.UserIDFromContext(r.Context())
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = self
	}
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	if userID != self && !auth.HasAnyRole(r.Context(), a.issuerRoles) {
		writeError(w, r, http.StatusForbidden, "cannot view another user's history")
		return
	}

	items, err := a.recorder.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) handleCorrect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireIssuerRole(w, r) {
		return
	}
	var req correctRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.LogID) == "" {
		writeError(w, r, http.StatusBadRequest, "log_id is required")
		return
	}
	var ts time.Time
	if strings.TrimSpace(req.Timestamp) != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "timestamp must be RFC3339")
			return
		}
		ts = parsed
	}

	actorID, _ := auth.UserIDFromContext(r.Context())
	log, err := a.recorder.Correct(r.Context(), req.LogID, ts, req.Note, actorID)
	if err != nil {
		handleAttendanceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "attendance.correct", map[string]any{
		"log_id":      log.ID,
		"target_user": log.UserID,
		"note":        req.Note,
	})
	writeJSON(w, http.StatusOK, log)
}

// requireIssuerRole guards token issuance and administrative routes.
func (a *API) requireIssuerRole(w http.ResponseWriter, r *http.Request) bool {
	if auth.HasAnyRole(r.Context(), a.issuerRoles) {
		return true
	}
	writeError(w, r, http.StatusForbidden, "insufficient role")
	return false
}

func handleAttendanceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, attendance.ErrInvalidToken):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, attendance.ErrUnknownUser):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, attendance.ErrLogNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, attendance.ErrAlreadyCheckedIn),
		errors.Is(err, attendance.ErrAlreadyCheckedOut),
		errors.Is(err, attendance.ErrNoOpenSession):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
