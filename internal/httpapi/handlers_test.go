package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"crewdesk.io/internal/attendance"
	"crewdesk.io/internal/auth"
	"crewdesk.io/internal/notify"
	"crewdesk.io/internal/qrtoken"
	"crewdesk.io/internal/schedule"
	"crewdesk.io/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func allWeek() map[time.Weekday]bool {
	days := make(map[time.Weekday]bool, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		days[d] = true
	}
	return days
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("CREWDESK_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	tokens := qrtoken.NewInMemory()
	directory := schedule.NewStatic(
		&schedule.Member{ID: "emp-1", Name: "Dana", Status: "active", WorkDays: allWeek()},
		&schedule.Member{ID: "emp-2", Name: "Omar", Status: "active", WorkDays: allWeek()},
	)
	recorder := attendance.NewRecorder(tokens, directory, notify.LogNotifier{}, attendance.NewInMemoryStore())

	api := New(Config{
		Version:       "test",
		Tokens:        tokens,
		Recorder:      recorder,
		Stream:        stream.New(),
		RateBurst:     100,
		RatePerSecond: 100,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(user string, roles []string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user":  user,
		"roles": roles,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestQRAndAttendanceFlow(t *testing.T) {
	api := newTestAPI(t)
	manager := bearerHeader(api.obtainToken("mgr-1", []string{"manager"}))
	staff := bearerHeader(api.obtainToken("emp-1", []string{"staff"}))

	// Manager rotates a fresh QR token.
	resp := api.get("/v1/attendance/qr/generate", nil, manager)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status: %d", resp.StatusCode)
	}
	issued := decode[qrTokenResponse](t, resp)
	if issued.Token == "" || issued.SequenceNumber != 1 {
		t.Fatalf("unexpected issued token: %+v", issued)
	}

	// Current returns the same token.
	resp = api.get("/v1/attendance/qr/current", nil, manager)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("current status: %d", resp.StatusCode)
	}
	current := decode[qrTokenResponse](t, resp)
	if current.Token != issued.Token {
		t.Fatalf("current token mismatch")
	}

	// Public validation requires no credentials.
	resp = api.get("/v1/attendance/validate/"+issued.Token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status: %d", resp.StatusCode)
	}
	check := decode[validateResponse](t, resp)
	if !check.Valid || check.ExpiresIn <= 0 {
		t.Fatalf("expected valid token, got %+v", check)
	}

	// Staff scans in.
	resp = api.post("/v1/attendance/record", map[string]any{
		"token":  issued.Token,
		"action": "checkin",
	}, staff)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkin status: %d", resp.StatusCode)
	}
	logEntry := decode[attendance.Log](t, resp)
	if logEntry.Action != attendance.ActionCheckin || logEntry.UserID != "emp-1" {
		t.Fatalf("unexpected log: %+v", logEntry)
	}

	// A second checkin on the same day conflicts.
	resp = api.post("/v1/attendance/record", map[string]any{
		"token":  issued.Token,
		"action": "checkin",
	}, staff)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double checkin, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Checkout closes the session, a second one conflicts.
	resp = api.post("/v1/attendance/record", map[string]any{
		"token":  issued.Token,
		"action": "checkout",
	}, staff)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout status: %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.post("/v1/attendance/record", map[string]any{
		"token":  issued.Token,
		"action": "checkout",
	}, staff)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double checkout, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Staff can list their own history.
	resp = api.get("/v1/attendance/history", nil, staff)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status: %d", resp.StatusCode)
	}
	history := decode[historyResponse](t, resp)
	if len(history.Items) != 2 {
		t.Fatalf("expected 2 history items, got %d", len(history.Items))
	}
}

func TestRecordRejectsInvalidToken(t *testing.T) {
	api := newTestAPI(t)
	staff := bearerHeader(api.obtainToken("emp-1", []string{"staff"}))

	resp := api.post("/v1/attendance/record", map[string]any{
		"token":  "no-such-token",
		"action": "checkin",
	}, staff)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestValidateUnknownTokenAnswersInvalid(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/attendance/validate/bogus", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status: %d", resp.StatusCode)
	}
	check := decode[validateResponse](t, resp)
	if check.Valid {
		t.Fatalf("expected invalid verdict")
	}
}

func TestRecordOnBehalfRequiresIssuerRole(t *testing.T) {
	api := newTestAPI(t)
	manager := bearerHeader(api.obtainToken("mgr-1", []string{"manager"}))
	staff := bearerHeader(api.obtainToken("emp-1", []string{"staff"}))

	resp := api.get("/v1/attendance/qr/generate", nil, manager)
	issued := decode[qrTokenResponse](t, resp)

	resp = api.post("/v1/attendance/record", map[string]any{
		"user_id": "emp-2",
		"token":   issued.Token,
		"action":  "checkin",
	}, staff)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/attendance/record", map[string]any{
		"user_id": "emp-2",
		"token":   issued.Token,
		"action":  "checkin",
	}, manager)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected manager to record for emp-2, got %d", resp.StatusCode)
	}
	logEntry := decode[attendance.Log](t, resp)
	if logEntry.UserID != "emp-2" {
		t.Fatalf("unexpected target user: %s", logEntry.UserID)
	}
}

func TestIssuerRoutesRejectStaff(t *testing.T) {
	api := newTestAPI(t)
	staff := bearerHeader(api.obtainToken("emp-1", []string{"staff"}))

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/attendance/qr/generate"},
		{http.MethodGet, "/v1/attendance/qr/current"},
	} {
		resp := api.get(route.path, nil, staff)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", route.path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := api.post("/v1/attendance/qr/cleanup", nil, staff)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cleanup: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHistoryOfOthersRequiresIssuerRole(t *testing.T) {
	api := newTestAPI(t)
	staff := bearerHeader(api.obtainToken("emp-1", []string{"staff"}))
	manager := bearerHeader(api.obtainToken("mgr-1", []string{"manager"}))

	resp := api.get("/v1/attendance/history", url.Values{"user_id": {"emp-2"}}, staff)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/attendance/history", url.Values{"user_id": {"emp-2"}}, manager)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for manager, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCheckAbsentSweepIsIdempotent(t *testing.T) {
	api := newTestAPI(t)
	manager := bearerHeader(api.obtainToken("mgr-1", []string{"manager"}))

	resp := api.post("/v1/attendance/check-absent", nil, manager)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sweep status: %d", resp.StatusCode)
	}
	first := decode[map[string]any](t, resp)
	if first["notified"].(float64) != 2 {
		t.Fatalf("expected 2 absences, got %v", first["notified"])
	}

	resp = api.post("/v1/attendance/check-absent", nil, manager)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sweep status: %d", resp.StatusCode)
	}
	second := decode[map[string]any](t, resp)
	if second["notified"].(float64) != 0 {
		t.Fatalf("expected re-run to notify nobody, got %v", second["notified"])
	}
}

func TestCorrectMarksLogManual(t *testing.T) {
	api := newTestAPI(t)
	manager := bearerHeader(api.obtainToken("mgr-1", []string{"manager"}))
	staff := bearerHeader(api.obtainToken("emp-1", []string{"staff"}))

	resp := api.get("/v1/attendance/qr/generate", nil, manager)
	issued := decode[qrTokenResponse](t, resp)

	resp = api.post("/v1/attendance/record", map[string]any{
		"token":  issued.Token,
		"action": "checkin",
	}, staff)
	logEntry := decode[attendance.Log](t, resp)

	corrected := logEntry.Timestamp.Add(-10 * time.Minute)
	resp = api.post("/v1/attendance/correct", map[string]any{
		"log_id":    logEntry.ID,
		"timestamp": corrected.Format(time.RFC3339),
		"note":      "badge reader lag",
	}, manager)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("correct status: %d", resp.StatusCode)
	}
	updated := decode[attendance.Log](t, resp)
	if updated.Method != attendance.MethodManual {
		t.Fatalf("expected manual method, got %s", updated.Method)
	}
	if updated.Metadata["original_timestamp"] == "" {
		t.Fatalf("expected original timestamp preserved")
	}

	resp = api.post("/v1/attendance/correct", map[string]any{
		"log_id": "missing",
	}, manager)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown log, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCleanupReportsExpiredCount(t *testing.T) {
	api := newTestAPI(t)
	manager := bearerHeader(api.obtainToken("mgr-1", []string{"manager"}))

	resp := api.post("/v1/attendance/qr/cleanup", nil, manager)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cleanup status: %d", resp.StatusCode)
	}
	payload := decode[map[string]any](t, resp)
	if _, ok := payload["expired"]; !ok {
		t.Fatalf("expected expired count in response")
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/attendance/record", map[string]any{
		"token":  "x",
		"action": "checkin",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"user": ""}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/auth/token", map[string]any{
		"user":  "someone",
		"roles": []string{"superuser"},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
