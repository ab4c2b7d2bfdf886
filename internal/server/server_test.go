package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"degasline/internal/config"
	"degasline/internal/db"
	"degasline/internal/domain"
	"degasline/internal/engine"
	"degasline/internal/metrics"
	"degasline/internal/migrate"
	"degasline/internal/repo"
)

const testSecret = "test-secret"

var legacy = map[string]string{"X-Actor-Id": "roaster"}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Metrics = metrics.New()
	e.Now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	s := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(s.Close)
	return s
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return out
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) errorEnvelope {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("status = %d, want %d: %s", res.StatusCode, status, string(data))
	}
	env := decode[errorEnvelope](t, data)
	if env.Error.Code != code {
		t.Fatalf("code = %q, want %q: %s", env.Error.Code, code, string(data))
	}
	return env
}

func createBatch(t *testing.T, srv *testServer, id, roast, process string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches", map[string]any{
		"id": id, "roast_date": roast, "process": process,
	}, legacy)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create batch status %d: %s", res.StatusCode, string(data))
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	h := decode[HealthResponse](t, data)
	if h.Status != "ok" || h.SchemaVersion != 1 {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/batches", nil, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/batches", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/batches", nil, map[string]string{"X-Api-Key": "unknown"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")
}

func TestBatchLifecycle(t *testing.T) {
	srv := newTestServer(t)
	createBatch(t, srv, "R-1", "2024-01-01", "Lavado")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches", map[string]any{
		"id": "R-1", "roast_date": "2024-01-01", "process": "washed",
	}, legacy)
	expectError(t, res, data, http.StatusConflict, "conflict")

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches", map[string]any{
		"id": "R-2", "roast_date": "2024-01-01", "process": "wet-hulled",
	}, legacy)
	env := expectError(t, res, data, http.StatusBadRequest, "unrecognized_process")
	if env.Error.Details["value"] != "wet-hulled" {
		t.Fatalf("unexpected details: %v", env.Error.Details)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches", map[string]any{
		"id": "R-3", "roast_date": "yesterday", "process": "washed",
	}, legacy)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/batches/R-1", nil, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	b := decode[BatchResponse](t, data)
	if b.Process != "washed" || b.RoastDate != "2024-01-01" {
		t.Fatalf("unexpected batch: %+v", b)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/batches/missing", nil, legacy)
	expectError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/batches?limit=5", nil, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	if list := decode[[]BatchResponse](t, data); len(list) != 1 {
		t.Fatalf("expected one batch, got %+v", list)
	}
}

func TestRuleBasedAdviceWithJWT(t *testing.T) {
	srv := newTestServer(t)
	createBatch(t, srv, "R-1", "2024-01-01", "washed")
	token, err := SignToken(testSecret, "planner", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches/R-1/advice/rule-based", map[string]any{},
		map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advice status %d: %s", res.StatusCode, string(data))
	}
	out := decode[RuleBasedAdviceResponse](t, data)
	if out.Result.RiskLevel != domain.RiskMedium || out.Result.OptimalPackDate != "2024-01-13" || out.Result.LatestSafeDispatch != "2024-01-18" {
		t.Fatalf("unexpected result: %+v", out.Result)
	}
	if out.Assessment.ActorID != "planner" || out.Assessment.Model != "rule-based" {
		t.Fatalf("unexpected assessment: %+v", out.Assessment)
	}
}

func TestRuleBasedAdviceExplicitZeroFrequency(t *testing.T) {
	srv := newTestServer(t)
	createBatch(t, srv, "R-1", "2024-01-01", "washed")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches/R-1/advice/rule-based",
		map[string]any{"flight_frequency_days": 0}, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advice status %d: %s", res.StatusCode, string(data))
	}
	out := decode[RuleBasedAdviceResponse](t, data)
	if out.Result.RiskLevel != domain.RiskLow || !strings.Contains(out.Result.Reasoning, "flight frequency 0d") {
		t.Fatalf("explicit zero frequency replaced by default: %+v", out.Result)
	}
}

func TestPhysicalAdvice(t *testing.T) {
	srv := newTestServer(t)
	createBatch(t, srv, "R-9", "2024-01-01", "natural")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches/R-9/advice/physical", map[string]any{
		"roast_development": "dark", "packaging": "no-valve", "climate": "tropical",
	}, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("physical status %d: %s", res.StatusCode, string(data))
	}
	out := decode[PhysicalAdviceResponse](t, data)
	if out.Result.DaysToSafety != 16 || out.Result.RiskLevel != domain.RiskCritical || len(out.Result.PressureCurve) != 22 {
		t.Fatalf("unexpected result: %+v", out.Result)
	}
	if !out.Assessment.Blocked {
		t.Fatal("critical advice should block dispatch")
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches/R-9/advice/physical", map[string]any{
		"climate": "desert",
	}, legacy)
	env := expectError(t, res, data, http.StatusBadRequest, "unrecognized_parameter")
	if env.Error.Details["parameter"] != "climate" {
		t.Fatalf("unexpected details: %v", env.Error.Details)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches/none/advice/physical", map[string]any{}, legacy)
	expectError(t, res, data, http.StatusNotFound, "not_found")
}

func TestCompareAndAssessments(t *testing.T) {
	srv := newTestServer(t)
	createBatch(t, srv, "R-1", "2024-01-01", "washed")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches/R-1/advice/compare", map[string]any{}, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("compare status %d: %s", res.StatusCode, string(data))
	}
	type comparison struct {
		Advices []struct {
			Model     string `json:"model"`
			ReadyDate string `json:"ready_date"`
		} `json:"advices"`
		RiskAgreement       bool `json:"risk_agreement"`
		ReadyDateSpreadDays int  `json:"ready_date_spread_days"`
	}
	cmp := decode[comparison](t, data)
	if len(cmp.Advices) != 2 || cmp.RiskAgreement || cmp.ReadyDateSpreadDays != 4 {
		t.Fatalf("unexpected comparison: %s", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/batches/R-1/assessments", nil, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assessments status %d: %s", res.StatusCode, string(data))
	}
	items := decode[[]AssessmentResponse](t, data)
	if len(items) != 2 {
		t.Fatalf("expected two assessments, got %d", len(items))
	}
	for _, a := range items {
		if a.Result["batch_id"] != "R-1" {
			t.Fatalf("result missing batch id: %+v", a)
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/batches/missing/assessments", nil, legacy)
	expectError(t, res, data, http.StatusNotFound, "not_found")
}

func TestSimulateDoesNotPersist(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/simulate", map[string]any{
		"roast_date": "2024-01-01", "process": "natural",
		"roast_development": "dark", "packaging": "no-valve", "climate": "tropical",
	}, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("simulate status %d: %s", res.StatusCode, string(data))
	}
	out := decode[domain.PhysicalResult](t, data)
	if out.DaysToSafety != 16 || out.RecommendedShipDate != "2024-01-19" || out.SafetyFactor != 11.3 {
		t.Fatalf("unexpected simulation: %+v", out)
	}
	id, err := srv.Engine.Repo.LatestEventID(context.Background())
	if err != nil || id != 0 {
		t.Fatalf("simulate must not write events: id=%d err=%v", id, err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/simulate", map[string]any{
		"roast_date": "2024-01-01", "process": "peaberry",
	}, legacy)
	expectError(t, res, data, http.StatusBadRequest, "unrecognized_process")
}

func TestFleetAssess(t *testing.T) {
	srv := newTestServer(t)
	createBatch(t, srv, "a", "2024-01-01", "washed")
	createBatch(t, srv, "b", "2024-01-03", "honey_red")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/fleet/assess", map[string]any{"limit": 5}, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fleet status %d: %s", res.StatusCode, string(data))
	}
	out := decode[FleetResponse](t, data)
	if len(out.Items) != 2 || out.Items[0].BatchID != "b" || out.Items[0].Error == "" || out.Items[1].Comparison == nil {
		t.Fatalf("unexpected fleet: %s", string(data))
	}
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		createBatch(t, srv, id, "2024-01-01", "honey")
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?type=batch.registered&limit=2", nil, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 2 || page.Items[0].EntityID != "c" || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page.Items[0].Payload["process"] != "honey" {
		t.Fatalf("payload not decoded: %+v", page.Items[0])
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?type=batch.registered&limit=2&cursor="+page.NextCursor, nil, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	page = decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.Items[0].EntityID != "a" || page.NextCursor != "" {
		t.Fatalf("unexpected second page: %+v", page)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, legacy)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID: "k1", ActorID: "dispatcher", KeyHash: repo.HashAPIKey("s3cret"), CreatedAt: "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("insert key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches", map[string]any{
		"id": "K-1", "roast_date": "2024-01-01", "process": "honey",
	}, map[string]string{"X-Api-Key": "s3cret"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with api key status %d: %s", res.StatusCode, string(data))
	}
	evts, err := srv.Engine.Repo.LatestEvents(context.Background(), 1, repo.EventFilter{})
	if err != nil || len(evts) != 1 || evts[0].ActorID != "dispatcher" {
		t.Fatalf("expected event by dispatcher, got %+v (%v)", evts, err)
	}
}

func TestMetricsAndOpenAPI(t *testing.T) {
	srv := newTestServer(t)
	createBatch(t, srv, "R-1", "2024-01-01", "washed")
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches/R-1/advice/rule-based", map[string]any{}, legacy)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), `degasline_advisories_total{model="rule-based",risk="medium"} 1`) {
		t.Fatalf("advisory counter missing:\n%s", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	for _, p := range []string{"/v0/batches", "/v0/batches/{batch_id}/advice/compare", "/v0/simulate", "/v0/fleet/assess"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Fatalf("openapi missing %s", p)
		}
	}
}

func TestWebhookDeliversBlockedDispatch(t *testing.T) {
	srv := newTestServer(t)
	var (
		mu       sync.Mutex
		received []webhookEvent
		headers  []http.Header
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			t.Errorf("decode webhook: %v", err)
		}
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ctx := context.Background()
	d := newWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{{
		URL: hook.URL, Events: []string{"dispatch.blocked"}, Secret: "shh",
	}}, zerolog.Nop())

	createBatch(t, srv, "old", "2024-01-01", "natural")
	d.dispatchAll(ctx) // pins the cursor at the current head

	createBatch(t, srv, "R-9", "2024-01-01", "natural")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/batches/R-9/advice/rule-based", map[string]any{}, legacy)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advice status %d: %s", res.StatusCode, string(data))
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %+v", received)
	}
	if received[0].Type != "dispatch.blocked" || received[0].EntityID != "R-9" {
		t.Fatalf("unexpected delivery: %+v", received[0])
	}
	if headers[0].Get("X-Degasline-Event") != "dispatch.blocked" || headers[0].Get("X-Degasline-Secret") != "shh" {
		t.Fatalf("unexpected headers: %v", headers[0])
	}
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	if !all.match("anything") {
		t.Fatal("empty filter should match everything")
	}
	f := newEventFilter([]string{" dispatch.blocked ", ""})
	if !f.match("dispatch.blocked") || f.match("batch.registered") {
		t.Fatal("filter mismatch")
	}
}
