package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"routeworker/internal/events"
	"routeworker/internal/metrics"
	"routeworker/internal/opt"
	"routeworker/internal/queue"
	"routeworker/internal/store"
)

func newTestServer(t *testing.T) (*Server, *queue.Memory) {
	t.Helper()
	q := queue.NewMemory()
	s := &Server{
		Store:  store.NewMemory(),
		Broker: events.NewBroker(),
		Runs:   opt.NewRegistry(10),
		Solver: opt.DefaultConfig(),
		Queue:  q,
		Config: map[string]any{"queue": "logistic-request"},
	}
	return s, q
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthReady(t *testing.T) {
	s, q := newTestServer(t)
	h := s.Routes()
	if rr := get(t, h, "/healthz"); rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := get(t, h, "/readyz"); rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
	_ = q.Close()
	rr := get(t, h, "/readyz")
	if rr.Code != 503 {
		t.Fatalf("ready after queue close: got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type = %s", ct)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing on 503")
	}
	var p Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("problem body: %v", err)
	}
	if p.Status != 503 || !p.Retryable || p.Instance != "/readyz" || !strings.HasPrefix(p.Detail, "queue:") {
		t.Fatalf("problem = %+v", p)
	}
}

func TestVersion(t *testing.T) {
	s, _ := newTestServer(t)
	out := decode(t, get(t, s.Routes(), "/version"))
	build, ok := out["build"].(map[string]any)
	if !ok || build["version"] == "" {
		t.Fatalf("build info missing: %+v", out)
	}
	if _, ok := out["config"]; !ok {
		t.Fatal("config missing")
	}
}

func TestSolverConfig(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()
	out := decode(t, get(t, h, "/v1/admin/solver/config?stops=10"))
	if out["generationBudget"].(float64) != 100 {
		t.Fatalf("budget = %v", out["generationBudget"])
	}
	cfg := out["config"].(map[string]any)
	if cfg["population"].(float64) != 1000 || cfg["seed"].(float64) != 42 {
		t.Fatalf("config = %+v", cfg)
	}
	if rr := get(t, h, "/v1/admin/solver/config?stops=x"); rr.Code != 400 {
		t.Fatalf("bad stops: got %d", rr.Code)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/v1/admin/solver/config", strings.NewReader(`{}`)))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("put: got %d", rr.Code)
	}
}

func TestSolveMetricsList(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	for _, cid := range []string{"a", "b", "a"} {
		if _, err := s.Store.SaveSolveRecord(ctx, store.SolveRecord{CorrelationID: cid, Outcome: "acked"}); err != nil {
			t.Fatal(err)
		}
	}
	h := s.Routes()
	out := decode(t, get(t, h, "/v1/admin/solve-metrics?correlationId=a&limit=1"))
	items := out["items"].([]any)
	if len(items) != 1 || out["nextCursor"] == "" {
		t.Fatalf("page = %+v", out)
	}
	next := out["nextCursor"].(string)
	out = decode(t, get(t, h, "/v1/admin/solve-metrics?correlationId=a&cursor="+next))
	if items := out["items"].([]any); len(items) != 1 {
		t.Fatalf("page 2 = %+v", out)
	}
	if rr := get(t, h, "/v1/admin/solve-metrics?cursor=nope"); rr.Code != 400 {
		t.Fatalf("bad cursor: got %d", rr.Code)
	}
	if rr := get(t, h, "/v1/admin/solve-metrics?limit=-1"); rr.Code != 400 {
		t.Fatalf("bad limit: got %d", rr.Code)
	}
}

func TestSolveRuns(t *testing.T) {
	s, _ := newTestServer(t)
	s.Runs.Record("run-1", opt.Metrics{
		Generations: 2,
		BestHistory: []float64{3, 2, 1},
		Snapshots:   []opt.GenerationSnapshot{{Generation: 2, Best: 1, Mean: 2}},
	})
	h := s.Routes()
	out := decode(t, get(t, h, "/v1/admin/solve-runs"))
	if ids := out["items"].([]any); len(ids) != 1 || ids[0] != "run-1" {
		t.Fatalf("runs = %+v", out)
	}
	run := decode(t, get(t, h, "/v1/admin/solve-runs/run-1"))
	if len(run["bestHistory"].([]any)) != 3 || len(run["snapshots"].([]any)) != 1 {
		t.Fatalf("run = %+v", run)
	}
	run = decode(t, get(t, h, "/v1/admin/solve-runs/run-1?includeHistory=false"))
	if _, ok := run["bestHistory"]; ok {
		t.Fatal("history included")
	}
	if rr := get(t, h, "/v1/admin/solve-runs/unknown"); rr.Code != 404 {
		t.Fatalf("unknown run: got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RegisterDefault()
	s, _ := newTestServer(t)
	h := s.Routes()
	_ = get(t, h, "/healthz")
	rr := get(t, h, "/metrics")
	if rr.Code != 200 {
		t.Fatalf("metrics: got %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), `http_requests_total{method="GET",path="/healthz",status="200"}`) {
		t.Fatalf("request counter missing:\n%s", body)
	}
}

func TestEventsWebSocket(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/ws?topic=c1"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Close() }()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ack wsMessage
	if err := c.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
		t.Fatalf("ack: %+v %v", ack, err)
	}
	s.Broker.Publish("other", events.Event{Type: events.JobReceived})
	s.Broker.Publish("c1", events.Event{Type: events.JobAcked, Data: map[string]any{"outcome": "acked"}})

	var msg wsMessage
	if err := c.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != events.JobAcked || msg.Data["outcome"] != "acked" {
		t.Fatalf("event = %+v", msg)
	}
}
