package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tutu-network/sentinel/internal/alerts"
	"github.com/tutu-network/sentinel/internal/domain"
	"github.com/tutu-network/sentinel/internal/failsafe"
	"github.com/tutu-network/sentinel/internal/health"
	"github.com/tutu-network/sentinel/internal/infra/sqlite"
	"github.com/tutu-network/sentinel/internal/orchestrator"
	"github.com/tutu-network/sentinel/internal/registry"
)

type fakeSource struct {
	items []domain.RawItem
}

func (f *fakeSource) Fetch(ctx context.Context, params domain.SourceParams, yield func(domain.RawItem) bool) error {
	for _, item := range f.items {
		if !yield(item) {
			return nil
		}
	}
	return nil
}

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	srv, db, cleanup := newTestServerWithDB(t)
	_ = db
	return srv, cleanup
}

func newTestServerWithDB(t *testing.T) (*Server, *sqlite.DB, func()) {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open db: %v", err)
	}

	dispatcher := failsafe.New(nil, failsafe.DefaultConfig(), time.Second)
	rules, err := alerts.LoadDefaultRules()
	if err != nil {
		t.Fatalf("LoadDefaultRules: %v", err)
	}
	evaluator := alerts.New(rules)
	reg := registry.New(time.Hour)
	source := &fakeSource{items: []domain.RawItem{{ID: "p1", Body: "a perfectly fine day"}}}

	orch := orchestrator.New(source, dispatcher, evaluator, db, reg, orchestrator.DefaultConfig())
	checker := health.NewChecker(db, func(ctx context.Context) error { return nil }, dispatcher)
	checker.Statuses() // no-op read to mirror daemon startup ordering

	srv := NewServer(orch, dispatcher, reg, db, checker)

	cleanup := func() { db.Close() }
	return srv, db, cleanup
}

func doRequest(srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		buf, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(buf))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestAPI_Health(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body map[string]interface{}
	json.NewDecoder(w.Body).Decode(&body)
	if status, _ := body["status"].(string); status != "ok" {
		t.Errorf("status = %q, want %q", status, "ok")
	}
	if _, ok := body["uptime_s"]; !ok {
		t.Error("expected uptime_s in response")
	}
	if phase, _ := body["circuit_phase"].(string); phase != "closed" {
		t.Errorf("circuit_phase = %q, want closed", phase)
	}
	if _, ok := body["active_pipelines"]; !ok {
		t.Error("expected active_pipelines in response")
	}
	if _, ok := body["last_error"]; ok {
		t.Error("expected no last_error when all checks pass")
	}
}

func TestAPI_Predict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "POST", "/predict", predictRequest{Text: "I am so happy today"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var verdict domain.SentimentVerdict
	json.NewDecoder(w.Body).Decode(&verdict)
	if verdict.Label != domain.LabelPositive {
		t.Errorf("label = %q, want positive", verdict.Label)
	}
	if verdict.Source != domain.SourceFallback {
		t.Errorf("source = %q, want fallback (no model client configured)", verdict.Source)
	}
}

func TestAPI_Predict_MissingText(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "POST", "/predict", predictRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPI_FailsafeStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "GET", "/failsafe/status", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var snap failsafe.Snapshot
	json.NewDecoder(w.Body).Decode(&snap)
	if snap.Phase != "closed" {
		t.Errorf("phase = %q, want closed", snap.Phase)
	}
}

func TestAPI_PipelineRun_MissingSubreddit(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "POST", "/pipeline/run", domain.PipelineRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPI_PipelineRun_DefaultsStagesAndReportsStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := domain.PipelineRequest{SourceParams: domain.SourceParams{Subreddit: "test", PostLimit: 1}}
	w := doRequest(srv, "POST", "/pipeline/run", req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d, body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	id := resp["pipeline_id"]
	if id == "" {
		t.Fatal("expected a pipeline_id in response")
	}

	deadline := time.Now().Add(2 * time.Second)
	var statusCode int
	for time.Now().Before(deadline) {
		w = doRequest(srv, "GET", "/pipeline/"+id+"/status", nil)
		statusCode = w.Code
		if statusCode == http.StatusOK {
			var pipeline domain.Pipeline
			json.NewDecoder(w.Body).Decode(&pipeline)
			if pipeline.State.IsTerminal() {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	if statusCode != http.StatusOK {
		t.Fatalf("status endpoint returned %d", statusCode)
	}
}

func TestAPI_PipelineStatus_NotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "GET", "/pipeline/does-not-exist/status", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPI_PipelineCancel_NotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "DELETE", "/pipeline/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPI_PipelineCancel_ReturnsCancelledBool(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := domain.PipelineRequest{SourceParams: domain.SourceParams{Subreddit: "test", PostLimit: 1}}
	w := doRequest(srv, "POST", "/pipeline/run", req)
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	id := resp["pipeline_id"]

	w = doRequest(srv, "DELETE", "/pipeline/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body map[string]bool
	json.NewDecoder(w.Body).Decode(&body)
	if !body["cancelled"] {
		t.Errorf("body = %v, want {cancelled: true}", body)
	}
}

func TestAPI_PipelineActive_ReturnsPipelinesWithStages(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := domain.PipelineRequest{SourceParams: domain.SourceParams{Subreddit: "test", PostLimit: 1}}
	doRequest(srv, "POST", "/pipeline/run", req)

	w := doRequest(srv, "GET", "/pipeline/active", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var pipelines []domain.Pipeline
	if err := json.NewDecoder(w.Body).Decode(&pipelines); err != nil {
		t.Fatalf("decode []domain.Pipeline: %v", err)
	}
	for _, p := range pipelines {
		if len(p.Stages) == 0 {
			t.Errorf("pipeline %s has no stages", p.ID)
		}
	}
}

func TestAPI_PipelineHistory_ReturnsPipelinesWithStages(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := domain.PipelineRequest{SourceParams: domain.SourceParams{Subreddit: "test", PostLimit: 1}}
	w := doRequest(srv, "POST", "/pipeline/run", req)
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	id := resp["pipeline_id"]

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w = doRequest(srv, "GET", "/pipeline/"+id+"/status", nil)
		var pipeline domain.Pipeline
		json.NewDecoder(w.Body).Decode(&pipeline)
		if pipeline.State.IsTerminal() {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	w = doRequest(srv, "GET", "/pipeline/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var pipelines []domain.Pipeline
	if err := json.NewDecoder(w.Body).Decode(&pipelines); err != nil {
		t.Fatalf("decode []domain.Pipeline: %v", err)
	}
	found := false
	for _, p := range pipelines {
		if p.ID == id {
			found = true
			if len(p.Stages) == 0 {
				t.Error("expected history entry to include stage tasks")
			}
		}
	}
	if !found {
		t.Errorf("pipeline %s not found in history", id)
	}
}

func TestAPI_AlertsList_Empty(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "GET", "/alerts/?status=active", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var alerts []domain.Alert
	json.NewDecoder(w.Body).Decode(&alerts)
	if len(alerts) != 0 {
		t.Errorf("len(alerts) = %d, want 0", len(alerts))
	}
}

func TestAPI_AlertStatus_ReturnsOkBool(t *testing.T) {
	srv, db, cleanup := newTestServerWithDB(t)
	defer cleanup()

	id, err := db.StoreAlert(context.Background(), domain.Alert{
		ContentID: "c1",
		Kind:      domain.AlertStress,
		Severity:  domain.SeverityMedium,
		Status:    domain.AlertActive,
	})
	if err != nil {
		t.Fatalf("StoreAlert: %v", err)
	}

	w := doRequest(srv, "POST", "/alerts/"+id+"/status", alertStatusRequest{Status: domain.AlertReviewed})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body map[string]bool
	json.NewDecoder(w.Body).Decode(&body)
	if !body["ok"] {
		t.Errorf("body = %v, want {ok: true}", body)
	}
}

func TestAPI_AlertStatus_NotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "POST", "/alerts/does-not-exist/status", alertStatusRequest{Status: domain.AlertReviewed})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPI_AlertStatus_InvalidStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "POST", "/alerts/some-id/status", map[string]string{"status": "bogus"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPI_CORS(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := doRequest(srv, "OPTIONS", "/predict", nil)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS: Access-Control-Allow-Origin should be *")
	}
}
