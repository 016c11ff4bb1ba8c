// Package api provides sentinel's HTTP surface: submitting and
// inspecting pipelines, ad hoc prediction, failsafe status, and alert
// triage.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/sentinel/internal/domain"
	"github.com/tutu-network/sentinel/internal/failsafe"
	"github.com/tutu-network/sentinel/internal/health"
	"github.com/tutu-network/sentinel/internal/orchestrator"
	"github.com/tutu-network/sentinel/internal/registry"
)

// Server is sentinel's HTTP API server.
type Server struct {
	orch           *orchestrator.Orchestrator
	dispatcher     *failsafe.Dispatcher
	reg            *registry.Registry
	store          domain.ResultStore
	checker        *health.Checker
	metricsEnabled bool
	startedAt      time.Time
}

// NewServer wires an API server around the daemon's collaborators.
func NewServer(orch *orchestrator.Orchestrator, dispatcher *failsafe.Dispatcher, reg *registry.Registry, store domain.ResultStore, checker *health.Checker) *Server {
	return &Server{orch: orch, dispatcher: dispatcher, reg: reg, store: store, checker: checker, startedAt: time.Now()}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Post("/predict", s.handlePredict)
	r.Get("/failsafe/status", s.handleFailsafeStatus)

	r.Route("/pipeline", func(r chi.Router) {
		r.Post("/run", s.handlePipelineRun)
		r.Get("/active", s.handlePipelineActive)
		r.Get("/history", s.handlePipelineHistory)
		r.Get("/{id}/status", s.handlePipelineStatus)
		r.Delete("/{id}", s.handlePipelineCancel)
	})

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", s.handleAlertsList)
		r.Post("/{id}/status", s.handleAlertStatus)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.checker.IsHealthy()
	httpStatus := http.StatusOK
	status := "ok"
	if !healthy {
		httpStatus = http.StatusServiceUnavailable
		status = "degraded"
	}

	var lastError string
	for _, st := range s.checker.Statuses() {
		if !st.Healthy {
			lastError = st.Error
			break
		}
	}

	active := len(s.reg.List(registry.ListFilter{Type: domain.TaskPipeline, State: domain.TaskRunning}))

	resp := map[string]interface{}{
		"status":           status,
		"uptime_s":         int64(time.Since(s.startedAt).Seconds()),
		"circuit_phase":    s.dispatcher.Phase(),
		"active_pipelines": active,
	}
	if lastError != "" {
		resp["last_error"] = lastError
	}
	writeJSON(w, httpStatus, resp)
}

type predictRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	verdict := s.dispatcher.Predict(r.Context(), req.Text, req.Model)
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleFailsafeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

func (s *Server) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	var req domain.PipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.SourceParams.Subreddit == "" {
		writeError(w, http.StatusBadRequest, "source_params.subreddit is required")
		return
	}
	if len(req.Stages) == 0 {
		req.Stages = []domain.Stage{domain.StageScrape, domain.StageProcess, domain.StageClean, domain.StagePersist}
	}

	id := s.orch.Submit(r.Context(), req)
	writeJSON(w, http.StatusAccepted, map[string]string{"pipeline_id": id})
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	writeJSON(w, http.StatusOK, s.toPipeline(task))
}

func (s *Server) handlePipelineCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// toPipeline annotates task with its child stage tasks, the shape every
// pipeline-listing endpoint is required to return.
func (s *Server) toPipeline(task domain.Task) domain.Pipeline {
	return domain.Pipeline{Task: task, Stages: s.reg.List(registry.ListFilter{ParentID: task.ID})}
}

func (s *Server) handlePipelineActive(w http.ResponseWriter, r *http.Request) {
	pending := s.reg.List(registry.ListFilter{Type: domain.TaskPipeline, State: domain.TaskPending})
	running := s.reg.List(registry.ListFilter{Type: domain.TaskPipeline, State: domain.TaskRunning})

	tasks := append(pending, running...)
	out := make([]domain.Pipeline, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, s.toPipeline(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePipelineHistory(w http.ResponseWriter, r *http.Request) {
	all := s.reg.List(registry.ListFilter{Type: domain.TaskPipeline})

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	out := make([]domain.Pipeline, 0, len(all))
	for _, t := range all {
		if !t.State.IsTerminal() {
			continue
		}
		if !since.IsZero() && t.CreatedAt.Before(since) {
			continue
		}
		out = append(out, s.toPipeline(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAlertsList(w http.ResponseWriter, r *http.Request) {
	status := domain.AlertStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.AlertActive
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	alerts, err := s.store.ListAlerts(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list alerts: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type alertStatusRequest struct {
	Status domain.AlertStatus `json:"status"`
	Note   string             `json:"note,omitempty"`
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req alertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	switch req.Status {
	case domain.AlertActive, domain.AlertReviewed, domain.AlertResolved:
	default:
		writeError(w, http.StatusBadRequest, "status must be active, reviewed, or resolved")
		return
	}

	found, err := s.store.UpdateAlertStatus(r.Context(), id, req.Status, req.Note)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update alert: "+err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": msg,
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
