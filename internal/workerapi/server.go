// Package workerapi is the HTTP protocol remote workers speak: register,
// heartbeat, poll, claim and report.
package workerapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/cardflow/internal/auth"
	"github.com/kazz187/cardflow/internal/dispatch"
	"github.com/kazz187/cardflow/internal/orchestrator"
	"github.com/kazz187/cardflow/internal/worker"
	"github.com/kazz187/cardflow/pkg/cerr"
	"github.com/kazz187/cardflow/pkg/clog"
)

// Settings are handed to a worker when it registers.
type Settings struct {
	MaxConcurrentTasks       int
	PollIntervalSeconds      int
	HeartbeatIntervalSeconds int
}

type Server struct {
	registry     *worker.Registry
	dispatcher   *dispatch.Dispatcher
	orchestrator *orchestrator.Orchestrator
	settings     Settings
}

func NewServer(registry *worker.Registry, dispatcher *dispatch.Dispatcher, orch *orchestrator.Orchestrator, settings Settings) *Server {
	return &Server{
		registry:     registry,
		dispatcher:   dispatcher,
		orchestrator: orch,
		settings:     settings,
	}
}

func (s *Server) Mount(r chi.Router) {
	r.Route("/worker", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/heartbeat", s.heartbeat)
		r.Get("/poll", s.poll)
		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Post("/claim", s.claim)
			r.Post("/progress", s.progress)
			r.Post("/complete", s.complete)
			r.Post("/fail", s.fail)
		})
	})
}

type RegisterRequest struct {
	Hostname      string   `json:"hostname"`
	WorkerVersion string   `json:"worker_version"`
	Capabilities  []string `json:"capabilities"`
}

type RegisterResponse struct {
	WorkerID                 string `json:"worker_id"`
	MaxConcurrentTasks       int    `json:"max_concurrent_tasks"`
	PollIntervalSeconds      int    `json:"poll_interval_seconds"`
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval_seconds"`
}

type HeartbeatRequest struct {
	WorkerID       string   `json:"worker_id"`
	RunningTaskIDs []string `json:"running_task_ids"`
}

type HeartbeatResponse struct {
	Status        worker.Status `json:"status"`
	CancelTaskIDs []string      `json:"cancel_task_ids"`
}

type ClaimRequest struct {
	WorkerID string `json:"worker_id"`
}

type ProgressRequest struct {
	WorkerID     string `json:"worker_id"`
	ProgressText string `json:"progress_text"`
	Step         int    `json:"step"`
	TotalSteps   int    `json:"total_steps"`
	Phase        string `json:"phase"`
}

type CompleteRequest struct {
	WorkerID   string         `json:"worker_id"`
	OutputText string         `json:"output_text"`
	ResultData map[string]any `json:"result_data"`
}

type FailRequest struct {
	WorkerID     string `json:"worker_id"`
	ErrorSummary string `json:"error_summary"`
	OutputText   string `json:"output_text"`
}

type OutcomeResponse struct {
	Status     string `json:"status"`
	NextAction string `json:"next_action"`
}

// caller returns the principal and decodes the body into req, reporting
// errors on the response.
func caller(r *http.Request, req any) (string, bool) {
	ctx := r.Context()
	owner, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return "", false
	}
	if req != nil {
		if err := cerr.DecodeJSON(r, req); err != nil {
			cerr.SetJSONError(ctx, err)
			return "", false
		}
	}
	return owner, true
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RegisterRequest
	owner, ok := caller(r, &req)
	if !ok {
		return
	}
	wk, err := s.registry.Register(ctx, owner, worker.Registration{
		Hostname:      req.Hostname,
		WorkerVersion: req.WorkerVersion,
		Capabilities:  req.Capabilities,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	clog.AddAttribute(ctx, "worker_id", wk.ID)
	cerr.SetJSONResponse(ctx, &RegisterResponse{
		WorkerID:                 wk.ID,
		MaxConcurrentTasks:       s.settings.MaxConcurrentTasks,
		PollIntervalSeconds:      s.settings.PollIntervalSeconds,
		HeartbeatIntervalSeconds: s.settings.HeartbeatIntervalSeconds,
	})
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req HeartbeatRequest
	owner, ok := caller(r, &req)
	if !ok {
		return
	}
	clog.AddAttribute(ctx, "worker_id", req.WorkerID)
	res, err := s.registry.Heartbeat(ctx, req.WorkerID, owner, req.RunningTaskIDs)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &HeartbeatResponse{Status: res.Status, CancelTaskIDs: res.CancelTaskIDs})
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := caller(r, nil)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "limit must be an integer", err)
			return
		}
		limit = n
	}
	tasks, err := s.dispatcher.Poll(ctx, q.Get("worker_id"), owner, limit)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, tasks)
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ClaimRequest
	owner, ok := caller(r, &req)
	if !ok {
		return
	}
	taskID := chi.URLParam(r, "taskID")
	clog.AddAttributes(ctx, map[string]any{"worker_id": req.WorkerID, "task_id": taskID})
	t, err := s.dispatcher.Claim(ctx, taskID, req.WorkerID, owner)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ProgressRequest
	owner, ok := caller(r, &req)
	if !ok {
		return
	}
	t, err := s.orchestrator.ReportProgress(ctx, chi.URLParam(r, "taskID"), req.WorkerID, owner, orchestrator.Progress{
		Text:       req.ProgressText,
		Step:       req.Step,
		TotalSteps: req.TotalSteps,
		Phase:      req.Phase,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"status": t.Status})
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CompleteRequest
	owner, ok := caller(r, &req)
	if !ok {
		return
	}
	taskID := chi.URLParam(r, "taskID")
	clog.AddAttributes(ctx, map[string]any{"worker_id": req.WorkerID, "task_id": taskID})
	out, err := s.orchestrator.Complete(ctx, taskID, req.WorkerID, owner, req.OutputText, req.ResultData)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, outcomeResponse(out))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req FailRequest
	owner, ok := caller(r, &req)
	if !ok {
		return
	}
	taskID := chi.URLParam(r, "taskID")
	clog.AddAttributes(ctx, map[string]any{"worker_id": req.WorkerID, "task_id": taskID})
	out, err := s.orchestrator.Fail(ctx, taskID, req.WorkerID, owner, req.ErrorSummary, req.OutputText)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, outcomeResponse(out))
}

func outcomeResponse(out *orchestrator.Outcome) *OutcomeResponse {
	return &OutcomeResponse{Status: string(out.Status), NextAction: string(out.NextAction)}
}
