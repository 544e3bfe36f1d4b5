package task

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/cardflow/internal/auth"
	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/pkg/cerr"
)

// Canceller stops a task on behalf of actor.
type Canceller interface {
	Cancel(ctx context.Context, taskID, actor string) (*Task, error)
}

// BuildRequest is what a Builder gets from a task creation request.
type BuildRequest struct {
	Type  Type
	Board *board.Board
	// Card is nil for board level tasks.
	Card   *board.Card
	Actor  string
	Params map[string]any
}

// Builder constructs tasks of the types it handles, such as integration
// tasks, from the request payload.
type Builder interface {
	Handles(t Type) bool
	BuildTask(req BuildRequest) (*Task, error)
}

type Server struct {
	store     *Store
	boardRepo board.Repository
	canceller Canceller
	builder   Builder
}

func NewServer(store *Store, boardRepo board.Repository, canceller Canceller, builder Builder) *Server {
	return &Server{
		store:     store,
		boardRepo: boardRepo,
		canceller: canceller,
		builder:   builder,
	}
}

func (s *Server) Mount(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Post("/", s.createTask)
		r.Get("/{taskID}", s.getTask)
		r.Post("/{taskID}/cancel", s.cancelTask)
	})
}

type CreateTaskRequest struct {
	TaskType   Type           `json:"task_type"`
	BoardID    string         `json:"board_id"`
	CardID     string         `json:"card_id"`
	AssignedTo string         `json:"assigned_to"`
	AgentType  string         `json:"agent_type"`
	AgentSkill string         `json:"agent_skill"`
	AgentModel string         `json:"agent_model"`
	PromptText string         `json:"prompt_text"`
	Payload    map[string]any `json:"payload"`
	Priority   int            `json:"priority"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	q := r.URL.Query()
	f := Filter{BoardID: q.Get("board_id"), CardID: q.Get("card_id"), Status: Status(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "limit must be an integer", err)
			return
		}
	}
	if f.CardID != "" {
		card, err := s.boardRepo.GetCard(ctx, f.CardID)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		if f.BoardID != "" && f.BoardID != card.BoardID {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "card is not on this board", nil)
			return
		}
		f.BoardID = card.BoardID
	}
	if f.BoardID == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "board_id or card_id is required", nil)
		return
	}
	if _, err := board.RequireMember(ctx, s.boardRepo, f.BoardID, userID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	tasks, err := s.store.List(ctx, f)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	cerr.SetJSONResponse(ctx, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.store.Get(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if _, err := board.RequireMember(ctx, s.boardRepo, t.BoardID, userID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

// createTask queues a task by hand, e.g. a board_plan run. Card scoped
// tasks must name a card on the same board.
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req CreateTaskRequest
	if err := cerr.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.BoardID == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "board_id is required", nil)
		return
	}
	b, err := board.RequireMember(ctx, s.boardRepo, req.BoardID, userID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var card *board.Card
	if req.CardID != "" {
		if card, err = s.boardRepo.GetCard(ctx, req.CardID); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		if card.BoardID != req.BoardID {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "card is not on this board", nil)
			return
		}
	}
	t := &Task{
		TaskType:   req.TaskType,
		BoardID:    req.BoardID,
		CardID:     req.CardID,
		AssignedTo: req.AssignedTo,
		AgentType:  req.AgentType,
		AgentSkill: req.AgentSkill,
		AgentModel: req.AgentModel,
		PromptText: req.PromptText,
		Payload:    req.Payload,
		Priority:   req.Priority,
	}
	if s.builder != nil && s.builder.Handles(req.TaskType) {
		built, err := s.builder.BuildTask(BuildRequest{
			Type:   req.TaskType,
			Board:  b,
			Card:   card,
			Actor:  userID,
			Params: req.Payload,
		})
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		t = mergeBuilt(built, t)
	}
	t.CreatedBy = userID
	t, err = s.store.Create(ctx, t)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, t)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.canceller.Cancel(ctx, chi.URLParam(r, "taskID"), userID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

// mergeBuilt fills the fields a builder left empty from the request.
func mergeBuilt(built, req *Task) *Task {
	if req.AssignedTo != "" {
		built.AssignedTo = req.AssignedTo
	}
	if built.AgentType == "" {
		built.AgentType = req.AgentType
	}
	if built.AgentSkill == "" {
		built.AgentSkill = req.AgentSkill
	}
	if built.AgentModel == "" {
		built.AgentModel = req.AgentModel
	}
	if built.PromptText == "" {
		built.PromptText = req.PromptText
	}
	if req.Priority != 0 {
		built.Priority = req.Priority
	}
	return built
}
