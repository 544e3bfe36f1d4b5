package automation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/cardflow/internal/auth"
	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/pkg/cerr"
)

// Server handles card creation and moves, both of which may trigger
// automation.
type Server struct {
	engine *Engine
}

func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

func (s *Server) Mount(r chi.Router) {
	r.Post("/boards/{boardID}/cards", s.createCard)
	r.Post("/cards/{cardID}/move", s.moveCard)
}

type CreateCardRequest struct {
	ColumnID    string   `json:"column_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Priority    string   `json:"priority"`
	Assignee    string   `json:"assignee"`
}

type MoveCardRequest struct {
	ColumnID       string `json:"column_id"`
	SkipAutomation bool   `json:"skip_automation"`
}

func (s *Server) createCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req CreateCardRequest
	if err := cerr.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Title == "" || req.ColumnID == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "title and column_id are required", nil)
		return
	}
	b, err := board.RequireMember(ctx, s.engine.boards, chi.URLParam(r, "boardID"), userID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	res, err := s.engine.CreateCard(ctx, &board.Card{
		ID:          ulid.Make().String(),
		BoardID:     b.ID,
		ColumnID:    req.ColumnID,
		Title:       req.Title,
		Description: req.Description,
		Labels:      req.Labels,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
	}, userID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, res)
}

func (s *Server) moveCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req MoveCardRequest
	if err := cerr.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.ColumnID == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "column_id is required", nil)
		return
	}
	card, err := s.engine.boards.GetCard(ctx, chi.URLParam(r, "cardID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if _, err := board.RequireMember(ctx, s.engine.boards, card.BoardID, userID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	res, err := s.engine.MoveCard(ctx, card, req.ColumnID, userID, board.MoveOptions{SkipAutomation: req.SkipAutomation})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, res)
}
