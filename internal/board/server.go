package board

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/cardflow/internal/auth"
	"github.com/kazz187/cardflow/pkg/cerr"
)

// Server exposes read access to boards. Card writes live with the
// automation server since every move may trigger a task.
type Server struct {
	repo Repository
}

func NewServer(repo Repository) *Server {
	return &Server{repo: repo}
}

func (s *Server) Mount(r chi.Router) {
	r.Get("/boards", s.listBoards)
	r.Get("/boards/{boardID}", s.getBoard)
	r.Get("/cards/{cardID}", s.getCard)
}

type BoardResponse struct {
	Board   *Board    `json:"board"`
	Columns []*Column `json:"columns"`
}

func (s *Server) listBoards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	boards, err := s.repo.ListBoardsForMember(ctx, userID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if boards == nil {
		boards = []*Board{}
	}
	cerr.SetJSONResponse(ctx, boards)
}

func (s *Server) getBoard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	b, err := RequireMember(ctx, s.repo, chi.URLParam(r, "boardID"), userID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	columns, err := s.repo.ListColumns(ctx, b.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &BoardResponse{Board: b, Columns: columns})
}

func (s *Server) getCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	card, err := s.repo.GetCard(ctx, chi.URLParam(r, "cardID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if _, err := RequireMember(ctx, s.repo, card.BoardID, userID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, card)
}
