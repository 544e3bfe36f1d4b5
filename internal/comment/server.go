package comment

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/cardflow/internal/auth"
	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/pkg/cerr"
)

type Server struct {
	repo      Repository
	boardRepo board.Repository
}

func NewServer(repo Repository, boardRepo board.Repository) *Server {
	return &Server{repo: repo, boardRepo: boardRepo}
}

func (s *Server) Mount(r chi.Router) {
	r.Get("/cards/{cardID}/comments", s.listComments)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	card, err := s.boardRepo.GetCard(ctx, chi.URLParam(r, "cardID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if _, err := board.RequireMember(ctx, s.boardRepo, card.BoardID, userID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	comments, err := s.repo.ListByCard(ctx, card.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"comments": comments})
}
