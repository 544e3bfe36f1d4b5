// Package event streams board events to clients as Server-Sent Events.
// Frames are hints to refetch, not a log: a slow client loses events.
package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/kazz187/cardflow/internal/auth"
	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/pkg/cerr"
)

const DefaultHeartbeatInterval = 15 * time.Second

const (
	frameConnected = "connected"
	frameHeartbeat = "heartbeat"
)

type Server struct {
	bus       *eventbus.Bus
	boardRepo board.Repository
	clock     clockwork.Clock
	heartbeat time.Duration
}

func NewServer(bus *eventbus.Bus, boardRepo board.Repository, clock clockwork.Clock, heartbeat time.Duration) *Server {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Server{
		bus:       bus,
		boardRepo: boardRepo,
		clock:     clock,
		heartbeat: heartbeat,
	}
}

func (s *Server) Mount(r chi.Router) {
	r.Get("/boards/{boardID}/events", s.subscribe)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	b, err := board.RequireMember(ctx, s.boardRepo, chi.URLParam(r, "boardID"), userID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Internal, "streaming unsupported", nil)
		return
	}

	channel := eventbus.BoardChannel(b.ID)
	subID, events := s.bus.Subscribe(channel)
	defer s.bus.Unsubscribe(channel, subID)

	cerr.Handled(ctx)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(frame map[string]any) bool {
		data, err := json.Marshal(frame)
		if err != nil {
			slog.ErrorContext(ctx, "failed to encode event frame", "error", err)
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(map[string]any{"type": frameConnected, "board_id": b.ID}) {
		return
	}
	ticker := s.clock.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !send(e.Frame()) {
				return
			}
		case now := <-ticker.Chan():
			if !send(map[string]any{"type": frameHeartbeat, "time": now.UTC()}) {
				return
			}
		}
	}
}
