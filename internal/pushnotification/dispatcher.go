package pushnotification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/eventbus"
)

// Dispatcher turns bus events into push notifications: failed tasks go to
// the board's members, offline workers to their owner.
type Dispatcher struct {
	bus       *eventbus.Bus
	boardRepo board.Repository
	notifier  Notifier

	mu sync.Mutex
	// worker id -> last_heartbeat of the outage already notified. Offline
	// events arrive once per board the owner belongs to.
	notifiedOffline map[string]string
}

func NewDispatcher(bus *eventbus.Bus, boardRepo board.Repository, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		bus:             bus,
		boardRepo:       boardRepo,
		notifier:        notifier,
		notifiedOffline: make(map[string]string),
	}
}

// Start blocks until ctx is done or the bus is closed.
func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.bus.SubscribeAll()
	defer d.bus.UnsubscribeAll(subID)

	slog.InfoContext(ctx, "push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "push notification dispatcher stopped")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			d.Handle(ctx, e)
		}
	}
}

func (d *Dispatcher) Handle(ctx context.Context, e *eventbus.Event) {
	switch e.Type {
	case eventbus.TypeTaskFailed:
		d.handleTaskFailed(ctx, e)
	case eventbus.TypeWorkerOffline:
		d.handleWorkerOffline(ctx, e)
	}
}

func (d *Dispatcher) handleTaskFailed(ctx context.Context, e *eventbus.Event) {
	boardID := stringField(e.Data, "board_id")
	b, err := d.boardRepo.GetBoard(ctx, boardID)
	if err != nil {
		slog.ErrorContext(ctx, "push dispatcher: failed to get board", "board_id", boardID, "error", err)
		return
	}
	if len(b.Members) == 0 {
		return
	}

	taskID := stringField(e.Data, "task_id")
	body := stringField(e.Data, "error_summary")
	if agentType := stringField(e.Data, "agent_type"); agentType != "" {
		body = fmt.Sprintf("%s: %s", agentType, body)
	}
	url := fmt.Sprintf("/boards/%s", b.ID)
	if cardID := stringField(e.Data, "card_id"); cardID != "" {
		url = fmt.Sprintf("/boards/%s/cards/%s", b.ID, cardID)
	}
	d.notifier.SendToUsers(ctx, b.Members, &NotificationPayload{
		Title: fmt.Sprintf("Task failed on %s", b.Name),
		Body:  body,
		URL:   url,
		Tag:   "task-" + taskID,
	})
}

func (d *Dispatcher) handleWorkerOffline(ctx context.Context, e *eventbus.Event) {
	workerID := stringField(e.Data, "worker_id")
	userID := stringField(e.Data, "user_id")
	if workerID == "" || userID == "" {
		return
	}
	outage := fmt.Sprint(e.Data["last_heartbeat"])
	d.mu.Lock()
	if d.notifiedOffline[workerID] == outage {
		d.mu.Unlock()
		return
	}
	d.notifiedOffline[workerID] = outage
	d.mu.Unlock()

	name := stringField(e.Data, "hostname")
	if name == "" {
		name = workerID
	}
	d.notifier.SendToUsers(ctx, []string{userID}, &NotificationPayload{
		Title: "Worker offline",
		Body:  fmt.Sprintf("%s stopped sending heartbeats", name),
		Tag:   "worker-" + workerID,
	})
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
