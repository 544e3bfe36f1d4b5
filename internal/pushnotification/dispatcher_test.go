package pushnotification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boardrepo "github.com/kazz187/cardflow/internal/board/repositoryimpl"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/pushnotification"
	"github.com/kazz187/cardflow/internal/testutil"
)

type sent struct {
	users   []string
	payload *pushnotification.NotificationPayload
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeNotifier) SendToUsers(_ context.Context, userIDs []string, payload *pushnotification.NotificationPayload) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{users: userIDs, payload: payload})
	return len(userIDs)
}

func (f *fakeNotifier) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func newDispatcher(t *testing.T) (*pushnotification.Dispatcher, *eventbus.Bus, *fakeNotifier) {
	t.Helper()
	gdb := testutil.NewDB(t)
	testutil.SeedPipeline(t, gdb, "b1", "alice", "bob")
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	notifier := &fakeNotifier{}
	return pushnotification.NewDispatcher(bus, boardrepo.NewGormRepository(gdb), notifier), bus, notifier
}

func TestDispatcher_TaskFailed(t *testing.T) {
	d, _, notifier := newDispatcher(t)
	d.Handle(t.Context(), &eventbus.Event{Type: eventbus.TypeTaskFailed, Data: map[string]any{
		"task_id": "t1", "board_id": "b1", "card_id": "c1",
		"agent_type": "coder", "error_summary": "Worker went offline",
	}})
	d.Handle(t.Context(), &eventbus.Event{Type: eventbus.TypeTaskCompleted, Data: map[string]any{"board_id": "b1"}})

	got := notifier.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"alice", "bob"}, got[0].users)
	assert.Equal(t, "coder: Worker went offline", got[0].payload.Body)
	assert.Equal(t, "/boards/b1/cards/c1", got[0].payload.URL)
	assert.Equal(t, "task-t1", got[0].payload.Tag)
}

func TestDispatcher_WorkerOfflineOncePerOutage(t *testing.T) {
	d, _, notifier := newDispatcher(t)
	first := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	offline := func(hb time.Time) *eventbus.Event {
		return &eventbus.Event{Type: eventbus.TypeWorkerOffline, Data: map[string]any{
			"worker_id": "w1", "user_id": "alice", "hostname": "laptop", "last_heartbeat": hb,
		}}
	}

	// One event per board the owner belongs to.
	d.Handle(t.Context(), offline(first))
	d.Handle(t.Context(), offline(first))
	d.Handle(t.Context(), offline(first.Add(time.Hour)))

	got := notifier.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, []string{"alice"}, got[0].users)
	assert.Equal(t, "laptop stopped sending heartbeats", got[0].payload.Body)
}

func TestDispatcher_Start(t *testing.T) {
	d, bus, notifier := newDispatcher(t)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		bus.PublishNew(eventbus.BoardChannel("b1"), eventbus.TypeTaskFailed, map[string]any{"task_id": "t1", "board_id": "b1"})
		return len(notifier.snapshot()) > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
