package task_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/task"
	"github.com/kazz187/cardflow/internal/task/repositoryimpl"
	"github.com/kazz187/cardflow/internal/testutil"
	"github.com/kazz187/cardflow/pkg/cerr"
)

func newStore(t *testing.T) (*task.Store, *eventbus.Bus, *testutil.Pipeline, func() *board.Card) {
	t.Helper()
	gdb := testutil.NewDB(t)
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	schemas, err := task.NewPayloadSchemas()
	require.NoError(t, err)
	p := testutil.SeedPipeline(t, gdb, "b1", "alice")
	testutil.SeedCard(t, gdb, "b1", p.Todo.ID, "card-1")
	store := task.NewStore(repositoryimpl.NewGormRepository(gdb), bus, schemas,
		task.WithNow(func() time.Time { return testutil.Epoch }))
	return store, bus, p, func() *board.Card { return testutil.GetCard(t, gdb, "card-1") }
}

func TestStore_Create(t *testing.T) {
	store, bus, _, card := newStore(t)
	_, events := bus.Subscribe(eventbus.BoardChannel("b1"))

	created, err := store.Create(t.Context(), &task.Task{
		TaskType:        task.TypeAgentRun,
		BoardID:         "b1",
		CardID:          "card-1",
		Status:          task.StatusCompleted,
		ClaimedByWorker: "w-1",
		ErrorSummary:    "stale",
	})
	require.NoError(t, err)

	assert.Len(t, created.ID, 26)
	assert.Equal(t, task.StatusPending, created.Status)
	assert.Equal(t, testutil.Epoch, created.CreatedAt)
	assert.Empty(t, created.ClaimedByWorker)
	assert.Empty(t, created.ErrorSummary)
	assert.Equal(t, board.AgentStatusPending, card().AgentStatus)

	e := <-events
	assert.Equal(t, eventbus.TypeTaskCreated, e.Type)
	assert.Equal(t, created.ID, e.Data["task_id"])
	assert.Equal(t, "card-1", e.Data["card_id"])

	got, err := store.Get(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestStore_CreateRejects(t *testing.T) {
	store, _, _, _ := newStore(t)

	tests := []struct {
		name string
		task *task.Task
	}{
		{"missing board", &task.Task{TaskType: task.TypeAgentRun}},
		{"unknown type", &task.Task{TaskType: "deploy", BoardID: "b1"}},
		{"payload type mismatch", &task.Task{TaskType: task.TypeBoardPlan, BoardID: "b1", Payload: map[string]any{"auto_generate_cards": "yes"}}},
		{"empty branch", &task.Task{TaskType: task.TypeGitlabPush, BoardID: "b1", Payload: map[string]any{"branch": ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(t.Context(), tt.task)
			require.Error(t, err)
			assert.True(t, cerr.IsCode(err, cerr.InvalidArgument), err.Error())
		})
	}
}

func TestStore_CreatePayloadViolationsAreDetailed(t *testing.T) {
	store, _, _, _ := newStore(t)

	_, err := store.Create(t.Context(), &task.Task{
		TaskType: task.TypeBoardPlan,
		BoardID:  "b1",
		Payload:  map[string]any{"auto_generate_cards": 1, "goal": false},
	})
	var cErr *cerr.Error
	require.True(t, errors.As(err, &cErr))
	assert.Len(t, cErr.Details, 2)
}

func TestStore_List(t *testing.T) {
	store, _, _, _ := newStore(t)
	for range 3 {
		_, err := store.Create(t.Context(), &task.Task{TaskType: task.TypeAgentRun, BoardID: "b1", CardID: "card-1"})
		require.NoError(t, err)
	}

	tasks, err := store.List(t.Context(), task.Filter{BoardID: "b1", Status: task.StatusPending, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	_, err = store.List(t.Context(), task.Filter{Status: "done"})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestStore_CreateUnlessActiveConcurrent(t *testing.T) {
	store, _, _, _ := newStore(t)
	var created, refused atomic.Int32

	var wg conc.WaitGroup
	for range 8 {
		wg.Go(func() {
			_, err := store.CreateUnlessActive(t.Context(), &task.Task{
				TaskType: task.TypeJiraSync,
				BoardID:  "b1",
				CardID:   "card-1",
			})
			switch {
			case err == nil:
				created.Add(1)
			case cerr.IsCode(err, cerr.AlreadyExists):
				refused.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(7), refused.Load())

	tasks, err := store.List(t.Context(), task.Filter{CardID: "card-1"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
