package automation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kazz187/cardflow/internal/automation"
	"github.com/kazz187/cardflow/internal/board"
	boardrepo "github.com/kazz187/cardflow/internal/board/repositoryimpl"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/task"
	taskrepo "github.com/kazz187/cardflow/internal/task/repositoryimpl"
	"github.com/kazz187/cardflow/internal/testutil"
)

type fixture struct {
	db       *gorm.DB
	bus      *eventbus.Bus
	engine   *automation.Engine
	pipeline *testutil.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	schemas, err := task.NewPayloadSchemas()
	require.NoError(t, err)
	tasks := taskrepo.NewGormRepository(gdb)
	store := task.NewStore(tasks, bus, schemas)
	return &fixture{
		db:       gdb,
		bus:      bus,
		engine:   automation.NewEngine(boardrepo.NewGormRepository(gdb), tasks, store, bus, nil, automation.Config{}),
		pipeline: testutil.SeedPipeline(t, gdb, "b1", "alice", "bob"),
	}
}

func TestEngine_MaybeTrigger(t *testing.T) {
	f := newFixture(t)
	card := testutil.SeedCard(t, f.db, "b1", f.pipeline.Dev.ID, "card-1")

	got, err := f.engine.MaybeTrigger(t.Context(), card, f.pipeline.Dev, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, task.TypeAgentRun, got.TaskType)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, "b1", got.BoardID)
	assert.Equal(t, "card-1", got.CardID)
	assert.Equal(t, "alice", got.AssignedTo)
	assert.Equal(t, "alice", got.CreatedBy)
	assert.Equal(t, "coder", got.AgentType)
	assert.Equal(t, f.pipeline.Dev.ID, got.SourceColumnID)
	assert.Equal(t, f.pipeline.Review.ID, got.TargetColumnID)
	assert.Equal(t, f.pipeline.Rework.ID, got.FailureColumnID)
	assert.Equal(t, 0, got.LoopCount)
	assert.Equal(t, 3, got.MaxLoopCount)
	assert.Equal(t, 2, got.Priority)
	assert.Equal(t, "Implement Card card-1: Description of card-1", got.PromptText)

	assert.Equal(t, board.AgentStatusPending, testutil.GetCard(t, f.db, "card-1").AgentStatus)
}

func TestEngine_MaybeTriggerPrefersCardAssignee(t *testing.T) {
	f := newFixture(t)
	card := testutil.SeedCard(t, f.db, "b1", f.pipeline.Dev.ID, "card-1")
	card.Assignee = "bob"

	got, err := f.engine.MaybeTrigger(t.Context(), card, f.pipeline.Dev, "alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.AssignedTo)
	assert.Equal(t, "alice", got.CreatedBy)
}

func TestEngine_MaybeTriggerWithoutAutomation(t *testing.T) {
	f := newFixture(t)
	card := testutil.SeedCard(t, f.db, "b1", f.pipeline.Todo.ID, "card-1")

	got, err := f.engine.MaybeTrigger(t.Context(), card, f.pipeline.Todo, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	manual := *f.pipeline.Dev
	manual.Automation.AutoRun = false
	got, err = f.engine.MaybeTrigger(t.Context(), card, &manual, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEngine_LoopCircuitBreaker(t *testing.T) {
	f := newFixture(t)
	card := testutil.SeedCard(t, f.db, "b1", f.pipeline.Dev.ID, "card-1")

	// Prior tasks count whatever their outcome.
	for _, st := range []task.Status{task.StatusCompleted, task.StatusFailed, task.StatusCancelled} {
		testutil.SeedTask(t, f.db, &task.Task{BoardID: "b1", CardID: "card-1", SourceColumnID: f.pipeline.Dev.ID, Status: st})
	}
	// Other columns and cards do not.
	testutil.SeedTask(t, f.db, &task.Task{BoardID: "b1", CardID: "card-1", SourceColumnID: f.pipeline.Review.ID})
	testutil.SeedTask(t, f.db, &task.Task{BoardID: "b1", CardID: "card-2", SourceColumnID: f.pipeline.Dev.ID})

	got, err := f.engine.MaybeTrigger(t.Context(), card, f.pipeline.Dev, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.engine.MaybeTrigger(t.Context(), card, f.pipeline.Review, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.LoopCount)

	raised := *f.pipeline.Dev
	raised.Automation.MaxLoopCount = 4
	got, err = f.engine.MaybeTrigger(t.Context(), card, &raised, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.LoopCount)
	assert.Equal(t, 4, got.MaxLoopCount)
}

func TestEngine_MoveCard(t *testing.T) {
	f := newFixture(t)
	card := testutil.SeedCard(t, f.db, "b1", f.pipeline.Todo.ID, "card-1")
	_, events := f.bus.Subscribe(eventbus.BoardChannel("b1"))

	res, err := f.engine.MoveCard(t.Context(), card, f.pipeline.Dev.ID, "alice", board.MoveOptions{})
	require.NoError(t, err)
	assert.True(t, res.Moved)
	assert.Equal(t, f.pipeline.Todo.ID, res.FromColumnID)
	assert.Equal(t, f.pipeline.Dev.ID, res.Card.ColumnID)
	require.NotNil(t, res.Triggered)
	assert.Equal(t, "coder", res.Triggered.AgentType)

	moved := <-events
	assert.Equal(t, eventbus.TypeCardMoved, moved.Type)
	assert.Equal(t, f.pipeline.Dev.ID, moved.Data["to_column_id"])
	assert.Equal(t, eventbus.TypeTaskCreated, (<-events).Type)

	res, err = f.engine.MoveCard(t.Context(), res.Card, f.pipeline.Review.ID, "alice", board.MoveOptions{SkipAutomation: true})
	require.NoError(t, err)
	assert.True(t, res.Moved)
	assert.Nil(t, res.Triggered)
	assert.Equal(t, f.pipeline.Review.ID, testutil.GetCard(t, f.db, "card-1").ColumnID)

	res, err = f.engine.MoveCard(t.Context(), res.Card, f.pipeline.Review.ID, "alice", board.MoveOptions{})
	require.NoError(t, err)
	assert.False(t, res.Moved)
	assert.Nil(t, res.Triggered)
}

func TestEngine_MoveCardToForeignColumn(t *testing.T) {
	f := newFixture(t)
	other := testutil.SeedPipeline(t, f.db, "b2", "alice")
	card := testutil.SeedCard(t, f.db, "b1", f.pipeline.Todo.ID, "card-1")

	_, err := f.engine.MoveCard(t.Context(), card, other.Dev.ID, "alice", board.MoveOptions{})
	require.Error(t, err)
	assert.Equal(t, f.pipeline.Todo.ID, testutil.GetCard(t, f.db, "card-1").ColumnID)
}

func TestEngine_CreateCard(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.CreateCard(t.Context(), &board.Card{ID: "card-9", BoardID: "b1", ColumnID: f.pipeline.Dev.ID, Title: "New"}, "bob")
	require.NoError(t, err)
	require.NotNil(t, res.Triggered)
	assert.Equal(t, "bob", res.Triggered.AssignedTo)
	assert.Equal(t, board.AgentStatusPending, res.Card.AgentStatus)
	assert.Equal(t, "bob", testutil.GetCard(t, f.db, "card-9").CreatedBy)
}
