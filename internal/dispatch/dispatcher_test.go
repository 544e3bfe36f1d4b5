package dispatch_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	boardrepo "github.com/kazz187/cardflow/internal/board/repositoryimpl"
	"github.com/kazz187/cardflow/internal/dispatch"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/task"
	taskrepo "github.com/kazz187/cardflow/internal/task/repositoryimpl"
	"github.com/kazz187/cardflow/internal/testutil"
	"github.com/kazz187/cardflow/internal/worker"
	workerrepo "github.com/kazz187/cardflow/internal/worker/repositoryimpl"
	"github.com/kazz187/cardflow/pkg/cerr"
)

type fixture struct {
	db         *gorm.DB
	bus        *eventbus.Bus
	registry   *worker.Registry
	dispatcher *dispatch.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	clock := testutil.NewClock()
	boards := boardrepo.NewGormRepository(gdb)
	tasks := taskrepo.NewGormRepository(gdb)
	registry := worker.NewRegistry(workerrepo.NewGormRepository(gdb), boards, tasks, bus, clock)
	return &fixture{
		db:         gdb,
		bus:        bus,
		registry:   registry,
		dispatcher: dispatch.NewDispatcher(tasks, boards, registry, bus, clock, nil),
	}
}

func (f *fixture) register(t *testing.T, owner string) *worker.Worker {
	t.Helper()
	w, err := f.registry.Register(t.Context(), owner, worker.Registration{Hostname: owner + "-host"})
	require.NoError(t, err)
	return w
}

func ids(tasks []*task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestDispatcher_PollVisibilityAndOrder(t *testing.T) {
	f := newFixture(t)
	testutil.SeedPipeline(t, f.db, "b1", "alice", "bob")
	testutil.SeedPipeline(t, f.db, "b2", "carol")
	w := f.register(t, "alice")

	low := testutil.SeedTask(t, f.db, &task.Task{ID: "01-low", BoardID: "b1", Priority: 1, CreatedAt: testutil.Epoch})
	highOld := testutil.SeedTask(t, f.db, &task.Task{ID: "02-high-old", BoardID: "b1", Priority: 5, CreatedAt: testutil.Epoch})
	highNew := testutil.SeedTask(t, f.db, &task.Task{ID: "03-high-new", BoardID: "b1", Priority: 5, CreatedAt: testutil.Epoch.Add(time.Minute)})
	direct := testutil.SeedTask(t, f.db, &task.Task{ID: "04-direct", BoardID: "b2", AssignedTo: "alice", Priority: 3})
	// not visible to alice
	testutil.SeedTask(t, f.db, &task.Task{ID: "05-bob", BoardID: "b1", AssignedTo: "bob", Priority: 9})
	testutil.SeedTask(t, f.db, &task.Task{ID: "06-other-board", BoardID: "b2", Priority: 9})
	testutil.SeedTask(t, f.db, &task.Task{ID: "07-claimed", BoardID: "b1", Priority: 9, Status: task.StatusClaimed})

	got, err := f.dispatcher.Poll(t.Context(), w.ID, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{highOld.ID, highNew.ID, direct.ID, low.ID}, ids(got))

	got, err = f.dispatcher.Poll(t.Context(), w.ID, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{highOld.ID, highNew.ID}, ids(got))
}

func TestDispatcher_PollLimitClamp(t *testing.T) {
	f := newFixture(t)
	testutil.SeedPipeline(t, f.db, "b1", "alice")
	w := f.register(t, "alice")
	for i := range 60 {
		testutil.SeedTask(t, f.db, &task.Task{ID: fmt.Sprintf("t%02d", i), BoardID: "b1"})
	}

	got, err := f.dispatcher.Poll(t.Context(), w.ID, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, got, dispatch.DefaultPollLimit)

	got, err = f.dispatcher.Poll(t.Context(), w.ID, "alice", 500)
	require.NoError(t, err)
	assert.Len(t, got, dispatch.MaxPollLimit)
}

func TestDispatcher_PollRequiresOwnWorker(t *testing.T) {
	f := newFixture(t)
	w := f.register(t, "alice")
	_, err := f.dispatcher.Poll(t.Context(), w.ID, "bob", 10)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
}

func TestDispatcher_Claim(t *testing.T) {
	f := newFixture(t)
	testutil.SeedPipeline(t, f.db, "b1", "alice", "bob")
	testutil.SeedCard(t, f.db, "b1", "b1-dev", "card-1")
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	tk := testutil.SeedTask(t, f.db, &task.Task{BoardID: "b1", CardID: "card-1"})
	_, events := f.bus.Subscribe(eventbus.BoardChannel("b1"))

	claimed, err := f.dispatcher.Claim(t.Context(), tk.ID, alice.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, task.StatusClaimed, claimed.Status)
	assert.Equal(t, alice.ID, claimed.ClaimedByWorker)
	require.NotNil(t, claimed.ClaimedAt)
	assert.True(t, claimed.ClaimedAt.Equal(testutil.Epoch))

	e := <-events
	assert.Equal(t, eventbus.TypeTaskClaimed, e.Type)
	assert.Equal(t, tk.ID, e.Data["task_id"])

	_, err = f.dispatcher.Claim(t.Context(), tk.ID, bob.ID, "bob")
	assert.True(t, cerr.IsCode(err, cerr.Aborted))
	assert.Equal(t, 409, cerr.Aborted.HTTPCode())

	t.Run("assigned elsewhere", func(t *testing.T) {
		other := testutil.SeedTask(t, f.db, &task.Task{BoardID: "b1", AssignedTo: "alice"})
		_, err := f.dispatcher.Claim(t.Context(), other.ID, bob.ID, "bob")
		assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})
	t.Run("not a member", func(t *testing.T) {
		testutil.SeedPipeline(t, f.db, "b9", "carol")
		other := testutil.SeedTask(t, f.db, &task.Task{BoardID: "b9"})
		_, err := f.dispatcher.Claim(t.Context(), other.ID, bob.ID, "bob")
		assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})
	t.Run("unknown task", func(t *testing.T) {
		_, err := f.dispatcher.Claim(t.Context(), "missing", bob.ID, "bob")
		assert.True(t, cerr.IsCode(err, cerr.NotFound))
	})
}

func TestDispatcher_ConcurrentClaimHasOneWinner(t *testing.T) {
	f := newFixture(t)
	const claimers = 8
	members := make([]string, claimers)
	for i := range members {
		members[i] = fmt.Sprintf("user%d", i)
	}
	testutil.SeedPipeline(t, f.db, "b1", members...)
	workers := make([]*worker.Worker, claimers)
	for i, m := range members {
		workers[i] = f.register(t, m)
	}

	for round := range 5 {
		tk := testutil.SeedTask(t, f.db, &task.Task{ID: fmt.Sprintf("race-%d", round), BoardID: "b1"})

		var won, lost atomic.Int32
		var wg conc.WaitGroup
		for i := range claimers {
			wg.Go(func() {
				_, err := f.dispatcher.Claim(t.Context(), tk.ID, workers[i].ID, members[i])
				switch {
				case err == nil:
					won.Add(1)
				case cerr.IsCode(err, cerr.Aborted):
					lost.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			})
		}
		wg.Wait()

		assert.Equal(t, int32(1), won.Load(), "round %d", round)
		assert.Equal(t, int32(claimers-1), lost.Load(), "round %d", round)
	}
}
