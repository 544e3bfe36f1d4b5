package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/metrics"
	"github.com/kazz187/cardflow/internal/task"
	"github.com/kazz187/cardflow/internal/worker"
	"github.com/kazz187/cardflow/pkg/cerr"
)

const (
	DefaultPollLimit = 10
	MaxPollLimit     = 50
)

// Authorizer resolves a worker id to a worker owned by the caller.
type Authorizer interface {
	Authorize(ctx context.Context, workerID, owner string) (*worker.Worker, error)
}

// Dispatcher hands pending tasks to workers. The pending backlog of a board
// is one queue shared by the workers of all its members.
type Dispatcher struct {
	tasks   task.Repository
	boards  board.Repository
	workers Authorizer
	bus     *eventbus.Bus
	clock   clockwork.Clock
	metrics *metrics.Recorder
}

func NewDispatcher(
	tasks task.Repository,
	boards board.Repository,
	workers Authorizer,
	bus *eventbus.Bus,
	clock clockwork.Clock,
	rec *metrics.Recorder,
) *Dispatcher {
	return &Dispatcher{
		tasks:   tasks,
		boards:  boards,
		workers: workers,
		bus:     bus,
		clock:   clock,
		metrics: rec,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPollLimit
	}
	return min(limit, MaxPollLimit)
}

// Poll lists pending tasks assigned to owner or unassigned on owner's
// boards. The result is a snapshot: a listed task may be claimed by someone
// else before this caller gets to it.
func (d *Dispatcher) Poll(ctx context.Context, workerID, owner string, limit int) ([]*task.Task, error) {
	if _, err := d.workers.Authorize(ctx, workerID, owner); err != nil {
		return nil, err
	}
	memberOf, err := d.boards.ListBoardsForMember(ctx, owner)
	if err != nil {
		return nil, err
	}
	boardIDs := make([]string, 0, len(memberOf))
	for _, b := range memberOf {
		boardIDs = append(boardIDs, b.ID)
	}
	tasks, err := d.tasks.Poll(ctx, task.PollQuery{
		Owner:    owner,
		BoardIDs: boardIDs,
		Limit:    clampLimit(limit),
	})
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	return tasks, nil
}

// Claim atomically moves a pending task to claimed for workerID. Exactly one
// of any number of concurrent claimers succeeds; the others get Aborted and
// should poll again.
func (d *Dispatcher) Claim(ctx context.Context, taskID, workerID, owner string) (*task.Task, error) {
	w, err := d.workers.Authorize(ctx, workerID, owner)
	if err != nil {
		return nil, err
	}
	t, err := d.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := CheckVisible(ctx, d.boards, t, owner); err != nil {
		return nil, err
	}

	claimed, err := d.tasks.Transition(ctx, task.Transition{
		TaskID:   taskID,
		To:       task.StatusClaimed,
		At:       d.clock.Now().UTC(),
		WorkerID: w.ID,
	})
	if err != nil {
		var terr *task.TransitionError
		if errors.As(err, &terr) {
			d.metrics.RecordClaim(ctx, false)
			return nil, cerr.NewError(cerr.Aborted, "task already claimed", err)
		}
		return nil, err
	}
	d.metrics.RecordClaim(ctx, true)
	d.metrics.RecordTransition(ctx, string(task.StatusClaimed))

	slog.InfoContext(ctx, "task claimed", "task_id", claimed.ID, "worker_id", w.ID)
	data := claimed.EventData()
	data["worker_id"] = w.ID
	d.bus.PublishNew(eventbus.BoardChannel(claimed.BoardID), eventbus.TypeTaskClaimed, data)
	return claimed, nil
}

// CheckVisible applies the poll visibility rule to a single task: it must be
// assigned to owner, or unassigned on a board owner belongs to.
func CheckVisible(ctx context.Context, boards board.Repository, t *task.Task, owner string) error {
	if t.AssignedTo == owner {
		return nil
	}
	if t.AssignedTo != "" {
		return cerr.NewError(cerr.PermissionDenied, "task is assigned to another user", nil)
	}
	_, err := board.RequireMember(ctx, boards, t.BoardID, owner)
	return err
}
