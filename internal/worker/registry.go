package worker

import (
	"context"
	"log/slog"
	"slices"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/task"
	"github.com/kazz187/cardflow/pkg/cerr"
)

type Registration struct {
	Hostname      string
	WorkerVersion string
	Capabilities  []string
}

type HeartbeatResult struct {
	Status Status
	// CancelTaskIDs are reported running tasks that have been cancelled.
	// Stopping them is up to the worker.
	CancelTaskIDs []string
}

type Registry struct {
	repo   Repository
	boards board.Repository
	tasks  task.Repository
	bus    *eventbus.Bus
	clock  clockwork.Clock
}

func NewRegistry(repo Repository, boards board.Repository, tasks task.Repository, bus *eventbus.Bus, clock clockwork.Clock) *Registry {
	return &Registry{
		repo:   repo,
		boards: boards,
		tasks:  tasks,
		bus:    bus,
		clock:  clock,
	}
}

// Register creates or refreshes the owner's worker and announces it online.
func (r *Registry) Register(ctx context.Context, owner string, reg Registration) (*Worker, error) {
	if owner == "" {
		return nil, cerr.NewError(cerr.Unauthenticated, "authentication required", nil)
	}
	now := r.clock.Now().UTC()
	caps := slices.Clone(reg.Capabilities)
	slices.Sort(caps)
	w, err := r.repo.Upsert(ctx, &Worker{
		ID:            ulid.Make().String(),
		UserID:        owner,
		Hostname:      reg.Hostname,
		WorkerVersion: reg.WorkerVersion,
		Capabilities:  slices.Compact(caps),
		Status:        StatusOnline,
		LastHeartbeat: now,
		RegisteredAt:  now,
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "worker registered", "worker_id", w.ID, "user_id", owner, "hostname", w.Hostname)
	publishToOwnerBoards(ctx, r.boards, r.bus, w, eventbus.TypeWorkerOnline)
	return w, nil
}

// Authorize loads the worker and checks it belongs to owner.
func (r *Registry) Authorize(ctx context.Context, workerID, owner string) (*Worker, error) {
	if workerID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "worker_id is required", nil)
	}
	w, err := r.repo.Get(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if w.UserID != owner {
		return nil, cerr.NewError(cerr.PermissionDenied, "worker belongs to another user", nil)
	}
	return w, nil
}

func (r *Registry) Heartbeat(ctx context.Context, workerID, owner string, runningTaskIDs []string) (*HeartbeatResult, error) {
	w, err := r.Authorize(ctx, workerID, owner)
	if err != nil {
		return nil, err
	}
	prev, err := r.repo.Touch(ctx, w.ID, r.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if prev != StatusOnline {
		w.Status = StatusOnline
		publishToOwnerBoards(ctx, r.boards, r.bus, w, eventbus.TypeWorkerOnline)
	}

	// Only tasks this worker holds are reported back.
	result := &HeartbeatResult{Status: StatusOnline, CancelTaskIDs: []string{}}
	tasks, err := r.tasks.ListByIDs(ctx, runningTaskIDs)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Status == task.StatusCancelled && t.ClaimedByWorker == w.ID {
			result.CancelTaskIDs = append(result.CancelTaskIDs, t.ID)
		}
	}
	slices.Sort(result.CancelTaskIDs)
	return result, nil
}

// publishToOwnerBoards announces a worker state change on every board its
// owner belongs to.
func publishToOwnerBoards(ctx context.Context, boards board.Repository, bus *eventbus.Bus, w *Worker, eventType eventbus.EventType) {
	memberOf, err := boards.ListBoardsForMember(ctx, w.UserID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list boards for worker event", "worker_id", w.ID, "error", err)
		return
	}
	for _, b := range memberOf {
		bus.PublishNew(eventbus.BoardChannel(b.ID), eventType, w.EventData())
	}
}
