package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/metrics"
	"github.com/kazz187/cardflow/pkg/panicerr"
)

const (
	DefaultSweepInterval = 60 * time.Second
	DefaultStaleAfter    = 90 * time.Second
	DefaultOfflineAfter  = 300 * time.Second
)

// OfflineHandler fails the tasks held by a worker that went offline. It
// must be idempotent: the sweep hands every offline worker to it on each run.
type OfflineHandler interface {
	HandleWorkerOffline(ctx context.Context, w *Worker) (int, error)
}

type MonitorConfig struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	OfflineAfter time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = DefaultOfflineAfter
	}
	return c
}

type SweepResult struct {
	Stale       []*Worker
	Offline     []*Worker
	FailedTasks int
}

// Monitor derives worker liveness from heartbeat age. It is the only
// failure detector for workers that stop responding.
type Monitor struct {
	repo      Repository
	boards    board.Repository
	bus       *eventbus.Bus
	handler   OfflineHandler
	clock     clockwork.Clock
	cfg       MonitorConfig
	metrics   *metrics.Recorder
	scheduler gocron.Scheduler
}

func NewMonitor(
	repo Repository,
	boards board.Repository,
	bus *eventbus.Bus,
	handler OfflineHandler,
	clock clockwork.Clock,
	cfg MonitorConfig,
	rec *metrics.Recorder,
) *Monitor {
	return &Monitor{
		repo:    repo,
		boards:  boards,
		bus:     bus,
		handler: handler,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		metrics: rec,
	}
}

// Start schedules Sweep every interval until Stop. Runs never overlap; a
// run that is still busy when the next tick fires delays that tick.
func (m *Monitor) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler(gocron.WithClock(m.clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(m.cfg.Interval),
		gocron.NewTask(func() {
			panicerr.Run(ctx, "liveness sweep", func() {
				if _, err := m.Sweep(ctx); err != nil {
					slog.ErrorContext(ctx, "liveness sweep failed", "error", err)
				}
			})
		}),
		gocron.WithName("worker-liveness-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	m.scheduler = s
	s.Start()
	slog.InfoContext(ctx, "liveness monitor started", "interval", m.cfg.Interval,
		"stale_after", m.cfg.StaleAfter, "offline_after", m.cfg.OfflineAfter)
	return nil
}

func (m *Monitor) Stop() error {
	if m.scheduler == nil {
		return nil
	}
	if err := m.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	m.scheduler = nil
	return nil
}

// Sweep demotes silent workers and fails the tasks of offline ones. Every
// write is conditional, so a repeated run changes nothing.
func (m *Monitor) Sweep(ctx context.Context) (*SweepResult, error) {
	now := m.clock.Now().UTC()
	result := &SweepResult{}

	offline, err := m.repo.Demote(ctx, []Status{StatusOnline, StatusStale}, StatusOffline, now.Add(-m.cfg.OfflineAfter))
	if err != nil {
		return nil, err
	}
	result.Offline = offline
	for _, w := range offline {
		slog.WarnContext(ctx, "worker offline", "worker_id", w.ID, "user_id", w.UserID, "last_heartbeat", w.LastHeartbeat)
		publishToOwnerBoards(ctx, m.boards, m.bus, w, eventbus.TypeWorkerOffline)
	}

	stale, err := m.repo.Demote(ctx, []Status{StatusOnline}, StatusStale, now.Add(-m.cfg.StaleAfter))
	if err != nil {
		return nil, err
	}
	result.Stale = stale
	for _, w := range stale {
		slog.InfoContext(ctx, "worker stale", "worker_id", w.ID, "user_id", w.UserID, "last_heartbeat", w.LastHeartbeat)
		publishToOwnerBoards(ctx, m.boards, m.bus, w, eventbus.TypeWorkerStale)
	}

	// Every offline worker, not only the ones demoted now, so a run that
	// died halfway is repaired by the next one.
	allOffline, err := m.repo.ListByStatus(ctx, StatusOffline)
	if err != nil {
		return nil, err
	}
	for _, w := range allOffline {
		n, err := m.handler.HandleWorkerOffline(ctx, w)
		if err != nil {
			slog.ErrorContext(ctx, "failed to fail tasks of offline worker", "worker_id", w.ID, "error", err)
			continue
		}
		result.FailedTasks += n
	}

	m.metrics.RecordSweep(ctx, len(stale), len(offline))
	m.metrics.RecordOrphaned(ctx, result.FailedTasks)
	return result, nil
}
