package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	server "github.com/kazz187/cardflow/internal"
	"github.com/kazz187/cardflow/internal/automation"
	"github.com/kazz187/cardflow/internal/board"
	boardrepo "github.com/kazz187/cardflow/internal/board/repositoryimpl"
	"github.com/kazz187/cardflow/internal/comment"
	commentrepo "github.com/kazz187/cardflow/internal/comment/repositoryimpl"
	"github.com/kazz187/cardflow/internal/config"
	"github.com/kazz187/cardflow/internal/dispatch"
	"github.com/kazz187/cardflow/internal/event"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/eventexport"
	"github.com/kazz187/cardflow/internal/integration"
	"github.com/kazz187/cardflow/internal/metrics"
	"github.com/kazz187/cardflow/internal/orchestrator"
	"github.com/kazz187/cardflow/internal/pushnotification"
	pushsubrepo "github.com/kazz187/cardflow/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/cardflow/internal/task"
	taskrepo "github.com/kazz187/cardflow/internal/task/repositoryimpl"
	"github.com/kazz187/cardflow/internal/worker"
	workerrepo "github.com/kazz187/cardflow/internal/worker/repositoryimpl"
	"github.com/kazz187/cardflow/internal/workerapi"
	"github.com/kazz187/cardflow/pkg/clog"
	"github.com/kazz187/cardflow/pkg/db"
	"github.com/kazz187/cardflow/pkg/panicerr"
	"github.com/kazz187/cardflow/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

var (
	app = kingpin.New("cardflow-server", "Kanban driven task scheduler for agent workers")

	serveCmd = app.Command("serve", "Run the HTTP API, liveness monitor and event sinks").Default()

	seedCmd   = app.Command("seed", "Load boards, columns and cards from a YAML file")
	seedFile  = seedCmd.Flag("file", "Seed file path").Short('f').Required().ExistingFile()
	seedWatch = seedCmd.Flag("watch", "Reload the file whenever it changes").Bool()

	sweepCmd = app.Command("sweep", "Run one worker liveness sweep and exit")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}
	setupLogger(env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	switch command {
	case serveCmd.FullCommand():
		err = serve(ctx, env)
	case seedCmd.FullCommand():
		err = seed(ctx, env, *seedFile, *seedWatch)
	case sweepCmd.FullCommand():
		err = sweep(ctx, env)
	}
	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

func openDB(env *config.Env) (*gorm.DB, error) {
	gdb, err := db.NewGormDB(db.Config{Type: env.DBEnv.Type, DSN: env.DBEnv.DSN})
	if err != nil {
		return nil, err
	}
	var models []any
	models = append(models, boardrepo.Models()...)
	models = append(models, taskrepo.Models()...)
	models = append(models, workerrepo.Models()...)
	if err := db.AutoMigrate(gdb, models...); err != nil {
		_ = db.Close(gdb)
		return nil, err
	}
	return gdb, nil
}

func openStorage(ctx context.Context, env *config.Env) (storage.Storage, error) {
	if env.StorageEnv.Type == "s3" {
		s3, err := storage.NewS3Storage(ctx, env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
	local, err := storage.NewLocalStorage(env.StorageEnv.BaseDir)
	if err != nil {
		return nil, err
	}
	return local, nil
}

// components is the wired scheduler shared by every command.
type components struct {
	bus          *eventbus.Bus
	boards       board.Repository
	comments     comment.Repository
	store        *task.Store
	engine       *automation.Engine
	registry     *worker.Registry
	dispatcher   *dispatch.Dispatcher
	orchestrator *orchestrator.Orchestrator
	integrations *integration.Registry
	monitor      *worker.Monitor
}

func wire(env *config.Env, gdb *gorm.DB, st storage.Storage, rec *metrics.Recorder) (*components, error) {
	clock := clockwork.NewRealClock()
	bus := eventbus.New(eventbus.WithBufferSize(env.SchedulerEnv.EventBufferSize))
	schemas, err := task.NewPayloadSchemas()
	if err != nil {
		return nil, err
	}

	boards := boardrepo.NewGormRepository(gdb)
	tasks := taskrepo.NewGormRepository(gdb)
	workers := workerrepo.NewGormRepository(gdb)
	comments := commentrepo.NewYAMLRepository(st)

	store := task.NewStore(tasks, bus, schemas, task.WithNow(clock.Now))
	engine := automation.NewEngine(boards, tasks, store, bus, rec, automation.Config{
		DefaultMaxLoopCount: env.SchedulerEnv.DefaultMaxLoopCount,
	})
	registry := worker.NewRegistry(workers, boards, tasks, bus, clock)
	dispatcher := dispatch.NewDispatcher(tasks, boards, registry, bus, clock, rec)
	integrations := integration.NewRegistry()
	orch := orchestrator.New(tasks, store, boards, engine, comments, integrations, registry, bus, clock, rec,
		orchestrator.Config{RearmOnFailure: env.SchedulerEnv.RearmOnFailure})
	monitor := worker.NewMonitor(workers, boards, bus, orch, clock, worker.MonitorConfig{
		Interval:     env.SchedulerEnv.SweepInterval,
		StaleAfter:   env.SchedulerEnv.StaleAfter,
		OfflineAfter: env.SchedulerEnv.OfflineAfter,
	}, rec)

	return &components{
		bus:          bus,
		boards:       boards,
		comments:     comments,
		store:        store,
		engine:       engine,
		registry:     registry,
		dispatcher:   dispatcher,
		orchestrator: orch,
		integrations: integrations,
		monitor:      monitor,
	}, nil
}

func setupMetrics(env *config.Env) (*metrics.Recorder, func(context.Context) error, error) {
	if !env.MetricsEnv.Enabled {
		return nil, func(context.Context) error { return nil }, nil
	}
	shutdown, err := metrics.SetupStdoutProvider(os.Stdout, env.MetricsEnv.Interval)
	if err != nil {
		return nil, nil, err
	}
	rec, err := metrics.NewGlobal()
	if err != nil {
		_ = shutdown(context.Background())
		return nil, nil, err
	}
	return rec, shutdown, nil
}

func serve(ctx context.Context, env *config.Env) error {
	gdb, err := openDB(env)
	if err != nil {
		return err
	}
	defer db.Close(gdb)
	st, err := openStorage(ctx, env)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	rec, shutdownMetrics, err := setupMetrics(env)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Error("failed to flush metrics", "error", err)
		}
	}()

	c, err := wire(env, gdb, st, rec)
	if err != nil {
		return err
	}
	defer c.bus.Close()
	if err := rec.ObserveDropped(c.bus); err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	pushSubRepo := pushsubrepo.NewYAMLRepository(st)
	pushSender := pushnotification.NewSender(&env.VAPIDEnv, pushSubRepo)
	pushDispatcher := pushnotification.NewDispatcher(c.bus, c.boards, pushSender)

	srv := server.NewServer(env, gdb, &server.Servers{
		Worker: workerapi.NewServer(c.registry, c.dispatcher, c.orchestrator, workerapi.Settings{
			MaxConcurrentTasks:       env.SchedulerEnv.MaxConcurrentTasks,
			PollIntervalSeconds:      env.SchedulerEnv.PollIntervalSeconds,
			HeartbeatIntervalSeconds: env.SchedulerEnv.HeartbeatIntervalSeconds,
		}),
		Task:       task.NewServer(c.store, c.boards, c.orchestrator, c.integrations),
		Board:      board.NewServer(c.boards),
		Automation: automation.NewServer(c.engine),
		Comment:    comment.NewServer(c.comments, c.boards),
		Event:      event.NewServer(c.bus, c.boards, clock, event.DefaultHeartbeatInterval),
		Push:       pushnotification.NewServer(&env.VAPIDEnv, pushSubRepo, pushSender, clock),
	})

	if err := c.monitor.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.monitor.Stop(); err != nil {
			slog.Error("failed to stop monitor", "error", err)
		}
	}()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(panicerr.Go("push dispatcher", func() error {
		pushDispatcher.Start(egCtx)
		return nil
	}))
	if brokers := env.KafkaEnv.BrokerList(); len(brokers) > 0 {
		exporter := eventexport.New(c.bus, eventexport.NewKafkaWriter(&env.KafkaEnv))
		eg.Go(panicerr.Go("event exporter", func() error {
			exporter.Start(egCtx)
			return nil
		}))
		slog.Info("exporting events to kafka", "brokers", brokers, "topic", env.KafkaEnv.Topic)
	}
	eg.Go(func() error {
		if err := srv.ListenAndServe(egCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func seed(ctx context.Context, env *config.Env, path string, watch bool) error {
	gdb, err := openDB(env)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	seeder := board.NewSeeder(boardrepo.NewGormRepository(gdb))
	stats, err := seeder.LoadFile(ctx, path)
	if err != nil {
		return err
	}
	slog.Info("seed file applied", "path", path, "boards", stats.Boards, "columns", stats.Columns, "cards", stats.Cards)
	if !watch {
		return nil
	}
	slog.Info("watching seed file", "path", path)
	return seeder.Watch(ctx, path)
}

func sweep(ctx context.Context, env *config.Env) error {
	gdb, err := openDB(env)
	if err != nil {
		return err
	}
	defer db.Close(gdb)
	st, err := openStorage(ctx, env)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	c, err := wire(env, gdb, st, nil)
	if err != nil {
		return err
	}
	defer c.bus.Close()

	res, err := c.monitor.Sweep(ctx)
	if err != nil {
		return err
	}
	slog.Info("sweep finished", "stale", len(res.Stale), "offline", len(res.Offline), "failed_tasks", res.FailedTasks)
	return nil
}
