package metrics

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "github.com/kazz187/cardflow"

// Recorder holds the scheduler's counters. A nil *Recorder records nothing.
type Recorder struct {
	claims      metric.Int64Counter
	transitions metric.Int64Counter
	triggers    metric.Int64Counter
	sweeps      metric.Int64Counter
	liveness    metric.Int64Counter
	orphaned    metric.Int64Counter
	meter       metric.Meter
}

func New(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{meter: meter}
	var err error
	if r.claims, err = meter.Int64Counter("cardflow.task.claims",
		metric.WithDescription("Claim attempts by result")); err != nil {
		return nil, fmt.Errorf("failed to create claims counter: %w", err)
	}
	if r.transitions, err = meter.Int64Counter("cardflow.task.transitions",
		metric.WithDescription("Task status transitions by target status")); err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}
	if r.triggers, err = meter.Int64Counter("cardflow.automation.triggers",
		metric.WithDescription("Automation evaluations by result")); err != nil {
		return nil, fmt.Errorf("failed to create triggers counter: %w", err)
	}
	if r.sweeps, err = meter.Int64Counter("cardflow.worker.sweeps",
		metric.WithDescription("Liveness sweeps run")); err != nil {
		return nil, fmt.Errorf("failed to create sweeps counter: %w", err)
	}
	if r.liveness, err = meter.Int64Counter("cardflow.worker.demotions",
		metric.WithDescription("Workers demoted by the liveness sweep by new status")); err != nil {
		return nil, fmt.Errorf("failed to create demotions counter: %w", err)
	}
	if r.orphaned, err = meter.Int64Counter("cardflow.task.orphaned",
		metric.WithDescription("Tasks failed because their worker went offline")); err != nil {
		return nil, fmt.Errorf("failed to create orphaned counter: %w", err)
	}
	return r, nil
}

// NewGlobal builds a Recorder on the global meter provider.
func NewGlobal() (*Recorder, error) {
	return New(otel.Meter(instrumentationName))
}

func (r *Recorder) RecordClaim(ctx context.Context, won bool) {
	if r == nil {
		return
	}
	result := "won"
	if !won {
		result = "lost"
	}
	r.claims.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (r *Recorder) RecordTransition(ctx context.Context, status string) {
	if r == nil {
		return
	}
	r.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (r *Recorder) RecordTrigger(ctx context.Context, result string) {
	if r == nil {
		return
	}
	r.triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (r *Recorder) RecordSweep(ctx context.Context, stale, offline int) {
	if r == nil {
		return
	}
	r.sweeps.Add(ctx, 1)
	if stale > 0 {
		r.liveness.Add(ctx, int64(stale), metric.WithAttributes(attribute.String("status", "stale")))
	}
	if offline > 0 {
		r.liveness.Add(ctx, int64(offline), metric.WithAttributes(attribute.String("status", "offline")))
	}
}

func (r *Recorder) RecordOrphaned(ctx context.Context, n int) {
	if r == nil || n == 0 {
		return
	}
	r.orphaned.Add(ctx, int64(n))
}

// DropCounter is implemented by the event bus.
type DropCounter interface {
	Dropped() uint64
}

// ObserveDropped exports the bus's dropped-delivery count.
func (r *Recorder) ObserveDropped(src DropCounter) error {
	if r == nil {
		return nil
	}
	_, err := r.meter.Int64ObservableCounter("cardflow.eventbus.dropped",
		metric.WithDescription("Event deliveries dropped on full subscriber queues"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(src.Dropped()))
			return nil
		}))
	if err != nil {
		return fmt.Errorf("failed to create dropped counter: %w", err)
	}
	return nil
}

// SetupStdoutProvider installs a global meter provider that periodically
// writes metrics to w. The returned function flushes and shuts it down.
func SetupStdoutProvider(w io.Writer, interval time.Duration) (func(context.Context) error, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
