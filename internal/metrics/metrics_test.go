package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fixedDrops uint64

func (f fixedDrops) Dropped() uint64 { return uint64(f) }

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	sums := map[string]metricdata.Sum[int64]{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				sums[m.Name] = s
			}
		}
	}
	return sums
}

func valueWith(s metricdata.Sum[int64], key, value string) int64 {
	for _, dp := range s.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := New(provider.Meter("test"))
	require.NoError(t, err)
	require.NoError(t, r.ObserveDropped(fixedDrops(7)))

	ctx := context.Background()
	r.RecordClaim(ctx, true)
	r.RecordClaim(ctx, false)
	r.RecordClaim(ctx, false)
	r.RecordTransition(ctx, "failed")
	r.RecordSweep(ctx, 1, 2)
	r.RecordOrphaned(ctx, 3)

	sums := collect(t, reader)
	assert.Equal(t, int64(1), valueWith(sums["cardflow.task.claims"], "result", "won"))
	assert.Equal(t, int64(2), valueWith(sums["cardflow.task.claims"], "result", "lost"))
	assert.Equal(t, int64(1), valueWith(sums["cardflow.task.transitions"], "status", "failed"))
	assert.Equal(t, int64(2), valueWith(sums["cardflow.worker.demotions"], "status", "offline"))
	require.Len(t, sums["cardflow.task.orphaned"].DataPoints, 1)
	assert.Equal(t, int64(3), sums["cardflow.task.orphaned"].DataPoints[0].Value)
	require.Len(t, sums["cardflow.eventbus.dropped"].DataPoints, 1)
	assert.Equal(t, int64(7), sums["cardflow.eventbus.dropped"].DataPoints[0].Value)
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	ctx := context.Background()
	r.RecordClaim(ctx, true)
	r.RecordTransition(ctx, "completed")
	r.RecordTrigger(ctx, "created")
	r.RecordSweep(ctx, 1, 1)
	r.RecordOrphaned(ctx, 1)
	assert.NoError(t, r.ObserveDropped(fixedDrops(1)))
}
