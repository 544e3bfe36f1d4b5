// Package eventexport mirrors bus events to a Kafka topic for downstream
// consumers. Export is best effort: a failed write is logged and dropped.
package eventexport

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kazz187/cardflow/internal/config"
	"github.com/kazz187/cardflow/internal/eventbus"
)

const writeTimeout = 10 * time.Second

// MessageWriter is the part of *kafka.Writer the exporter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Exporter struct {
	bus    *eventbus.Bus
	writer MessageWriter
}

func NewKafkaWriter(env *config.KafkaEnv) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(env.BrokerList()...),
		Topic:        env.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}
}

func New(bus *eventbus.Bus, writer MessageWriter) *Exporter {
	return &Exporter{bus: bus, writer: writer}
}

// Start forwards events until ctx is done or the bus is closed, then
// closes the writer.
func (e *Exporter) Start(ctx context.Context) {
	subID, ch := e.bus.SubscribeAll()
	defer e.bus.UnsubscribeAll(subID)
	defer func() {
		if err := e.writer.Close(); err != nil {
			slog.ErrorContext(ctx, "event export: failed to close writer", "error", err)
		}
	}()

	slog.InfoContext(ctx, "event exporter started")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "event exporter stopped")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.export(ctx, ev)
		}
	}
}

func (e *Exporter) export(ctx context.Context, ev *eventbus.Event) {
	msg, err := Message(ev)
	if err != nil {
		slog.ErrorContext(ctx, "event export: failed to encode event", "event_id", ev.ID, "error", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := e.writer.WriteMessages(wctx, msg); err != nil {
		slog.WarnContext(ctx, "event export: failed to write event", "event_id", ev.ID, "type", ev.Type, "error", err)
	}
}

// Message keys the event by board so a board's events stay ordered within
// one partition.
func Message(ev *eventbus.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	key := strings.TrimPrefix(ev.Channel, "board:")
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}
