package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

const DefaultBufferSize = 100

// allChannels is the pseudo channel used by SubscribeAll.
const allChannels = "*"

type Option func(*Bus)

func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

// Bus is an in-process, best-effort publish/subscribe hub keyed by channel.
// Publish never blocks: when a subscriber's queue is full the event is
// dropped for that subscriber only.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event
	bufSize     int
	now         func() time.Time
	closed      bool
	dropped     atomic.Uint64
}

func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string]map[string]chan *Event),
		bufSize:     DefaultBufferSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Subscribe(channel string) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, b.bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	subs, ok := b.subscribers[channel]
	if !ok {
		subs = make(map[string]chan *Event)
		b.subscribers[channel] = subs
	}
	subs[id] = ch
	return id, ch
}

// SubscribeAll receives events from every channel.
func (b *Bus) SubscribeAll() (string, <-chan *Event) {
	return b.Subscribe(allChannels)
}

func (b *Bus) Unsubscribe(channel, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[channel]
	if !ok {
		return
	}
	if ch, ok := subs[id]; ok {
		close(ch)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(b.subscribers, channel)
	}
}

func (b *Bus) UnsubscribeAll(id string) {
	b.Unsubscribe(allChannels, id)
}

func (b *Bus) Publish(channel string, event *Event) {
	if event.Channel == "" {
		event.Channel = channel
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.deliver(b.subscribers[channel], event)
	if channel != allChannels {
		b.deliver(b.subscribers[allChannels], event)
	}
}

func (b *Bus) deliver(subs map[string]chan *Event, event *Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) PublishNew(channel string, eventType EventType, data map[string]any) *Event {
	event := &Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		Channel:   channel,
		Data:      data,
		CreatedAt: b.now(),
	}
	b.Publish(channel, event)
	return event
}

// Dropped returns how many deliveries were discarded because a subscriber
// queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber queue. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for channel, subs := range b.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subscribers, channel)
	}
}
