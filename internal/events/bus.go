package events

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rickgao/nft-marketplace/internal/model"
)

// Bus errors.
var (
	ErrBusClosed           = errors.New("event bus closed")
	ErrDuplicateSubscriber = errors.New("subscriber already registered")
)

// DefaultQueueCapacity is the initial capacity of a subscriber queue.
const DefaultQueueCapacity = 256

// Bus is a publish/subscribe fan-out of committed events.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	published atomic.Int64
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	name  string
	queue *Queue[model.Event]
	bus   *Bus

	mu      sync.Mutex
	dropped bool
}

// Subscribe registers a named subscriber. limit <= 0 makes its queue
// unbounded; otherwise the subscriber is dropped once limit events are
// waiting.
func (b *Bus) Subscribe(name string, limit int) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.subs[name]; ok {
		return nil, ErrDuplicateSubscriber
	}

	sub := &Subscription{
		name:  name,
		queue: NewQueue[model.Event](DefaultQueueCapacity, limit),
		bus:   b,
	}
	b.subs[name] = sub
	b.logger.Debug("subscriber added", "subscriber", name, "limit", limit)
	return sub, nil
}

// Unsubscribe removes the subscriber and closes its queue.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	sub, ok := b.subs[name]
	delete(b.subs, name)
	b.mu.Unlock()

	if ok {
		sub.queue.Close()
	}
}

// Publish delivers ev to every subscriber without blocking. Implements
// market.Publisher.
func (b *Bus) Publish(ev model.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.published.Add(1)
	var overflowed []*Subscription
	for _, sub := range b.subs {
		if !sub.queue.Send(ev) {
			overflowed = append(overflowed, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range overflowed {
		sub.markDropped()
		b.Unsubscribe(sub.name)
		b.logger.Warn("subscriber dropped, queue full",
			"subscriber", sub.name,
			"seq", ev.Seq,
		)
	}
}

// Close closes every subscriber queue. Queued events stay receivable.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.queue.Close()
	}
}

// SubscriberStats describes one subscriber queue.
type SubscriberStats struct {
	Name string
	QueueStats
}

// Stats returns per-subscriber queue statistics sorted by name.
func (b *Bus) Stats() []SubscriberStats {
	b.mu.RLock()
	result := make([]SubscriberStats, 0, len(b.subs))
	for name, sub := range b.subs {
		result = append(result, SubscriberStats{Name: name, QueueStats: sub.queue.Stats()})
	}
	b.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Published returns the number of events published.
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Name returns the subscriber name.
func (s *Subscription) Name() string {
	return s.name
}

// Receive blocks for the next event. Returns false once the subscription
// is closed and drained, or ctx is done.
func (s *Subscription) Receive(ctx context.Context) (model.Event, bool) {
	return s.queue.Receive(ctx)
}

// TryReceive returns the next event without blocking.
func (s *Subscription) TryReceive() (model.Event, bool) {
	return s.queue.TryReceive()
}

// DrainTo returns up to max queued events.
func (s *Subscription) DrainTo(max int) []model.Event {
	return s.queue.DrainTo(max)
}

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	return s.queue.Len()
}

// Dropped reports whether the bus dropped this subscriber for falling behind.
func (s *Subscription) Dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s.name)
}

func (s *Subscription) markDropped() {
	s.mu.Lock()
	s.dropped = true
	s.mu.Unlock()
}
