// Package events is the in-process operations event bus. Mode changes,
// safety transitions, window updates, action lifecycle and command outcomes
// are published here; subscribers (log sink, tests) consume them without
// ever blocking a tick.
package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rockit-astro/opsd/internal/telemetry/metrics"
)

// Category enumerations.
const (
	CategoryEnvironment = "environment"
	CategoryDome        = "dome"
	CategoryTelescope   = "telescope"
	CategoryAction      = "action"
	CategoryCommand     = "command"
)

// Event is the structured envelope for operations events.
type Event struct {
	Time     time.Time         `json:"time"`
	Category string            `json:"category"`
	Type     string            `json:"type"`
	Severity string            `json:"severity,omitempty"` // info|warn|error
	Labels   map[string]string `json:"labels,omitempty"`
	Fields   map[string]any    `json:"fields,omitempty"`
}

// Subscription is a handle representing a consumer of events.
type Subscription interface {
	C() <-chan Event
	Close() error
	ID() int64
}

// BusStats returns runtime counters for observability.
type BusStats struct {
	Subscribers        int64
	Published          uint64
	Dropped            uint64
	PerSubscriberDrops map[int64]uint64
}

// Bus is the event bus interface.
type Bus interface {
	Publish(ev Event) error
	Subscribe(buffer int) (Subscription, error)
	Unsubscribe(sub Subscription) error
	Stats() BusStats
}

// NewBus creates a bounded event bus. Provider may be nil.
func NewBus(provider metrics.Provider) Bus {
	b := &eventBus{subs: make(map[int64]*subscriber)}
	if provider != nil {
		b.mPublished = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "opsd", Subsystem: "events", Name: "published_total", Help: "Total events published"}})
		b.mDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "opsd", Subsystem: "events", Name: "dropped_total", Help: "Total events dropped due to backpressure"}})
	}
	return b
}

type subscriber struct {
	id      int64
	ch      chan Event
	bus     *eventBus
	dropped atomic.Uint64
	once    sync.Once
}

func (s *subscriber) C() <-chan Event { return s.ch }
func (s *subscriber) ID() int64       { return s.id }

func (s *subscriber) Close() error {
	s.once.Do(func() { s.bus.remove(s.id) })
	return nil
}

type eventBus struct {
	mu        sync.RWMutex
	subs      map[int64]*subscriber
	nextID    int64
	published atomic.Uint64
	dropped   atomic.Uint64

	mPublished metrics.Counter
	mDropped   metrics.Counter
}

func (b *eventBus) Publish(ev Event) error {
	if ev.Category == "" {
		return errors.New("event missing category")
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	if b.mPublished != nil {
		b.mPublished.Inc(1)
	}
	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			if b.mDropped != nil {
				b.mDropped.Inc(1)
			}
		}
	}
	return nil
}

func (b *eventBus) Subscribe(buffer int) (Subscription, error) {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &subscriber{id: b.nextID, ch: make(chan Event, buffer), bus: b}
	b.subs[s.id] = s
	return s, nil
}

func (b *eventBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return errors.New("nil subscription")
	}
	return sub.Close()
}

func (b *eventBus) remove(id int64) {
	b.mu.Lock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.ch)
	}
	b.mu.Unlock()
}

func (b *eventBus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	per := make(map[int64]uint64, len(b.subs))
	for id, s := range b.subs {
		per[id] = s.dropped.Load()
	}
	return BusStats{
		Subscribers:        int64(len(b.subs)),
		Published:          b.published.Load(),
		Dropped:            b.dropped.Load(),
		PerSubscriberDrops: per,
	}
}
