package usecase

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tinnicap/internal/domain"
	"tinnicap/internal/logging"
)

// EventKind identifies what an Event carries.
type EventKind string

const (
	// EventDevicesChanged has no payload; subscribers re-fetch the snapshot.
	EventDevicesChanged EventKind = "devicesChanged"
	// EventLimitViolation carries a domain.Violation.
	EventLimitViolation EventKind = "limitViolationNotified"
)

// Event is delivered to every subscriber of the monitor.
type Event struct {
	ID        string
	Kind      EventKind
	At        time.Time
	Violation *domain.Violation
}

func newEvent(kind EventKind, at time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, At: at}
}

// Subscription receives events until Close is called or the bus shuts down.
type Subscription struct {
	C <-chan Event

	ch   chan Event
	bus  *EventBus
	id   uint64
	once sync.Once
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

// EventBus fans events out to subscribers without ever blocking the publisher.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: map[uint64]*Subscription{}}
}

// Subscribe registers a subscriber with the given channel buffer (minimum 1).
func (b *EventBus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		sub.once.Do(func() {})
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers ev to every subscriber. A subscriber whose buffer is full misses it.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			logging.Warnf("event bus: subscriber %d is full, dropped %s event", id, ev.Kind)
		}
	}
}

// Close closes every subscription. Later subscriptions are closed immediately.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}
