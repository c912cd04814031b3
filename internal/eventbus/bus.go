// Package eventbus fans out poll and delivery events to in-process observers
// such as the metrics collector.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the poller and the notifier.
const (
	TypePollPass       = "poll.pass"
	TypePollQuiet      = "poll.quiet"
	TypePollQuery      = "poll.query"
	TypePollQueryError = "poll.query_error"

	TypeNotifierSent    = "notifier.sent"
	TypeNotifierFailed  = "notifier.failed"
	TypeNotifierDeduped = "notifier.deduped"

	TypeRegistryChanged = "registry.changed"
)

// Event is a small in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop returns a bus that discards every event.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sending under the read lock keeps unsubscribe (which closes) from racing.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
