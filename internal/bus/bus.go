// Package bus carries change events from their producers (the polling
// watcher, the realtime client) to the boundary consumer.
package bus

import (
	"errors"
	"sync"

	"github.com/tabletrace/tabletrace/internal/change"
)

// ErrClosed is returned by Publish after Close. Producers log it and
// keep going; it is not fatal to them.
var ErrClosed = errors.New("event bus closed")

// DefaultCapacity bounds the bus; a full bus applies backpressure to
// producers rather than dropping events.
const DefaultCapacity = 1000

// Bus is a bounded FIFO of change events. Deliveries are ordered per
// producer but not across producers.
type Bus struct {
	ch   chan change.Event
	done chan struct{}
	once sync.Once
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		ch:   make(chan change.Event, capacity),
		done: make(chan struct{}),
	}
}

// Publish enqueues an event, blocking while the bus is full. It returns
// ErrClosed once the consumer is gone.
func (b *Bus) Publish(ev change.Event) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.ch <- ev:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

// Events is the receive side for the single boundary consumer.
func (b *Bus) Events() <-chan change.Event { return b.ch }

// Done is closed when the bus shuts down; consumers select on it to
// stop draining.
func (b *Bus) Done() <-chan struct{} { return b.done }

// Close releases blocked producers. Safe to call more than once.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}
