// Package events carries envelope lifecycle notifications from the processor
// to observers such as the audit log.
package events

import (
	"sync"
	"time"
)

// EventType names an envelope lifecycle event.
type EventType string

const (
	// EventEnvelopeProcessed is published when every request in an envelope
	// has a result.
	EventEnvelopeProcessed EventType = "envelope_processed"
	// EventEnvelopeDelivered is published when a completed envelope reaches a
	// sender's outbox.
	EventEnvelopeDelivered EventType = "envelope_delivered"
	// EventRequestFailed is published for each routing or delivery error.
	EventRequestFailed EventType = "request_failed"
	// EventDescriptorsReloaded is published after the descriptor file is
	// loaded again.
	EventDescriptorsReloaded EventType = "descriptors_reloaded"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber receives events on its own goroutine.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe bus. Each subscriber has a buffered
// channel; when it is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	closed      bool

	// OnPanic, if set, is called with the recovered value when a subscriber
	// panics. Set it before the first Subscribe.
	OnPanic func(EventType, any)
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one or more event types and returns an
// unsubscribe function. Subscribing to a closed bus is a no-op.
func (b *Bus) Subscribe(fn Subscriber, types ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(types) == 0 {
		return func() {}
	}

	ch := make(chan Event, b.bufferSize)
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	onPanic := b.OnPanic

	go func() {
		for event := range ch {
			func() {
				defer func() {
					if r := recover(); r != nil && onPanic != nil {
						onPanic(event.Type, r)
					}
				}()
				fn(event)
			}()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return
			}
			for _, t := range types {
				b.subscribers[t] = removeChan(b.subscribers[t], ch)
			}
			close(ch)
		})
	}
}

func removeChan(subs []chan Event, ch chan Event) []chan Event {
	for i, c := range subs {
		if c == ch {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish delivers an event to the subscribers of its type without blocking.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes every subscriber channel. Further publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[chan Event]bool)
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
		delete(b.subscribers, eventType)
	}
}
