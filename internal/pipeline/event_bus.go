package pipeline

import (
	"sync"
)

// EventBus fans accepted alerts out to local announcers
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	labelFilter string // Empty string means receive all labels
	channel     chan *AlertEvent
	handler     AlertHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for all alerts.
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler AlertHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeLabel registers a handler for alerts of a single label
func (b *EventBus) SubscribeLabel(label string, handler AlertHandler) func() {
	return b.add(&eventSubscription{labelFilter: label, handler: handler})
}

// SubscribeChannel returns a buffered channel that receives alerts.
// Alerts are dropped when the channel is full.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *AlertEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *AlertEvent, bufferSize)
	sub := &eventSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish sends an alert to all subscribers.
// Handlers run synchronously on the caller's goroutine and must not block.
func (b *EventBus) Publish(event *AlertEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.labelFilter != "" && sub.labelFilter != event.Label {
			continue
		}

		if sub.handler != nil {
			sub.handler.OnAlert(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}

// AlertHandlerFunc adapts a function to AlertHandler
type AlertHandlerFunc func(event *AlertEvent)

// OnAlert implements AlertHandler
func (f AlertHandlerFunc) OnAlert(event *AlertEvent) {
	f(event)
}

var _ AlertHandler = AlertHandlerFunc(nil)
