package events

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// queueSize bounds events waiting for the broker loop.
const queueSize = 256

// Broker delivers engine events to subscribers in publish order. Every
// event gets a sequence number, so clients can tell when they missed some.
type Broker struct {
	mu          sync.RWMutex
	subscribers []Subscriber

	queue      chan Event
	register   chan Subscriber
	unregister chan Subscriber

	seq     atomic.Uint64
	dropped atomic.Uint64

	logger *zerolog.Logger
	now    func() time.Time
}

// Stats is a point-in-time view of broker activity.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// NewBroker creates a broker. Subscribe and Publish may be called before
// Run starts.
func NewBroker(logger *zerolog.Logger) *Broker {
	return &Broker{
		queue:      make(chan Event, queueSize),
		register:   make(chan Subscriber, 16),
		unregister: make(chan Subscriber, 16),
		logger:     logger,
		now:        time.Now,
	}
}

// Run is the broker loop. It returns when ctx is done, closing every
// subscriber. Subscribers are called from this goroutine only, one event at
// a time, so Send must not block.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for _, sub := range b.subscribers {
				_ = sub.Close()
			}
			b.subscribers = nil
			b.mu.Unlock()
			b.logger.Info().Uint64("published", b.seq.Load()).Msg("Event broker shut down")
			return

		case sub := <-b.register:
			b.mu.Lock()
			b.subscribers = append(b.subscribers, sub)
			n := len(b.subscribers)
			b.mu.Unlock()
			b.logger.Debug().Int("subscribers", n).Msg("Subscriber registered")

		case sub := <-b.unregister:
			b.mu.Lock()
			if i := slices.Index(b.subscribers, sub); i >= 0 {
				b.subscribers = slices.Delete(b.subscribers, i, i+1)
				_ = sub.Close()
			}
			n := len(b.subscribers)
			b.mu.Unlock()
			b.logger.Debug().Int("subscribers", n).Msg("Subscriber unregistered")

		case event := <-b.queue:
			b.deliver(event)
		}
	}
}

func (b *Broker) deliver(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if err := sub.Send(event); err != nil {
			b.logger.Warn().
				Err(err).
				Str("event_type", string(event.Type)).
				Uint64("seq", event.Seq).
				Msg("Failed to send event to subscriber")
		}
	}
	b.logger.Trace().
		Str("event_type", string(event.Type)).
		Str("project_id", event.ProjectID).
		Uint64("seq", event.Seq).
		Int("subscribers", len(b.subscribers)).
		Msg("Event delivered")
}

// Publish stamps and queues an event. When the queue is full the event is
// dropped and counted; its sequence number is still consumed, leaving a gap
// clients can see.
func (b *Broker) Publish(eventType EventType, projectID string, data any) {
	event := Event{
		Seq:       b.seq.Add(1),
		Type:      eventType,
		ProjectID: projectID,
		Timestamp: b.now(),
		Data:      data,
	}

	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
		b.logger.Warn().
			Str("event_type", string(eventType)).
			Uint64("seq", event.Seq).
			Msg("Event queue full, event dropped")
	}
}

// Subscribe registers a subscriber.
func (b *Broker) Subscribe(sub Subscriber) {
	b.register <- sub
}

// Unsubscribe removes a subscriber and closes it.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.unregister <- sub
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns publish and drop counters.
func (b *Broker) Stats() Stats {
	return Stats{
		Published:   b.seq.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: b.SubscriberCount(),
	}
}
