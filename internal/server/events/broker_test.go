package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSubscriber struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (m *mockSubscriber) Send(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSubscriber) received() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func (m *mockSubscriber) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func TestBrokerFansOut(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBroker(&logger)

	// Subscribing before Run must not block.
	first, second := &mockSubscriber{}, &mockSubscriber{}
	b.Subscribe(first)
	b.Subscribe(second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 2 }, time.Second, 5*time.Millisecond)

	b.Publish(ProposalApplied, "acme", map[string]any{"proposal_id": "p1"})
	require.Eventually(t, func() bool {
		return len(first.received()) == 1 && len(second.received()) == 1
	}, time.Second, 5*time.Millisecond)

	got := first.received()[0]
	assert.Equal(t, ProposalApplied, got.Type)
	assert.Equal(t, "acme", got.ProjectID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, uint64(1), got.Seq)

	b.Unsubscribe(second)
	require.Eventually(t, second.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, b.SubscriberCount())

	cancel()
	<-done
	assert.True(t, first.isClosed())
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerDeliversInOrder(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBroker(&logger)
	sub := &mockSubscriber{}
	b.Subscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	for range 50 {
		b.Publish(EntityChanged, "acme", nil)
	}
	require.Eventually(t, func() bool { return len(sub.received()) == 50 }, time.Second, 5*time.Millisecond)
	for i, e := range sub.received() {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestBrokerDropsWhenFull(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBroker(&logger)
	for range queueSize + 10 {
		b.Publish(EntityChanged, "acme", nil)
	}
	assert.Len(t, b.queue, queueSize)

	stats := b.Stats()
	assert.Equal(t, uint64(queueSize+10), stats.Published)
	assert.Equal(t, uint64(10), stats.Dropped)
}
