package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/pkg/logger"
)

const DefaultBuffer = 64

// Broker fans insert events out to subscribers of a conversation.
// Delivery to one subscriber is FIFO. A subscriber whose buffer is full is
// closed as lagged, so its consumer knows to reload and subscribe again.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

type Subscription struct {
	broker *Broker
	topic  string
	ch     chan entity.MessageInsert
	done   chan struct{}
	once   sync.Once
	lagged atomic.Bool
}

func (s *Subscription) Events() <-chan entity.MessageInsert {
	return s.ch
}

// Lagged reports whether the subscription was closed because events were lost.
func (s *Subscription) Lagged() bool {
	return s.lagged.Load()
}

// Close is idempotent. The events channel is closed once the subscription is removed.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		if subs, ok := b.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(b.topics, s.topic)
			}
		}
		close(s.ch)
		b.mu.Unlock()
		close(s.done)
	})
}

// Subscribe registers interest in one conversation.
func (b *Broker) Subscribe(conversationID string) *Subscription {
	sub := &Subscription{
		broker: b,
		topic:  conversationID,
		ch:     make(chan entity.MessageInsert, b.buffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() {
			close(sub.ch)
			close(sub.done)
		})
		return sub
	}
	subs, ok := b.topics[conversationID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[conversationID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// SubscribeInserts implements repository.MessageFeed for in-process publishers.
func (b *Broker) SubscribeInserts(ctx context.Context, conversationID string) (repository.InsertSubscription, error) {
	sub := b.Subscribe(conversationID)
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Publish delivers the event to every subscriber of its conversation and
// returns how many received it. It never blocks: a subscriber with a full
// buffer is closed as lagged instead.
func (b *Broker) Publish(event entity.MessageInsert) int {
	b.mu.RLock()
	delivered := 0
	var overflowed []*Subscription
	for sub := range b.topics[event.ConversationID] {
		select {
		case sub.ch <- event:
			delivered++
		default:
			overflowed = append(overflowed, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range overflowed {
		logger.Warn("realtime: subscriber buffer full at message %s for conversation %s, closing for resync", event.ID, event.ConversationID)
		sub.lagged.Store(true)
		sub.Close()
	}
	return delivered
}

// Resync closes every live subscription as lagged. Feeds call it after a gap
// in their upstream, such as a listener reconnect.
func (b *Broker) Resync() int {
	b.mu.RLock()
	var subs []*Subscription
	for _, topic := range b.topics {
		for sub := range topic {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.lagged.Store(true)
		sub.Close()
	}
	return len(subs)
}

// Subscribers returns the number of live subscriptions for a conversation.
func (b *Broker) Subscribers(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[conversationID])
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	var subs []*Subscription
	for _, topic := range b.topics {
		for sub := range topic {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
