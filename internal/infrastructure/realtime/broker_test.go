package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds/internal/domain/entity"
)

func TestBrokerDeliversInOrderToTopic(t *testing.T) {
	b := NewBroker(8)
	sub := b.Subscribe("c1")
	other := b.Subscribe("c2")
	defer sub.Close()
	defer other.Close()

	for _, id := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, 1, b.Publish(entity.MessageInsert{ID: id, ConversationID: "c1"}))
	}

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, (<-sub.Events()).ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
	assert.Len(t, other.Events(), 0)
}

func TestBrokerClosesLaggingSubscriber(t *testing.T) {
	b := NewBroker(1)
	slow := b.Subscribe("c1")
	fast := b.Subscribe("c1")
	defer slow.Close()
	defer fast.Close()

	assert.Equal(t, 2, b.Publish(entity.MessageInsert{ID: "m1", ConversationID: "c1"}))
	assert.Equal(t, "m1", (<-fast.Events()).ID)
	assert.Equal(t, 1, b.Publish(entity.MessageInsert{ID: "m2", ConversationID: "c1"}))

	// Buffered events are still readable before the close is observed.
	assert.Equal(t, "m1", (<-slow.Events()).ID)
	_, open := <-slow.Events()
	assert.False(t, open)
	assert.True(t, slow.Lagged())

	assert.Equal(t, "m2", (<-fast.Events()).ID)
	assert.False(t, fast.Lagged())
	assert.Equal(t, 1, b.Subscribers("c1"))
}

func TestBrokerResyncClosesEverySubscription(t *testing.T) {
	b := NewBroker(4)
	first := b.Subscribe("c1")
	second := b.Subscribe("c2")

	assert.Equal(t, 2, b.Resync())
	for _, sub := range []*Subscription{first, second} {
		_, open := <-sub.Events()
		assert.False(t, open)
		assert.True(t, sub.Lagged())
	}
	assert.Zero(t, b.Subscribers("c1"))
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	b := NewBroker(1)
	sub := b.Subscribe("c1")
	assert.Equal(t, 1, b.Subscribers("c1"))

	sub.Close()
	sub.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.False(t, sub.Lagged())
	assert.Equal(t, 0, b.Subscribers("c1"))
	assert.Equal(t, 0, b.Publish(entity.MessageInsert{ID: "m1", ConversationID: "c1"}))
}

func TestSubscribeInsertsClosesWithContext(t *testing.T) {
	b := NewBroker(1)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := b.SubscribeInserts(ctx, "c1")
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-sub.Events():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed after context cancellation")
	}
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(1)
	sub := b.Subscribe("c1")
	b.Close()

	_, open := <-sub.Events()
	assert.False(t, open)

	late := b.Subscribe("c1")
	_, open = <-late.Events()
	assert.False(t, open)
	late.Close()
}
