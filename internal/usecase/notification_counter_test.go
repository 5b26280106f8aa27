package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"classifieds/internal/domain/repository"
)

func TestUnreadMessageCountPredicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)

	before := f.unread(t, bob)

	f.send(t, c, alice, "Hi! Is this available?")
	assert.Equal(t, before+1, f.unread(t, bob), "an unread message to bob increments by exactly one")

	// Bob's own messages never count for bob.
	f.send(t, c, bob, "Yes it is")
	assert.Equal(t, before+1, f.unread(t, bob))

	// A message bob has already read does not change his count.
	_, err := f.channel.MarkRead(ctx, c.ID, bob)
	assert.NoError(t, err)
	afterRead := f.unread(t, bob)
	assert.Equal(t, int64(0), afterRead)
	f.send(t, c, alice, "Great")
	_, err = f.channel.MarkRead(ctx, c.ID, bob)
	assert.NoError(t, err)
	assert.Equal(t, afterRead, f.unread(t, bob))

	assert.Equal(t, int64(1), f.unread(t, alice))
}

func TestWishlistCount(t *testing.T) {
	f := newFixture(t)
	f.store.AddToWishlist(alice, "p1")
	f.store.AddToWishlist(alice, "p2")

	result := f.counter.WishlistCount(context.Background(), alice)
	assert.True(t, result.Known)
	assert.Equal(t, int64(2), result.Value)

	result = f.counter.WishlistCount(context.Background(), bob)
	assert.True(t, result.Known)
	assert.Equal(t, int64(0), result.Value)
}

func TestCounterStoreFailureIsUnknown(t *testing.T) {
	flaky := &flakyMessageRepo{countErr: errStoreDown}
	f := newFixture(t, withMessageRepo(func(inner repository.MessageRepository) repository.MessageRepository {
		flaky.MessageRepository = inner
		return flaky
	}))
	f.store.AddToWishlist(alice, "p1")

	unread, wishlist := f.counter.Counts(context.Background(), alice)
	assert.False(t, unread.Known)
	assert.Equal(t, int64(0), unread.Value)
	assert.True(t, wishlist.Known)
	assert.Equal(t, int64(1), wishlist.Value)
}
