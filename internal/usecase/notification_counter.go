package usecase

import (
	"context"

	"golang.org/x/sync/errgroup"

	"classifieds/internal/domain/repository"
	"classifieds/pkg/logger"
)

// CountResult is a count that may be unknown because the store failed.
type CountResult struct {
	Value int64
	Known bool
}

// NotificationCounter runs the badge count queries. It never returns an
// error: a failed query yields an unknown result with value 0.
type NotificationCounter struct {
	messageRepo  repository.MessageRepository
	wishlistRepo repository.WishlistRepository
}

func NewNotificationCounter(
	messageRepo repository.MessageRepository,
	wishlistRepo repository.WishlistRepository,
) *NotificationCounter {
	return &NotificationCounter{
		messageRepo:  messageRepo,
		wishlistRepo: wishlistRepo,
	}
}

// UnreadMessageCount counts messages to userID from someone else with no read time.
func (c *NotificationCounter) UnreadMessageCount(ctx context.Context, userID string) CountResult {
	count, err := c.messageRepo.CountUnread(ctx, userID)
	if err != nil {
		logger.Error("UnreadMessageCount: failed for user %s: %v", userID, err)
		return CountResult{}
	}
	return CountResult{Value: nonNegative(count), Known: true}
}

func (c *NotificationCounter) WishlistCount(ctx context.Context, userID string) CountResult {
	count, err := c.wishlistRepo.CountByUser(ctx, userID)
	if err != nil {
		logger.Error("WishlistCount: failed for user %s: %v", userID, err)
		return CountResult{}
	}
	return CountResult{Value: nonNegative(count), Known: true}
}

// Counts runs both queries concurrently.
func (c *NotificationCounter) Counts(ctx context.Context, userID string) (unread, wishlist CountResult) {
	var g errgroup.Group
	g.Go(func() error {
		unread = c.UnreadMessageCount(ctx, userID)
		return nil
	})
	g.Go(func() error {
		wishlist = c.WishlistCount(ctx, userID)
		return nil
	})
	_ = g.Wait()
	return unread, wishlist
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
