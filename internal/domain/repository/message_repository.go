package repository

import (
	"context"
	"time"

	"classifieds/internal/domain/entity"
)

type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error
	GetWithSender(ctx context.Context, id string) (*entity.MessageWithSender, error)
	// ListByConversation returns messages ordered by creation time, ties in insertion order.
	ListByConversation(ctx context.Context, conversationID string) ([]*entity.MessageWithSender, error)
	// MarkRead sets readAt on unread messages addressed to receiverID and returns how many changed.
	MarkRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, receiverID string) (int64, error)
	CountUnreadInConversation(ctx context.Context, conversationID, receiverID string) (int64, error)
}

// MessageFeed streams insert events for one conversation.
type MessageFeed interface {
	// SubscribeInserts delivers events in commit order until ctx is done or
	// Close is called on the returned subscription.
	SubscribeInserts(ctx context.Context, conversationID string) (InsertSubscription, error)
}

type InsertSubscription interface {
	Events() <-chan entity.MessageInsert
	// Lagged reports whether the events channel was closed because the feed
	// lost events. The consumer must reload what it shows and subscribe again.
	Lagged() bool
	Close()
}
