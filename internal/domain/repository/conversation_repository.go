package repository

import (
	"context"
	"time"

	"classifieds/internal/domain/entity"
)

type ConversationRepository interface {
	// Create inserts a conversation. A second conversation for the same triple
	// fails with a CONFLICT AppError.
	Create(ctx context.Context, conversation *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	// FindByKey returns NOT_FOUND when no conversation exists for the triple.
	FindByKey(ctx context.Context, key entity.ConversationKey) (*entity.Conversation, error)
	// ListByParticipant returns every conversation where userID is buyer or seller,
	// with counterpart and product summaries embedded, most recently active first.
	ListByParticipant(ctx context.Context, userID string) ([]*entity.ConversationSummary, error)
	UpdateLastMessageAt(ctx context.Context, id string, at time.Time) error
}
