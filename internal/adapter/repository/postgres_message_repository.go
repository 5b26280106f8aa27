package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/internal/infrastructure/postgres"
	"classifieds/pkg/errors"
)

const messageWithSenderQuery = `
	SELECT m.id, m.conversation_id, m.sender_id, m.receiver_id, m.content,
		COALESCE(m.product_id, ''), m.created_at, m.read_at,
		u.id, u.name, u.avatar, u.verified
	FROM messages m
	LEFT JOIN users u ON u.id = m.sender_id`

type postgresMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageRepository(pool *pgxpool.Pool) repository.MessageRepository {
	return &postgresMessageRepository{pool: pool}
}

func (r *postgresMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, product_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		message.ID, message.ConversationID, message.SenderID, message.ReceiverID,
		message.Content, message.ProductID, message.CreatedAt,
	)
	return mapPgError(err, "Message", "Failed to create message")
}

func (r *postgresMessageRepository) GetWithSender(ctx context.Context, id string) (*entity.MessageWithSender, error) {
	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	message, err := scanMessageWithSender(r.pool.QueryRow(ctx, messageWithSenderQuery+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, mapPgError(err, "Message", "Failed to get message")
	}
	return message, nil
}

func (r *postgresMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*entity.MessageWithSender, error) {
	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, messageWithSenderQuery+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC, m.seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, errors.Internal("Failed to list messages", err)
	}
	defer rows.Close()

	messages := make([]*entity.MessageWithSender, 0)
	for rows.Next() {
		message, err := scanMessageWithSender(rows)
		if err != nil {
			return nil, errors.Internal("Failed to scan message", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("Failed to list messages", err)
	}
	return messages, nil
}

func (r *postgresMessageRepository) MarkRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE messages SET read_at = $3
		WHERE conversation_id = $1 AND receiver_id = $2 AND read_at IS NULL`,
		conversationID, receiverID, at,
	)
	if err != nil {
		return 0, errors.Internal("Failed to mark messages as read", err)
	}
	return tag.RowsAffected(), nil
}

func (r *postgresMessageRepository) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE receiver_id = $1 AND sender_id <> $1 AND read_at IS NULL`,
		receiverID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Internal("Failed to count unread messages", err)
	}
	return count, nil
}

func (r *postgresMessageRepository) CountUnreadInConversation(ctx context.Context, conversationID, receiverID string) (int64, error) {
	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND receiver_id = $2 AND sender_id <> $2 AND read_at IS NULL`,
		conversationID, receiverID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Internal("Failed to count unread messages", err)
	}
	return count, nil
}

func scanMessageWithSender(row pgx.Row) (*entity.MessageWithSender, error) {
	var (
		m                       entity.MessageWithSender
		senderID, name, avatar *string
		verified               *bool
	)
	if err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content,
		&m.ProductID, &m.CreatedAt, &m.ReadAt,
		&senderID, &name, &avatar, &verified,
	); err != nil {
		return nil, err
	}
	if senderID != nil {
		m.Sender = &entity.UserSummary{
			ID:       *senderID,
			Name:     deref(name),
			Avatar:   deref(avatar),
			Verified: verified != nil && *verified,
		}
	}
	return &m, nil
}
