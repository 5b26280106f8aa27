package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/internal/infrastructure/postgres"
	"classifieds/pkg/errors"
)

const conversationColumns = `c.id, c.buyer_id, c.seller_id, c.product_id, c.last_message_at, c.created_at`

type postgresConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresConversationRepository(pool *pgxpool.Pool) repository.ConversationRepository {
	return &postgresConversationRepository{pool: pool}
}

func (r *postgresConversationRepository) Create(ctx context.Context, conversation *entity.Conversation) error {
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = time.Now().UTC()
	}
	if conversation.LastMessageAt.IsZero() {
		conversation.LastMessageAt = conversation.CreatedAt
	}

	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations (id, buyer_id, seller_id, product_id, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		conversation.ID, conversation.BuyerID, conversation.SellerID, conversation.ProductID,
		conversation.LastMessageAt, conversation.CreatedAt,
	)
	return mapPgError(err, "Conversation", "Failed to create conversation")
}

func (r *postgresConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	var c entity.Conversation
	err := r.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id).
		Scan(&c.ID, &c.BuyerID, &c.SellerID, &c.ProductID, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		return nil, mapPgError(err, "Conversation", "Failed to get conversation")
	}
	return &c, nil
}

func (r *postgresConversationRepository) FindByKey(ctx context.Context, key entity.ConversationKey) (*entity.Conversation, error) {
	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	var c entity.Conversation
	err := r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.buyer_id = $1 AND c.seller_id = $2 AND c.product_id = $3`,
		key.BuyerID, key.SellerID, key.ProductID,
	).Scan(&c.ID, &c.BuyerID, &c.SellerID, &c.ProductID, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		return nil, mapPgError(err, "Conversation", "Failed to find conversation")
	}
	return &c, nil
}

func (r *postgresConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*entity.ConversationSummary, error) {
	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT `+conversationColumns+`,
			u.id, u.name, u.avatar, u.verified,
			p.id, p.title, p.price::float8, COALESCE(p.images[1], ''), p.seller_id
		FROM conversations c
		LEFT JOIN users u ON u.id = CASE WHEN c.buyer_id = $1 THEN c.seller_id ELSE c.buyer_id END
		LEFT JOIN products p ON p.id = c.product_id
		WHERE c.buyer_id = $1 OR c.seller_id = $1
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, errors.Internal("Failed to list conversations", err)
	}
	defer rows.Close()

	summaries := make([]*entity.ConversationSummary, 0)
	for rows.Next() {
		var (
			s                                     entity.ConversationSummary
			counterpartID, counterpartName        *string
			counterpartAvatar                     *string
			counterpartVerified                   *bool
			productID, productTitle, productImage *string
			productSeller                         *string
			productPrice                          *float64
		)
		if err := rows.Scan(
			&s.ID, &s.BuyerID, &s.SellerID, &s.ProductID, &s.LastMessageAt, &s.CreatedAt,
			&counterpartID, &counterpartName, &counterpartAvatar, &counterpartVerified,
			&productID, &productTitle, &productPrice, &productImage, &productSeller,
		); err != nil {
			return nil, errors.Internal("Failed to scan conversation", err)
		}
		if counterpartID != nil {
			s.Counterpart = &entity.UserSummary{
				ID:       *counterpartID,
				Name:     deref(counterpartName),
				Avatar:   deref(counterpartAvatar),
				Verified: counterpartVerified != nil && *counterpartVerified,
			}
		}
		if productID != nil {
			s.Product = &entity.ProductSummary{
				ID:       *productID,
				Title:    deref(productTitle),
				Image:    deref(productImage),
				SellerID: deref(productSeller),
			}
			if productPrice != nil {
				s.Product.Price = *productPrice
			}
		}
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("Failed to list conversations", err)
	}
	return summaries, nil
}

func (r *postgresConversationRepository) UpdateLastMessageAt(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	// GREATEST keeps the column monotonic when bumps commit out of order.
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET last_message_at = GREATEST(last_message_at, $2) WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return errors.Internal("Failed to update conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("Conversation", nil)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
