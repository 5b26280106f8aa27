package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"classifieds/internal/domain/repository"
	"classifieds/internal/infrastructure/postgres"
	"classifieds/pkg/errors"
)

type postgresWishlistRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresWishlistRepository(pool *pgxpool.Pool) repository.WishlistRepository {
	return &postgresWishlistRepository{pool: pool}
}

func (r *postgresWishlistRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := postgres.QueryContext(ctx)
	defer cancel()

	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM wishlist WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return 0, errors.Internal("Failed to count wishlist", err)
	}
	return count, nil
}
