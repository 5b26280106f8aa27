package repository

import "context"

// WishlistRepository is the read side of the wishlist. Entries are written elsewhere.
type WishlistRepository interface {
	CountByUser(ctx context.Context, userID string) (int64, error)
}
