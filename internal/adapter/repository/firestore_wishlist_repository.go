package repository

import (
	"context"

	"cloud.google.com/go/firestore"

	"classifieds/internal/domain/repository"
	"classifieds/pkg/errors"
)

type firestoreWishlistRepository struct {
	client *firestore.Client
}

func NewFirestoreWishlistRepository(client *firestore.Client) repository.WishlistRepository {
	return &firestoreWishlistRepository{client: client}
}

func (r *firestoreWishlistRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	docs, err := r.client.Collection(wishlistsCollection).Where("userId", "==", userID).Documents(ctx).GetAll()
	if err != nil {
		return 0, errors.Internal("Failed to get wishlist count", err)
	}
	return int64(len(docs)), nil
}
