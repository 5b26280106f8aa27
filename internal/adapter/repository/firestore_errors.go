package repository

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"classifieds/pkg/errors"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	usersCollection         = "users"
	productsCollection      = "products"
	wishlistsCollection     = "wishlists"
)

func mapFirestoreError(err error, resource, message string) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return errors.NotFound(resource, err)
	case codes.AlreadyExists:
		return errors.Conflict(resource+" already exists", err)
	}
	return errors.Internal(message, err)
}
