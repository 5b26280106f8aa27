package firebase

import (
	"context"
	"errors"

	"firebase.google.com/go/v4/auth"

	"classifieds/internal/domain/entity"
)

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseAuthClient verifies Firebase ID tokens issued to the web app.
type FirebaseAuthClient struct {
	client idTokenVerifier
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (*entity.Identity, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if result.UID == "" {
		return nil, errors.New("token has no uid")
	}

	identity := &entity.Identity{UserID: result.UID}
	if name, ok := result.Claims["name"].(string); ok {
		identity.Name = name
	}
	return identity, nil
}
