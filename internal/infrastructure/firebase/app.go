package firebase

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Clients holds the Firebase services the server talks to. Firestore is nil
// unless it was requested.
type Clients struct {
	App       *fbapp.App
	Auth      *FirebaseAuthClient
	Firestore *firestore.Client
}

func clientOptions(credentialsFile string) []option.ClientOption {
	if credentialsFile == "" {
		// Application default credentials.
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
}

// NewClients initialises the Firebase app and the requested clients.
func NewClients(ctx context.Context, projectID, credentialsFile string, withAuth, withFirestore bool) (*Clients, error) {
	opts := clientOptions(credentialsFile)
	app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase: %w", err)
	}

	clients := &Clients{App: app}
	if withAuth {
		authClient, err := app.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize firebase auth: %w", err)
		}
		clients.Auth = NewFirebaseAuthClient(authClient)
	}
	if withFirestore {
		client, err := firestore.NewClient(ctx, projectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
		clients.Firestore = client
	}
	return clients, nil
}

func (c *Clients) Close() error {
	if c.Firestore != nil {
		return c.Firestore.Close()
	}
	return nil
}
