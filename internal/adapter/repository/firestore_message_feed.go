package repository

import (
	"context"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/pkg/logger"
)

// FirestoreMessageFeed turns a snapshot listener on the conversation's
// messages into insert events.
type FirestoreMessageFeed struct {
	client *firestore.Client
}

func NewFirestoreMessageFeed(client *firestore.Client) repository.MessageFeed {
	return &FirestoreMessageFeed{client: client}
}

type firestoreInsertSubscription struct {
	events chan entity.MessageInsert
	cancel context.CancelFunc
	once   sync.Once
	lagged atomic.Bool
}

func (s *firestoreInsertSubscription) Events() <-chan entity.MessageInsert {
	return s.events
}

func (s *firestoreInsertSubscription) Lagged() bool {
	return s.lagged.Load()
}

func (s *firestoreInsertSubscription) Close() {
	s.once.Do(s.cancel)
}

func (f *FirestoreMessageFeed) SubscribeInserts(ctx context.Context, conversationID string) (repository.InsertSubscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &firestoreInsertSubscription{
		events: make(chan entity.MessageInsert, 16),
		cancel: cancel,
	}

	snapshots := f.client.Collection(messagesCollection).
		Where("conversationId", "==", conversationID).
		OrderBy("createdAt", firestore.Asc).
		Snapshots(ctx)

	go func() {
		defer close(sub.events)
		defer snapshots.Stop()

		initial := true
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					logger.Error("Message feed: snapshot listener for %s stopped: %v", conversationID, err)
					sub.lagged.Store(true)
				}
				return
			}
			// The first snapshot is the existing history, not new inserts.
			if initial {
				initial = false
				continue
			}
			for _, change := range snap.Changes {
				if change.Kind != firestore.DocumentAdded {
					continue
				}
				event := entity.MessageInsert{ID: change.Doc.Ref.ID, ConversationID: conversationID}
				select {
				case sub.events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}
