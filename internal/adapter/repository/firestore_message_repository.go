package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/pkg/errors"
)

type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{client: client}
}

func (r *firestoreMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	_, err := r.client.Collection(messagesCollection).Doc(message.ID).Create(ctx, message)
	return mapFirestoreError(err, "Message", "Failed to create message")
}

func (r *firestoreMessageRepository) GetWithSender(ctx context.Context, id string) (*entity.MessageWithSender, error) {
	doc, err := r.client.Collection(messagesCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError(err, "Message", "Failed to get message")
	}

	var message entity.MessageWithSender
	if err := doc.DataTo(&message.Message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	message.ID = doc.Ref.ID

	senders, err := r.loadUsers(ctx, []string{message.SenderID})
	if err != nil {
		return nil, err
	}
	message.Sender = senders[message.SenderID]
	return &message, nil
}

func (r *firestoreMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*entity.MessageWithSender, error) {
	iter := r.client.Collection(messagesCollection).
		Where("conversationId", "==", conversationID).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	messages := make([]*entity.MessageWithSender, 0)
	senderIDs := make([]string, 0, 2)
	seen := make(map[string]bool)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Internal("Failed to list messages", err)
		}
		var message entity.MessageWithSender
		if err := doc.DataTo(&message.Message); err != nil {
			return nil, errors.Internal("Failed to parse message data", err)
		}
		message.ID = doc.Ref.ID
		if !seen[message.SenderID] {
			seen[message.SenderID] = true
			senderIDs = append(senderIDs, message.SenderID)
		}
		messages = append(messages, &message)
	}

	senders, err := r.loadUsers(ctx, senderIDs)
	if err != nil {
		return nil, err
	}
	for _, message := range messages {
		message.Sender = senders[message.SenderID]
	}
	return messages, nil
}

func (r *firestoreMessageRepository) MarkRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	docs, err := r.unreadQuery(conversationID, receiverID).Documents(ctx).GetAll()
	if err != nil {
		return 0, errors.Internal("Failed to find unread messages", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	writer := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := writer.Update(doc.Ref, []firestore.Update{{Path: "readAt", Value: at}})
		if err != nil {
			writer.End()
			return 0, errors.Internal("Failed to queue read update", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	var marked int64
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return marked, errors.Internal("Failed to mark messages as read", err)
		}
		marked++
	}
	return marked, nil
}

func (r *firestoreMessageRepository) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	docs, err := r.client.Collection(messagesCollection).
		Where("receiverId", "==", receiverID).
		Where("readAt", "==", nil).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, errors.Internal("Failed to count unread messages", err)
	}
	return countFromOthers(docs, receiverID), nil
}

func (r *firestoreMessageRepository) CountUnreadInConversation(ctx context.Context, conversationID, receiverID string) (int64, error) {
	docs, err := r.unreadQuery(conversationID, receiverID).Documents(ctx).GetAll()
	if err != nil {
		return 0, errors.Internal("Failed to count unread messages", err)
	}
	return countFromOthers(docs, receiverID), nil
}

func (r *firestoreMessageRepository) unreadQuery(conversationID, receiverID string) firestore.Query {
	return r.client.Collection(messagesCollection).
		Where("conversationId", "==", conversationID).
		Where("receiverId", "==", receiverID).
		Where("readAt", "==", nil)
}

// countFromOthers applies the sender != receiver half of the predicate,
// which Firestore cannot combine with the equality filters.
func countFromOthers(docs []*firestore.DocumentSnapshot, receiverID string) int64 {
	var count int64
	for _, doc := range docs {
		senderID, err := doc.DataAt("senderId")
		if err != nil || senderID == receiverID {
			continue
		}
		count++
	}
	return count
}

func (r *firestoreMessageRepository) loadUsers(ctx context.Context, ids []string) (map[string]*entity.UserSummary, error) {
	users := make(map[string]*entity.UserSummary, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = r.client.Collection(usersCollection).Doc(id)
	}
	docs, err := r.client.GetAll(ctx, refs)
	if err != nil {
		return nil, errors.Internal("Failed to load message senders", err)
	}
	for _, doc := range docs {
		if doc == nil || !doc.Exists() {
			continue
		}
		var user entity.UserSummary
		if err := doc.DataTo(&user); err != nil {
			continue
		}
		user.ID = doc.Ref.ID
		users[user.ID] = &user
	}
	return users, nil
}
