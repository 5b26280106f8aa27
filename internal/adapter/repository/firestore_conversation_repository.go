package repository

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/pkg/errors"
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{client: client}
}

// conversationDocID derives the document id from the triple, so Create on an
// existing triple fails with AlreadyExists. Each part is length-prefixed
// before hashing, so no two distinct triples share an encoding.
func conversationDocID(key entity.ConversationKey) string {
	h := sha256.New()
	var size [8]byte
	for _, part := range []string{key.BuyerID, key.SellerID, key.ProductID} {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// checkConversationKey rejects a document whose stored triple differs from
// the key it was looked up by.
func checkConversationKey(conversation *entity.Conversation, key entity.ConversationKey) error {
	if conversation.Key() != key {
		return errors.Conflict("Conversation id is taken by another buyer, seller and product", nil)
	}
	return nil
}

func (r *firestoreConversationRepository) Create(ctx context.Context, conversation *entity.Conversation) error {
	conversation.ID = conversationDocID(conversation.Key())
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = time.Now().UTC()
	}
	if conversation.LastMessageAt.IsZero() {
		conversation.LastMessageAt = conversation.CreatedAt
	}

	_, err := r.client.Collection(conversationsCollection).Doc(conversation.ID).Create(ctx, conversation)
	return mapFirestoreError(err, "Conversation", "Failed to create conversation")
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection(conversationsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError(err, "Conversation", "Failed to get conversation")
	}

	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	conversation.ID = doc.Ref.ID
	return &conversation, nil
}

func (r *firestoreConversationRepository) FindByKey(ctx context.Context, key entity.ConversationKey) (*entity.Conversation, error) {
	conversation, err := r.GetByID(ctx, conversationDocID(key))
	if err != nil {
		return nil, err
	}
	if err := checkConversationKey(conversation, key); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (r *firestoreConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*entity.ConversationSummary, error) {
	summaries := make([]*entity.ConversationSummary, 0)
	for _, field := range []string{"buyerId", "sellerId"} {
		iter := r.client.Collection(conversationsCollection).Where(field, "==", userID).Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, errors.Internal("Failed to list conversations", err)
			}
			var summary entity.ConversationSummary
			if err := doc.DataTo(&summary.Conversation); err != nil {
				iter.Stop()
				return nil, errors.Internal("Failed to parse conversation data", err)
			}
			summary.ID = doc.Ref.ID
			summaries = append(summaries, &summary)
		}
		iter.Stop()
	}

	if err := r.attachSummaries(ctx, userID, summaries); err != nil {
		return nil, err
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return summaries, nil
}

// attachSummaries loads counterparts and products with one GetAll each.
func (r *firestoreConversationRepository) attachSummaries(ctx context.Context, userID string, summaries []*entity.ConversationSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	userRefs := make([]*firestore.DocumentRef, 0, len(summaries))
	productRefs := make([]*firestore.DocumentRef, 0, len(summaries))
	for _, s := range summaries {
		userRefs = append(userRefs, r.client.Collection(usersCollection).Doc(s.OtherParticipant(userID)))
		productRefs = append(productRefs, r.client.Collection(productsCollection).Doc(s.ProductID))
	}

	userDocs, err := r.client.GetAll(ctx, userRefs)
	if err != nil {
		return errors.Internal("Failed to load conversation participants", err)
	}
	productDocs, err := r.client.GetAll(ctx, productRefs)
	if err != nil {
		return errors.Internal("Failed to load conversation products", err)
	}

	for i, s := range summaries {
		if doc := userDocs[i]; doc != nil && doc.Exists() {
			var user entity.UserSummary
			if err := doc.DataTo(&user); err == nil {
				user.ID = doc.Ref.ID
				s.Counterpart = &user
			}
		}
		if doc := productDocs[i]; doc != nil && doc.Exists() {
			var product entity.ProductSummary
			if err := doc.DataTo(&product); err == nil {
				product.ID = doc.Ref.ID
				product.Image = product.FirstImage()
				s.Product = &product
			}
		}
	}
	return nil
}

func (r *firestoreConversationRepository) UpdateLastMessageAt(ctx context.Context, id string, at time.Time) error {
	_, err := r.client.Collection(conversationsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "lastMessageAt", Value: at},
	})
	return mapFirestoreError(err, "Conversation", "Failed to update conversation")
}
