package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/internal/infrastructure/realtime"
	"classifieds/pkg/errors"
)

var (
	_ repository.ConversationRepository = (*MemoryStore)(nil)
	_ repository.MessageRepository      = (*MemoryMessageStore)(nil)
	_ repository.WishlistRepository     = (*MemoryWishlistStore)(nil)
)

// MemoryStore keeps conversations, messages and wishlist entries in process.
// It backs STORE_DRIVER=memory and every use case test.
type MemoryStore struct {
	mu sync.RWMutex

	users         map[string]entity.UserSummary
	products      map[string]entity.ProductSummary
	conversations map[string]*entity.Conversation
	keys          map[entity.ConversationKey]string
	messages      []*entity.Message
	messageIndex  map[string]*entity.Message
	wishlist      map[string]map[string]time.Time

	broker *realtime.Broker
}

// NewMemoryStore publishes message inserts to broker when it is not nil.
func NewMemoryStore(broker *realtime.Broker) *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]entity.UserSummary),
		products:      make(map[string]entity.ProductSummary),
		conversations: make(map[string]*entity.Conversation),
		keys:          make(map[entity.ConversationKey]string),
		messageIndex:  make(map[string]*entity.Message),
		wishlist:      make(map[string]map[string]time.Time),
		broker:        broker,
	}
}

func (s *MemoryStore) PutUser(user entity.UserSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *MemoryStore) PutProduct(product entity.ProductSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *MemoryStore) AddToWishlist(userID, productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.wishlist[userID]
	if !ok {
		items = make(map[string]time.Time)
		s.wishlist[userID] = items
	}
	items[productID] = time.Now()
}

func (s *MemoryStore) RemoveFromWishlist(userID, productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wishlist[userID], productID)
}

// Conversations

func (s *MemoryStore) Create(ctx context.Context, conversation *entity.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := conversation.Key()
	if _, exists := s.keys[key]; exists {
		return errors.Conflict("Conversation already exists", nil)
	}
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = time.Now().UTC()
	}
	if conversation.LastMessageAt.IsZero() {
		conversation.LastMessageAt = conversation.CreatedAt
	}

	stored := *conversation
	s.conversations[stored.ID] = &stored
	s.keys[key] = stored.ID
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversation, ok := s.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	out := *conversation
	return &out, nil
}

func (s *MemoryStore) FindByKey(ctx context.Context, key entity.ConversationKey) (*entity.Conversation, error) {
	s.mu.RLock()
	id, ok := s.keys[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return s.GetByID(ctx, id)
}

func (s *MemoryStore) ListByParticipant(ctx context.Context, userID string) ([]*entity.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]*entity.ConversationSummary, 0)
	for _, conversation := range s.conversations {
		if !conversation.HasParticipant(userID) {
			continue
		}
		summary := &entity.ConversationSummary{Conversation: *conversation}
		if user, ok := s.users[conversation.OtherParticipant(userID)]; ok {
			summary.Counterpart = &user
		}
		if product, ok := s.products[conversation.ProductID]; ok {
			product.Image = product.FirstImage()
			summary.Product = &product
		}
		summaries = append(summaries, summary)
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

func (s *MemoryStore) UpdateLastMessageAt(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[id]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	conversation.LastMessageAt = at
	return nil
}

// Messages

// MessageStore exposes the message side of the store under the MessageRepository method names.
func (s *MemoryStore) MessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{s: s}
}

type MemoryMessageStore struct {
	s *MemoryStore
}

func (m *MemoryMessageStore) Create(ctx context.Context, message *entity.Message) error {
	s := m.s
	s.mu.Lock()
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.messageIndex[message.ID]; exists {
		s.mu.Unlock()
		return errors.Conflict("Message already exists", nil)
	}
	stored := *message
	s.messages = append(s.messages, &stored)
	s.messageIndex[stored.ID] = &stored
	// Published under the lock so events leave in insertion order.
	if s.broker != nil {
		s.broker.Publish(entity.MessageInsert{ID: stored.ID, ConversationID: stored.ConversationID})
	}
	s.mu.Unlock()
	return nil
}

func (m *MemoryMessageStore) GetWithSender(ctx context.Context, id string) (*entity.MessageWithSender, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messageIndex[id]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	return s.withSender(message), nil
}

func (m *MemoryMessageStore) ListByConversation(ctx context.Context, conversationID string) ([]*entity.MessageWithSender, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.MessageWithSender, 0)
	for _, message := range s.messages {
		if message.ConversationID == conversationID {
			out = append(out, s.withSender(message))
		}
	}
	// s.messages is in insertion order, so a stable sort keeps ties in that order.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryMessageStore) MarkRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var marked int64
	for _, message := range s.messages {
		if message.ConversationID == conversationID && message.ReceiverID == receiverID && message.ReadAt == nil {
			readAt := at
			message.ReadAt = &readAt
			marked++
		}
	}
	return marked, nil
}

func (m *MemoryMessageStore) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, message := range s.messages {
		if message.IsUnreadFor(receiverID) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryMessageStore) CountUnreadInConversation(ctx context.Context, conversationID, receiverID string) (int64, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, message := range s.messages {
		if message.ConversationID == conversationID && message.IsUnreadFor(receiverID) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) withSender(message *entity.Message) *entity.MessageWithSender {
	out := &entity.MessageWithSender{Message: *message}
	if message.ReadAt != nil {
		readAt := *message.ReadAt
		out.ReadAt = &readAt
	}
	if user, ok := s.users[message.SenderID]; ok {
		out.Sender = &user
	}
	return out
}

// Wishlist

// WishlistStore exposes the wishlist read side of the store.
func (s *MemoryStore) WishlistStore() *MemoryWishlistStore {
	return &MemoryWishlistStore{s: s}
}

type MemoryWishlistStore struct {
	s *MemoryStore
}

func (w *MemoryWishlistStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	return int64(len(w.s.wishlist[userID])), nil
}
