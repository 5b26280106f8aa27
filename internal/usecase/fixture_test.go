package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	memrepo "classifieds/internal/adapter/repository"
	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/internal/infrastructure/realtime"
	"classifieds/pkg/errors"
)

const (
	alice   = "u-alice"
	bob     = "u-bob"
	carol   = "u-carol"
	product = "p7"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *memrepo.MemoryStore
	broker   *realtime.Broker
	messages repository.MessageRepository
	clock    *fakeClock

	counter       *NotificationCounter
	hub           *NotificationHub
	conversations *ConversationUseCase
	channel       *MessageUseCase
	chat          *ChatUseCase
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	messages      func(repository.MessageRepository) repository.MessageRepository
	conversations func(repository.ConversationRepository) repository.ConversationRepository
	debounce      time.Duration
}

func withMessageRepo(wrap func(repository.MessageRepository) repository.MessageRepository) fixtureOption {
	return func(c *fixtureConfig) { c.messages = wrap }
}

func withConversationRepo(wrap func(repository.ConversationRepository) repository.ConversationRepository) fixtureOption {
	return func(c *fixtureConfig) { c.conversations = wrap }
}

func withDebounce(d time.Duration) fixtureOption {
	return func(c *fixtureConfig) { c.debounce = d }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	broker := realtime.NewBroker(32)
	store := memrepo.NewMemoryStore(broker)
	store.PutUser(entity.UserSummary{ID: alice, Name: "Alice"})
	store.PutUser(entity.UserSummary{ID: bob, Name: "Bob", Verified: true})
	store.PutUser(entity.UserSummary{ID: carol, Name: "Carol"})
	store.PutProduct(entity.ProductSummary{ID: product, Title: "Oak desk", Price: 40, SellerID: bob, Images: []string{"desk.jpg"}})

	var messages repository.MessageRepository = store.MessageStore()
	if cfg.messages != nil {
		messages = cfg.messages(messages)
	}
	var conversations repository.ConversationRepository = store
	if cfg.conversations != nil {
		conversations = cfg.conversations(conversations)
	}

	clock := newFakeClock()
	counter := NewNotificationCounter(messages, store.WishlistStore())
	hub := NewNotificationHub(counter, cfg.debounce)
	hub.now = clock.Now
	t.Cleanup(hub.Close)
	t.Cleanup(broker.Close)

	conversationUC := NewConversationUseCase(conversations, messages)
	conversationUC.now = clock.Now
	channel := NewMessageUseCase(messages, conversations, broker)
	channel.now = clock.Now

	return &fixture{
		store:         store,
		broker:        broker,
		messages:      messages,
		clock:         clock,
		counter:       counter,
		hub:           hub,
		conversations: conversationUC,
		channel:       channel,
		chat:          NewChatUseCase(conversationUC, channel, hub, 0),
	}
}

// conversation creates alice -> bob about the desk.
func (f *fixture) conversation(t *testing.T) *entity.Conversation {
	t.Helper()
	c, _, err := f.conversations.GetOrCreateConversation(context.Background(), CreateConversationInput{
		BuyerID: alice, SellerID: bob, ProductID: product,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) send(t *testing.T, c *entity.Conversation, from, content string) *entity.Message {
	t.Helper()
	f.clock.Advance(time.Second)
	m, err := f.channel.Send(context.Background(), SendMessageInput{
		ConversationID: c.ID,
		SenderID:       from,
		ReceiverID:     c.OtherParticipant(from),
		Content:        content,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) unread(t *testing.T, userID string) int64 {
	t.Helper()
	result := f.counter.UnreadMessageCount(context.Background(), userID)
	require.True(t, result.Known)
	return result.Value
}

// flakyMessageRepo fails the operations whose error field is set.
type flakyMessageRepo struct {
	repository.MessageRepository

	mu          sync.Mutex
	createErr   error
	countErr    error
	listErr     error
	createCalls int
	// createGate, when set, blocks Create until it is closed.
	createGate chan struct{}
}

func (r *flakyMessageRepo) Create(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	r.createCalls++
	err := r.createErr
	gate := r.createGate
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	return r.MessageRepository.Create(ctx, message)
}

func (r *flakyMessageRepo) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	r.mu.Lock()
	err := r.countErr
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return r.MessageRepository.CountUnread(ctx, receiverID)
}

func (r *flakyMessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]*entity.MessageWithSender, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.MessageRepository.ListByConversation(ctx, conversationID)
}

func (r *flakyMessageRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createCalls
}

func (r *flakyMessageRepo) setCreateErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createErr = err
}

func (r *flakyMessageRepo) setCountErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countErr = err
}

var errStoreDown = errors.Internal("store unavailable", nil)
