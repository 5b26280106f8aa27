package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/pkg/errors"
)

// spyConversationRepo counts store calls and can fake a lost race.
type spyConversationRepo struct {
	repository.ConversationRepository

	mu        sync.Mutex
	finds     int
	creates   int
	misses    int
	listErr   error
	updateErr error
}

func (r *spyConversationRepo) FindByKey(ctx context.Context, key entity.ConversationKey) (*entity.Conversation, error) {
	r.mu.Lock()
	r.finds++
	miss := r.misses > 0
	if miss {
		r.misses--
	}
	r.mu.Unlock()
	if miss {
		return nil, errors.NotFound("Conversation", nil)
	}
	return r.ConversationRepository.FindByKey(ctx, key)
}

func (r *spyConversationRepo) Create(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	r.creates++
	r.mu.Unlock()
	return r.ConversationRepository.Create(ctx, conversation)
}

func (r *spyConversationRepo) ListByParticipant(ctx context.Context, userID string) ([]*entity.ConversationSummary, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.ConversationRepository.ListByParticipant(ctx, userID)
}

func (r *spyConversationRepo) UpdateLastMessageAt(ctx context.Context, id string, at time.Time) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	return r.ConversationRepository.UpdateLastMessageAt(ctx, id, at)
}

func (r *spyConversationRepo) calls() (finds, creates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finds, r.creates
}

func withSpy(spy *spyConversationRepo) fixtureOption {
	return withConversationRepo(func(inner repository.ConversationRepository) repository.ConversationRepository {
		spy.ConversationRepository = inner
		return spy
	})
}

func TestGetOrCreateConversationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := CreateConversationInput{BuyerID: alice, SellerID: bob, ProductID: product}

	first, created, err := f.conversations.GetOrCreateConversation(ctx, input)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.conversations.GetOrCreateConversation(ctx, input)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// A different product is a different conversation.
	other, created, err := f.conversations.GetOrCreateConversation(ctx, CreateConversationInput{BuyerID: alice, SellerID: bob, ProductID: "p8"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestGetOrCreateConversationReturnsExistingUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := &entity.Conversation{
		ID: "c-existing", BuyerID: alice, SellerID: bob, ProductID: product,
		CreatedAt: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.store.Create(ctx, existing))

	got, created, err := f.conversations.GetOrCreateConversation(ctx, CreateConversationInput{BuyerID: alice, SellerID: bob, ProductID: product})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "c-existing", got.ID)
	assert.Equal(t, existing.CreatedAt, got.CreatedAt)
}

func TestGetOrCreateConversationValidation(t *testing.T) {
	spy := &spyConversationRepo{}
	f := newFixture(t, withSpy(spy))

	tests := []struct {
		name  string
		input CreateConversationInput
		code  string
	}{
		{"self conversation", CreateConversationInput{BuyerID: alice, SellerID: alice, ProductID: product}, errors.CodeBadRequest},
		{"self after trimming", CreateConversationInput{BuyerID: alice, SellerID: " " + alice, ProductID: product}, errors.CodeBadRequest},
		{"missing buyer", CreateConversationInput{SellerID: bob, ProductID: product}, errors.CodeValidation},
		{"missing seller", CreateConversationInput{BuyerID: alice, ProductID: product}, errors.CodeValidation},
		{"missing product", CreateConversationInput{BuyerID: alice, SellerID: bob}, errors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.conversations.GetOrCreateConversation(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}

	finds, creates := spy.calls()
	assert.Zero(t, finds, "rejected before touching the store")
	assert.Zero(t, creates)
}

func TestGetOrCreateConversationRefetchesAfterLostRace(t *testing.T) {
	spy := &spyConversationRepo{}
	f := newFixture(t, withSpy(spy))
	ctx := context.Background()

	winner := &entity.Conversation{BuyerID: alice, SellerID: bob, ProductID: product}
	require.NoError(t, spy.ConversationRepository.Create(ctx, winner))
	// The first lookup misses, as if the winner committed right after it.
	spy.misses = 1

	got, created, err := f.conversations.GetOrCreateConversation(ctx, CreateConversationInput{BuyerID: alice, SellerID: bob, ProductID: product})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, got.ID)

	finds, creates := spy.calls()
	assert.Equal(t, 2, finds)
	assert.Equal(t, 1, creates)
}

func TestGetOrCreateConversationConcurrent(t *testing.T) {
	f := newFixture(t)
	input := CreateConversationInput{BuyerID: alice, SellerID: bob, ProductID: product}

	const callers = 12
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := f.conversations.GetOrCreateConversation(context.Background(), input)
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.conversations.ListConversations(context.Background(), alice), 1)
}

func TestListConversationsOrderAndUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	withBob := f.conversation(t)
	withCarol, _, err := f.conversations.GetOrCreateConversation(ctx, CreateConversationInput{BuyerID: carol, SellerID: alice, ProductID: "p9"})
	require.NoError(t, err)

	f.send(t, withBob, bob, "Still for sale")
	f.send(t, withCarol, carol, "Can you ship?")
	f.send(t, withCarol, carol, "To Lisbon")

	list := f.conversations.ListConversations(ctx, alice)
	require.Len(t, list, 2)
	assert.Equal(t, withCarol.ID, list[0].ID)
	assert.Equal(t, int64(2), list[0].UnreadCount)
	assert.Equal(t, withBob.ID, list[1].ID)
	assert.Equal(t, int64(1), list[1].UnreadCount)
	require.NotNil(t, list[1].Counterpart)
	assert.Equal(t, "Bob", list[1].Counterpart.Name)
	require.NotNil(t, list[1].Product)
	assert.Equal(t, "Oak desk", list[1].Product.Title)

	f.send(t, withBob, alice, "I'll take it")
	list = f.conversations.ListConversations(ctx, alice)
	assert.Equal(t, withBob.ID, list[0].ID)
	assert.Equal(t, int64(1), list[0].UnreadCount, "own messages are never unread")

	// Bob sees the same conversation without Carol's.
	list = f.conversations.ListConversations(ctx, bob)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].UnreadCount)
}

func TestListConversationsDegradesToEmpty(t *testing.T) {
	spy := &spyConversationRepo{listErr: errStoreDown}
	f := newFixture(t, withSpy(spy))

	list := f.conversations.ListConversations(context.Background(), alice)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestGetConversationChecksParticipant(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t)

	got, err := f.conversations.GetConversation(context.Background(), c.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = f.conversations.GetConversation(context.Background(), c.ID, carol)
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	_, err = f.conversations.GetConversation(context.Background(), "missing", bob)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestSortConversationsIsStable(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	summaries := []*entity.ConversationSummary{
		{Conversation: entity.Conversation{ID: "a", LastMessageAt: at}},
		{Conversation: entity.Conversation{ID: "b", LastMessageAt: at.Add(time.Hour)}},
		{Conversation: entity.Conversation{ID: "c", LastMessageAt: at}},
	}
	SortConversations(summaries)
	assert.Equal(t, []string{"b", "a", "c"}, []string{summaries[0].ID, summaries[1].ID, summaries[2].ID})
}
