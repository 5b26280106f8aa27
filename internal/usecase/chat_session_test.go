package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/pkg/errors"
)

type sessionRecorder struct {
	mu      sync.Mutex
	updates []SessionUpdate
}

func (r *sessionRecorder) listen(update SessionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *sessionRecorder) ofKind(kind SessionUpdateKind) []SessionUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SessionUpdate
	for _, u := range r.updates {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

func (f *fixture) session(t *testing.T, viewer string) (*ChatSession, *sessionRecorder) {
	t.Helper()
	rec := &sessionRecorder{}
	s := f.chat.NewSession(entity.UserSummary{ID: viewer}, rec.listen)
	s.now = f.clock.Now
	t.Cleanup(s.Close)
	return s, rec
}

func contents(messages []DisplayMessage) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}

func summaryFor(list []*entity.ConversationSummary, id string) *entity.ConversationSummary {
	for _, s := range list {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func TestSessionOpenLoadsConversations(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t)
	f.send(t, c, bob, "hello")

	s, rec := f.session(t, alice)
	s.Open(context.Background())

	view := s.View()
	require.Len(t, view.Conversations, 1)
	assert.Equal(t, int64(1), view.Conversations[0].UnreadCount)
	assert.Equal(t, ViewIdle, view.State)
	assert.Len(t, rec.ofKind(UpdateConversations), 1)
}

func TestSessionSelectMarksReadExactlyTheShownMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)
	withCarol, _, err := f.conversations.GetOrCreateConversation(ctx, CreateConversationInput{BuyerID: carol, SellerID: alice, ProductID: "p9"})
	require.NoError(t, err)

	f.send(t, c, bob, "one")
	f.send(t, c, bob, "two")
	f.send(t, c, alice, "mine")
	f.send(t, c, bob, "three")
	f.send(t, withCarol, carol, "elsewhere")
	require.Equal(t, int64(4), f.unread(t, alice))

	s, _ := f.session(t, alice)
	s.Open(ctx)
	require.NoError(t, s.SelectConversation(ctx, c.ID))

	view := s.View()
	assert.Equal(t, ViewReady, view.State)
	assert.Equal(t, []string{"one", "two", "mine", "three"}, contents(view.Messages))
	for _, m := range view.Messages {
		assert.Equal(t, DisplayConfirmed, m.Status)
	}
	assert.Equal(t, int64(1), f.unread(t, alice), "only the opened conversation is read")
	assert.Zero(t, summaryFor(view.Conversations, c.ID).UnreadCount)
	assert.Equal(t, int64(1), summaryFor(view.Conversations, withCarol.ID).UnreadCount)

	require.NoError(t, s.SelectConversation(ctx, c.ID))
	assert.Equal(t, int64(1), f.unread(t, alice), "reopening changes nothing")
	assert.Len(t, s.View().Messages, 4)
}

func TestSessionSelectRejectsOutsider(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t)

	s, _ := f.session(t, carol)
	err := s.SelectConversation(context.Background(), c.ID)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	assert.Empty(t, s.View().ConversationID)
}

func TestSessionSendPendingThenConfirmed(t *testing.T) {
	flaky := &flakyMessageRepo{createGate: make(chan struct{})}
	f := newFixture(t, withMessageRepo(func(inner repository.MessageRepository) repository.MessageRepository {
		flaky.MessageRepository = inner
		return flaky
	}))
	ctx := context.Background()
	c := f.conversation(t)

	s, rec := f.session(t, alice)
	require.NoError(t, s.SelectConversation(ctx, c.ID))
	s.SetDraft("Is it still available?")

	result := make(chan error, 1)
	go func() { result <- s.Send(ctx, "Is it still available?") }()

	require.Eventually(t, func() bool { return flaky.calls() == 1 }, time.Second, 5*time.Millisecond)
	view := s.View()
	assert.True(t, view.Sending)
	require.Len(t, view.Messages, 1)
	pending := view.Messages[0]
	assert.Equal(t, DisplayPending, pending.Status)
	assert.NotEmpty(t, pending.TempID)
	assert.Equal(t, pending.TempID, pending.Key())
	assert.Equal(t, "Is it still available?", pending.Content)
	assert.Empty(t, view.Draft, "composer clears as soon as the placeholder shows")

	// A second send while the first is in flight is refused without a store call.
	err := s.Send(ctx, "again")
	assert.True(t, errors.Is(err, errors.CodeConflict))
	assert.Equal(t, 1, flaky.calls())

	close(flaky.createGate)
	require.NoError(t, <-result)

	assert.Eventually(t, func() bool {
		messages := s.View().Messages
		return len(messages) == 1 && messages[0].Status == DisplayConfirmed
	}, time.Second, 5*time.Millisecond)
	confirmedMessage := s.View().Messages[0]
	assert.NotEqual(t, pending.TempID, confirmedMessage.ID)
	assert.Equal(t, confirmedMessage.ID, confirmedMessage.Key())
	assert.False(t, s.View().Sending)

	// The live echo of our own message never duplicates it.
	assert.Never(t, func() bool { return len(s.View().Messages) != 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, rec.ofKind(UpdateSendFailed))
}

func TestSessionSendKeepsPlaceInSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)
	f.send(t, c, bob, "first")

	s, _ := f.session(t, alice)
	require.NoError(t, s.SelectConversation(ctx, c.ID))
	require.NoError(t, s.Send(ctx, "second"))
	f.send(t, c, bob, "third")

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"first", "second", "third"}, contents(s.View().Messages))
	}, time.Second, 5*time.Millisecond)
}

func TestSessionSendFailureRestoresDraft(t *testing.T) {
	flaky := &flakyMessageRepo{}
	f := newFixture(t, withMessageRepo(func(inner repository.MessageRepository) repository.MessageRepository {
		flaky.MessageRepository = inner
		return flaky
	}))
	ctx := context.Background()
	c := f.conversation(t)

	s, rec := f.session(t, alice)
	require.NoError(t, s.SelectConversation(ctx, c.ID))

	flaky.setCreateErr(errStoreDown)
	err := s.Send(ctx, "Would you take 30? ")
	var sendErr *SendFailedError
	require.ErrorAs(t, err, &sendErr)
	assert.True(t, errors.Is(err, errors.CodeInternal), "the store error stays in the chain")

	view := s.View()
	assert.Empty(t, view.Messages, "placeholder is removed")
	assert.Equal(t, "Would you take 30? ", view.Draft)
	assert.False(t, view.Sending)

	failures := rec.ofKind(UpdateSendFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, c.ID, failures[0].ConversationID)
	assert.Equal(t, sendErr.TempID, failures[0].TempID)
	assert.Error(t, failures[0].Err)

	// The guard is released, so a retry goes through.
	flaky.setCreateErr(nil)
	require.NoError(t, s.Send(ctx, view.Draft))
	assert.Equal(t, []string{"Would you take 30?"}, contents(s.View().Messages))
}

func TestSessionSendValidation(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t)
	s, _ := f.session(t, alice)

	err := s.Send(context.Background(), "hello")
	assert.True(t, errors.Is(err, errors.CodeBadRequest), "nothing selected")

	require.NoError(t, s.SelectConversation(context.Background(), c.ID))
	err = s.Send(context.Background(), "  ")
	assert.True(t, errors.Is(err, errors.CodeValidation))
	assert.Empty(t, s.View().Messages)
}

func TestSessionInboundIsShownAndMarkedRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)

	s, _ := f.session(t, alice)
	s.Open(ctx)
	require.NoError(t, s.SelectConversation(ctx, c.ID))

	m := f.send(t, c, bob, "Yes, still available")
	assert.Eventually(t, func() bool {
		messages := s.View().Messages
		return len(messages) == 1 && messages[0].ID == m.ID
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return f.unread(t, alice) == 0 }, time.Second, 5*time.Millisecond)

	summary := summaryFor(s.View().Conversations, c.ID)
	require.NotNil(t, summary)
	assert.Equal(t, m.CreatedAt, summary.LastMessageAt)
}

func TestSessionSwitchClosesPreviousFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.conversation(t)
	second, _, err := f.conversations.GetOrCreateConversation(ctx, CreateConversationInput{BuyerID: carol, SellerID: alice, ProductID: "p9"})
	require.NoError(t, err)

	s, _ := f.session(t, alice)
	require.NoError(t, s.SelectConversation(ctx, first.ID))
	assert.Equal(t, 1, f.broker.Subscribers(first.ID))

	require.NoError(t, s.SelectConversation(ctx, second.ID))
	assert.Zero(t, f.broker.Subscribers(first.ID))
	assert.Equal(t, 1, f.broker.Subscribers(second.ID))

	f.send(t, first, bob, "for the old view")
	assert.Never(t, func() bool { return len(s.View().Messages) != 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, int64(1), f.unread(t, alice), "messages in the closed view stay unread")

	s.CloseConversation()
	assert.Zero(t, f.broker.Subscribers(second.ID))
	assert.Equal(t, ViewIdle, s.View().State)
}

func TestSessionCloseReleasesFeed(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t)

	s, _ := f.session(t, alice)
	require.NoError(t, s.SelectConversation(context.Background(), c.ID))
	s.Close()
	s.Close()
	assert.Zero(t, f.broker.Subscribers(c.ID))
}

func TestSessionStartConversationPrefillsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, rec := f.session(t, alice)
	c, err := s.StartConversation(ctx, bob, product, "Oak desk")
	require.NoError(t, err)

	view := s.View()
	assert.Equal(t, c.ID, view.ConversationID)
	assert.Equal(t, fmt.Sprintf(ContactDraftFormat, "Oak desk"), view.Draft)
	assert.Equal(t, "Hi! I'm interested in your product \"Oak desk\". Is it still available?", view.Draft)
	require.NotNil(t, summaryFor(view.Conversations, c.ID), "new conversation appears in the list")
	assert.NotEmpty(t, rec.ofKind(UpdateDraft))

	again, err := s.StartConversation(ctx, bob, product, "")
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)

	_, err = s.StartConversation(ctx, alice, product, "Oak desk")
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
}

func TestSessionSendNotifiesReceiver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)

	bobBadge := &recorder{}
	f.hub.Subscribe(bob, bobBadge.observe)

	s, _ := f.session(t, alice)
	require.NoError(t, s.SelectConversation(ctx, c.ID))
	require.NoError(t, s.Send(ctx, "Hi! Is this available?"))

	assert.Eventually(t, func() bool {
		return bobBadge.len() > 0 && bobBadge.last().UnreadMessages == 1
	}, time.Second, 5*time.Millisecond)
}

func TestChatRefreshCountsSettles(t *testing.T) {
	f := newFixture(t)
	chat := NewChatUseCase(f.conversations, f.channel, f.hub, 20*time.Millisecond)
	rec := &recorder{}
	f.hub.Subscribe(alice, rec.observe)

	chat.RefreshCounts(context.Background(), alice)
	assert.Equal(t, 1, rec.len())
	assert.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestReplacePending(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := func(id string, offset time.Duration) *entity.MessageWithSender {
		return &entity.MessageWithSender{Message: entity.Message{ID: id, Content: id, CreatedAt: at.Add(offset)}}
	}
	pending := DisplayMessage{Status: DisplayPending, TempID: "temp-1", MessageWithSender: msg("temp-1", time.Second)}

	t.Run("in place", func(t *testing.T) {
		display := []DisplayMessage{confirmed(msg("a", 0)), pending, confirmed(msg("b", 2*time.Second))}
		out := replacePending(display, "temp-1", confirmed(msg("m1", time.Second)))
		assert.Equal(t, []string{"a", "m1", "b"}, contents(out))
		assert.Equal(t, DisplayPending, display[1].Status, "input is not mutated")
	})

	t.Run("echo arrived first", func(t *testing.T) {
		display := insertSorted([]DisplayMessage{pending}, confirmed(msg("m1", time.Second)))
		out := replacePending(display, "temp-1", confirmed(msg("m1", time.Second)))
		require.Len(t, out, 1)
		assert.Equal(t, "m1", out[0].ID)
		assert.Equal(t, DisplayConfirmed, out[0].Status)
	})

	t.Run("server time out of order", func(t *testing.T) {
		display := []DisplayMessage{confirmed(msg("a", 0)), pending, confirmed(msg("b", 2*time.Second))}
		out := replacePending(display, "temp-1", confirmed(msg("m1", 3*time.Second)))
		assert.Equal(t, []string{"a", "b", "m1"}, contents(out))
	})

	t.Run("placeholder gone", func(t *testing.T) {
		out := replacePending([]DisplayMessage{confirmed(msg("a", 0))}, "temp-1", confirmed(msg("m1", time.Second)))
		assert.Equal(t, []string{"a", "m1"}, contents(out))
	})
}

func TestInsertSortedKeepsTiesInArrivalOrder(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var display []DisplayMessage
	for _, id := range []string{"x", "y", "z"} {
		display = insertSorted(display, confirmed(&entity.MessageWithSender{Message: entity.Message{ID: id, Content: id, CreatedAt: at}}))
	}
	display = insertSorted(display, confirmed(&entity.MessageWithSender{Message: entity.Message{ID: "early", Content: "early", CreatedAt: at.Add(-time.Second)}}))
	assert.Equal(t, []string{"early", "x", "y", "z"}, contents(display))
}
