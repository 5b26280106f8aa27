package usecase

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/pkg/errors"
	"classifieds/pkg/logger"
)

// MessageUseCase is the message channel of a conversation: history, sending,
// read state and the live insert feed.
type MessageUseCase struct {
	messageRepo      repository.MessageRepository
	conversationRepo repository.ConversationRepository
	feed             repository.MessageFeed
	now              func() time.Time
}

func NewMessageUseCase(
	messageRepo repository.MessageRepository,
	conversationRepo repository.ConversationRepository,
	feed repository.MessageFeed,
) *MessageUseCase {
	return &MessageUseCase{
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		feed:             feed,
		now:              time.Now,
	}
}

type SendMessageInput struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	ProductID      string
}

// LoadHistory returns the conversation's messages oldest first. Store
// failures yield an empty list.
func (uc *MessageUseCase) LoadHistory(ctx context.Context, conversationID string) []*entity.MessageWithSender {
	messages, err := uc.messageRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		logger.Error("LoadHistory: failed for conversation %s: %v", conversationID, err)
		return []*entity.MessageWithSender{}
	}
	return messages
}

// Send stores a message and bumps the conversation's last activity. The bump
// is best effort: if it fails the message still counts as sent.
func (uc *MessageUseCase) Send(ctx context.Context, input SendMessageInput) (*entity.Message, error) {
	content := strings.TrimSpace(input.Content)
	switch {
	case content == "":
		return nil, errors.Validation("content", "must not be empty")
	case input.ConversationID == "":
		return nil, errors.Validation("conversation_id", "is required")
	case input.SenderID == "" || input.ReceiverID == "":
		return nil, errors.Validation("participants", "are required")
	case input.SenderID == input.ReceiverID:
		return nil, errors.BadRequest("You cannot send a message to yourself", nil)
	}

	message := &entity.Message{
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		ReceiverID:     input.ReceiverID,
		Content:        content,
		ProductID:      input.ProductID,
		CreatedAt:      uc.now().UTC(),
	}
	if err := uc.messageRepo.Create(ctx, message); err != nil {
		logger.Error("SendMessage Error: failed to store message in conversation %s: %v", input.ConversationID, err)
		return nil, err
	}

	if err := uc.conversationRepo.UpdateLastMessageAt(ctx, message.ConversationID, message.CreatedAt); err != nil {
		logger.Warn("SendMessage: message %s stored but last activity not updated: %v", message.ID, err)
	}
	return message, nil
}

// MarkRead sets the read time on every unread message addressed to userID in
// the conversation. Calling it with nothing unread is a no-op.
func (uc *MessageUseCase) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	if conversationID == "" || userID == "" {
		return 0, errors.Validation("conversation_id", "is required")
	}
	marked, err := uc.messageRepo.MarkRead(ctx, conversationID, userID, uc.now().UTC())
	if err != nil {
		logger.Error("MarkRead: failed for conversation %s: %v", conversationID, err)
		return 0, err
	}
	if marked > 0 {
		logger.Debug("MarkRead: %d messages in %s read by %s", marked, conversationID, userID)
	}
	return marked, nil
}

// resyncInterval is the minimum gap between two resyncs of one subscription.
const resyncInterval = time.Second

// MessageSubscription is a live feed of new messages for one conversation.
type MessageSubscription struct {
	conversationID string
	cancel         context.CancelFunc
	closed         atomic.Bool
	once           sync.Once
	done           chan struct{}

	mu    sync.Mutex
	inner repository.InsertSubscription
}

func (s *MessageSubscription) ConversationID() string {
	return s.conversationID
}

// Close stops delivery. It is safe to call more than once and from inside
// the onInsert callback.
func (s *MessageSubscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		inner := s.inner
		s.mu.Unlock()
		s.cancel()
		inner.Close()
	})
}

// Done is closed once the delivery goroutine has exited.
func (s *MessageSubscription) Done() <-chan struct{} {
	return s.done
}

// swap installs the feed opened by a resync. It fails once Close has run.
func (s *MessageSubscription) swap(next repository.InsertSubscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.inner = next
	return true
}

// Subscribe opens the live feed. Each insert event is re-fetched with its
// sender info and handed to onInsert, one at a time, in feed order.
//
// When the feed reports that it lost events, the subscription reopens it and
// replays the conversation history through onInsert, so onInsert can see a
// message more than once and must dedupe by id.
func (uc *MessageUseCase) Subscribe(ctx context.Context, conversationID string, onInsert func(*entity.MessageWithSender)) (*MessageSubscription, error) {
	if conversationID == "" {
		return nil, errors.Validation("conversation_id", "is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	inner, err := uc.feed.SubscribeInserts(ctx, conversationID)
	if err != nil {
		cancel()
		return nil, errors.Internal("Failed to subscribe to conversation", err)
	}

	sub := &MessageSubscription{
		conversationID: conversationID,
		inner:          inner,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		var lastResync time.Time
		for {
			uc.deliver(ctx, sub, inner, onInsert)
			if sub.closed.Load() || ctx.Err() != nil || !inner.Lagged() {
				return
			}

			if wait := resyncInterval - time.Since(lastResync); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
			}
			lastResync = time.Now()
			logger.Warn("Message feed: conversation %s lost events, resyncing", conversationID)

			next, err := uc.feed.SubscribeInserts(ctx, conversationID)
			if err != nil {
				logger.Error("Message feed: resubscribe to %s failed: %v", conversationID, err)
				return
			}
			if !sub.swap(next) {
				next.Close()
				return
			}
			inner = next

			// Subscribed again before reloading, so the replay and the new
			// feed overlap instead of leaving a gap.
			for _, message := range uc.LoadHistory(ctx, conversationID) {
				if sub.closed.Load() {
					return
				}
				onInsert(message)
			}
		}
	}()

	return sub, nil
}

// deliver forwards events from one feed until its channel closes.
func (uc *MessageUseCase) deliver(ctx context.Context, sub *MessageSubscription, inner repository.InsertSubscription, onInsert func(*entity.MessageWithSender)) {
	conversationID := sub.conversationID
	for event := range inner.Events() {
		if sub.closed.Load() {
			return
		}
		message, err := uc.messageRepo.GetWithSender(ctx, event.ID)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("Message feed: failed to fetch message %s: %v", event.ID, err)
			}
			continue
		}
		if message.ConversationID != conversationID || sub.closed.Load() {
			continue
		}
		onInsert(message)
	}
}
