package usecase

import (
	"context"
	"time"

	"classifieds/internal/domain/entity"
)

// ChatUseCase ties sends and read marks to badge refreshes and opens chat
// sessions for connected clients.
type ChatUseCase struct {
	conversations *ConversationUseCase
	messages      *MessageUseCase
	hub           *NotificationHub
	settleDelay   time.Duration
	// background outlives request contexts; it is used for refreshes that
	// continue after the response is written.
	background context.Context
}

func NewChatUseCase(
	conversations *ConversationUseCase,
	messages *MessageUseCase,
	hub *NotificationHub,
	settleDelay time.Duration,
) *ChatUseCase {
	return &ChatUseCase{
		conversations: conversations,
		messages:      messages,
		hub:           hub,
		settleDelay:   settleDelay,
		background:    context.Background(),
	}
}

// SendMessage sends into a conversation the sender takes part in, addressed
// to the other participant, then refreshes both participants' counts.
func (uc *ChatUseCase) SendMessage(ctx context.Context, conversation *entity.Conversation, senderID, content, productID string) (*entity.Message, error) {
	if productID == "" {
		productID = conversation.ProductID
	}
	message, err := uc.messages.Send(ctx, SendMessageInput{
		ConversationID: conversation.ID,
		SenderID:       senderID,
		ReceiverID:     conversation.OtherParticipant(senderID),
		Content:        content,
		ProductID:      productID,
	})
	if err != nil {
		return nil, err
	}
	uc.afterSend(ctx, message)
	return message, nil
}

// MarkRead marks the conversation read for userID and refreshes their counts.
func (uc *ChatUseCase) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	marked, err := uc.messages.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	uc.RefreshCounts(ctx, userID)
	return marked, nil
}

// RefreshCounts runs the immediate refresh and, when a settle delay is
// configured, a delayed one for stores with lagging reads.
func (uc *ChatUseCase) RefreshCounts(ctx context.Context, userID string) {
	uc.hub.Refresh(ctx, userID)
	if uc.settleDelay > 0 {
		uc.hub.RefreshWithDelay(userID, uc.settleDelay)
	}
}

func (uc *ChatUseCase) afterSend(ctx context.Context, message *entity.Message) {
	uc.RefreshCounts(ctx, message.SenderID)
	// The receiver has a new unread message, so their badge must not be debounced away.
	receiverID := message.ReceiverID
	go uc.hub.ForceRefresh(uc.background, receiverID)
}

func (uc *ChatUseCase) Conversations() *ConversationUseCase {
	return uc.conversations
}

func (uc *ChatUseCase) Messages() *MessageUseCase {
	return uc.messages
}

func (uc *ChatUseCase) Hub() *NotificationHub {
	return uc.hub
}
