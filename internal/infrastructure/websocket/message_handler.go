package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"classifieds/internal/domain/entity"
	"classifieds/internal/usecase"
	"classifieds/pkg/errors"
	"classifieds/pkg/logger"
)

// Client frame types
const (
	MessageTypePing               = "ping"
	MessageTypeOpen               = "open"
	MessageTypeSelectConversation = "select_conversation"
	MessageTypeStartConversation  = "start_conversation"
	MessageTypeSendMessage        = "send_message"
	MessageTypeMarkRead           = "mark_read"
	MessageTypeCloseConversation  = "close_conversation"
)

// Server frame types
const (
	MessageTypePong               = "pong"
	MessageTypeConversations      = "conversations"
	MessageTypeMessages           = "messages"
	MessageTypeDraft              = "draft"
	MessageTypeSendFailed         = "send_failed"
	MessageTypeNotificationCounts = "notification_counts"
	MessageTypeError              = "error"
)

// WSMessage is the envelope of every frame in both directions.
type WSMessage struct {
	Type           string      `json:"type"`
	Data           interface{} `json:"data,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

type inboundMessage struct {
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
}

type SelectConversationData struct {
	ConversationID string `json:"conversation_id"`
}

type StartConversationData struct {
	SellerID     string `json:"seller_id"`
	ProductID    string `json:"product_id"`
	ProductTitle string `json:"product_title,omitempty"`
}

type SendMessageData struct {
	Content string `json:"content"`
}

type MessagesData struct {
	State    usecase.ViewState        `json:"state"`
	Messages []usecase.DisplayMessage `json:"messages"`
}

type DraftData struct {
	Draft string `json:"draft"`
}

type SendFailedData struct {
	TempID string `json:"temp_id"`
	Draft  string `json:"draft"`
	Error  string `json:"error"`
}

type ErrorData struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"request_type,omitempty"`
}

// HandleClientMessage decodes one client frame and applies it to the
// client's session. Failures are answered with an error frame.
func (m *Manager) HandleClientMessage(ctx context.Context, client *Client, raw []byte) {
	var message inboundMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		logger.Warn("WebSocket: malformed frame from user %s: %v", client.UserID, err)
		m.sendError(client, "", errors.BadRequest("Invalid message format", err))
		return
	}

	var err error
	switch message.Type {
	case MessageTypePing:
		client.enqueue(WSMessage{Type: MessageTypePong, Data: map[string]string{"status": "alive"}})

	case MessageTypeOpen:
		client.session.Open(ctx)
		m.chat.Hub().Refresh(ctx, client.UserID)

	case MessageTypeSelectConversation:
		err = m.handleSelectConversation(ctx, client, message)

	case MessageTypeStartConversation:
		err = m.handleStartConversation(ctx, client, message)

	case MessageTypeSendMessage:
		err = m.handleSendMessage(ctx, client, message)

	case MessageTypeMarkRead:
		err = client.session.MarkRead(ctx)

	case MessageTypeCloseConversation:
		client.session.CloseConversation()

	default:
		logger.Warn("WebSocket: unknown message type '%s' from user %s", message.Type, client.UserID)
		err = errors.BadRequest("Unknown message type", nil)
	}

	if err != nil {
		m.sendError(client, message.Type, err)
	}
}

func (m *Manager) handleSelectConversation(ctx context.Context, client *Client, message inboundMessage) error {
	var data SelectConversationData
	if err := decodeData(message, &data); err != nil {
		return err
	}
	// The id may also travel in the envelope.
	conversationID := data.ConversationID
	if conversationID == "" {
		conversationID = message.ConversationID
	}
	if conversationID == "" {
		return errors.Validation("conversation_id", "is required")
	}
	return client.session.SelectConversation(ctx, conversationID)
}

func (m *Manager) handleStartConversation(ctx context.Context, client *Client, message inboundMessage) error {
	var data StartConversationData
	if err := decodeData(message, &data); err != nil {
		return err
	}
	_, err := client.session.StartConversation(ctx, data.SellerID, data.ProductID, data.ProductTitle)
	return err
}

func (m *Manager) handleSendMessage(ctx context.Context, client *Client, message inboundMessage) error {
	var data SendMessageData
	if err := decodeData(message, &data); err != nil {
		return err
	}
	err := client.session.Send(ctx, data.Content)
	var sendErr *usecase.SendFailedError
	if stderrors.As(err, &sendErr) {
		// Already reported as a send_failed frame.
		return nil
	}
	return err
}

func (m *Manager) sendError(client *Client, requestType string, err error) {
	appErr := errors.As(err)
	if appErr.Status >= 500 {
		logger.Error("WebSocket: %s from user %s failed: %v", requestType, client.UserID, err)
	}
	client.enqueue(WSMessage{
		Type: MessageTypeError,
		Data: ErrorData{Code: appErr.Code, Message: appErr.Message, RequestType: requestType},
	})
}

func decodeData(message inboundMessage, target interface{}) error {
	if len(message.Data) == 0 || string(message.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(message.Data, target); err != nil {
		return errors.BadRequest("Invalid "+message.Type+" data", err)
	}
	return nil
}

// frameForUpdate maps a session update onto the wire.
func frameForUpdate(update usecase.SessionUpdate) (WSMessage, bool) {
	message := WSMessage{
		ConversationID: update.ConversationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	switch update.Kind {
	case usecase.UpdateConversations:
		message.Type = MessageTypeConversations
		list := update.Conversations
		if list == nil {
			list = []*entity.ConversationSummary{}
		}
		message.Data = list
	case usecase.UpdateMessages:
		message.Type = MessageTypeMessages
		messages := update.Messages
		if messages == nil {
			messages = []usecase.DisplayMessage{}
		}
		message.Data = MessagesData{State: update.State, Messages: messages}
	case usecase.UpdateDraft:
		message.Type = MessageTypeDraft
		message.Data = DraftData{Draft: update.Draft}
	case usecase.UpdateSendFailed:
		message.Type = MessageTypeSendFailed
		data := SendFailedData{TempID: update.TempID, Draft: update.Draft}
		if update.Err != nil {
			data.Error = errors.As(update.Err).Message
		}
		message.Data = data
	default:
		return WSMessage{}, false
	}
	return message, true
}
