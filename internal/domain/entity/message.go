package entity

import "time"

type Message struct {
	ID             string     `json:"id" firestore:"id"`
	ConversationID string     `json:"conversation_id" firestore:"conversationId"`
	SenderID       string     `json:"sender_id" firestore:"senderId"`
	ReceiverID     string     `json:"receiver_id" firestore:"receiverId"`
	Content        string     `json:"content" firestore:"content"`
	ProductID      string     `json:"product_id,omitempty" firestore:"productId,omitempty"`
	CreatedAt      time.Time  `json:"created_at" firestore:"createdAt"`
	ReadAt         *time.Time `json:"read_at,omitempty" firestore:"readAt"`
}

// IsUnreadFor reports whether the message counts towards userID's unread total.
func (m *Message) IsUnreadFor(userID string) bool {
	return m.ReceiverID == userID && m.SenderID != userID && m.ReadAt == nil
}

// MessageWithSender carries the sender display info needed to render a message.
type MessageWithSender struct {
	Message
	Sender *UserSummary `json:"sender,omitempty"`
}

// MessageInsert is the payload of a live insert event: just enough to re-fetch the row.
type MessageInsert struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}
