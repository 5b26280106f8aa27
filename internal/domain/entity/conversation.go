package entity

import "time"

// Conversation is a thread between one buyer and one seller about one product.
type Conversation struct {
	ID            string    `json:"id" firestore:"id"`
	BuyerID       string    `json:"buyer_id" firestore:"buyerId"`
	SellerID      string    `json:"seller_id" firestore:"sellerId"`
	ProductID     string    `json:"product_id" firestore:"productId"`
	LastMessageAt time.Time `json:"last_message_at" firestore:"lastMessageAt"`
	CreatedAt     time.Time `json:"created_at" firestore:"createdAt"`
}

// ConversationKey is the (buyer, seller, product) triple identifying a conversation.
type ConversationKey struct {
	BuyerID   string
	SellerID  string
	ProductID string
}

func (c *Conversation) Key() ConversationKey {
	return ConversationKey{BuyerID: c.BuyerID, SellerID: c.SellerID, ProductID: c.ProductID}
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.BuyerID == userID || c.SellerID == userID)
}

// OtherParticipant returns the other participant, or "" when userID is not a participant.
func (c *Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.BuyerID:
		return c.SellerID
	case c.SellerID:
		return c.BuyerID
	}
	return ""
}

// ConversationSummary is a conversation as shown in a participant's list.
type ConversationSummary struct {
	Conversation
	Counterpart *UserSummary    `json:"counterpart,omitempty"`
	Product     *ProductSummary `json:"product,omitempty"`
	UnreadCount int64           `json:"unread_count"`
}
