package entity

const (
	CountUnreadMessages = "unread_messages"
	CountWishlist       = "wishlist"
)

// NotificationCounts is the derived badge state of one user.
type NotificationCounts struct {
	UnreadMessages int64 `json:"unread_messages"`
	Wishlist       int64 `json:"wishlist"`
	// Stale names the fields that could not be recomputed and carry a previous value.
	Stale []string `json:"stale,omitempty"`
}

func (n NotificationCounts) IsStale(field string) bool {
	for _, f := range n.Stale {
		if f == field {
			return true
		}
	}
	return false
}
