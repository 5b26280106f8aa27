package entity

// Identity is the authenticated caller behind a request or websocket.
type Identity struct {
	UserID string
	Name   string
}
