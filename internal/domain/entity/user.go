package entity

// UserSummary is the display info of a user, owned by the account service.
type UserSummary struct {
	ID       string `json:"id" firestore:"id"`
	Name     string `json:"name" firestore:"name"`
	Avatar   string `json:"avatar,omitempty" firestore:"avatar,omitempty"`
	Verified bool   `json:"verified" firestore:"verified"`
}
