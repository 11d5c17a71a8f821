package chat

import "time"

// Session describes an anonymous conversation bound to a role.
type Session struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}
