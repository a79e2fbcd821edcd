package chat

import "time"

// Author carries the author's current profile, joined at read time. All
// fields are null when the author row no longer exists.
type Author struct {
	Username *string `json:"username"`
	Name     *string `json:"name"`
	Avatar   *string `json:"avatar"`
}

// Message is an enriched chat message.
type Message struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id"`
	Text      *string   `json:"text"`
	Img       *string   `json:"img"`
	CreatedAt time.Time `json:"created_at"`
	Author
}

// Status is an enriched image status post.
type Status struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id"`
	Img       string    `json:"img"`
	CreatedAt time.Time `json:"created_at"`
	Author
}
