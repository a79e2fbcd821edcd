package users

import "time"

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Avatar       *string   `json:"avatar"`
	CreatedAt    time.Time `json:"-"`
}
