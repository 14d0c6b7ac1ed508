package models

import "time"

// Principal is a stored identity. The password digest never leaves the
// server, so it is excluded from every serialized form.
type Principal struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	PassHash  []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
