package domain

import "time"

// User is an identity subject. ID is issued by the identity provider.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is a verified sign-in result from the identity provider.
type Identity struct {
	Subject string
	Email   string
	Name    string
}
