// Package domain contains the core business entities for reelrate.
// These are pure Go structs with no infrastructure dependencies.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered user in the system.
// Users own the movies they create.
type User struct {
	// ID is the unique identifier for the user.
	ID uuid.UUID `json:"id"`

	// Username is the unique display name.
	// Constraints: 3-50 characters.
	Username string `json:"username"`

	// Email is the unique email address. It is the login identifier.
	Email string `json:"email"`

	// PasswordHash is the bcrypt hash of the user's password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-"`

	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is the timestamp when the user was last updated.
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserSummary is the public projection of a user.
type UserSummary struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

// NewUser creates a new User with a fresh identifier.
func NewUser(username, email, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Summary returns the public projection of the user.
func (u *User) Summary() *UserSummary {
	return &UserSummary{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
	}
}
