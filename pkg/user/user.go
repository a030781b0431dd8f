package user

import (
	"context"
	"errors"
	"time"
)

// Role is the single permission level a user holds.
type Role string

const (
	Administrator Role = "administrator"
	Collaborator  Role = "collaborator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == Administrator || r == Collaborator
}

// ErrNotFound is returned when no user matches a lookup.
var ErrNotFound = errors.New("user not found")

// User is an identity that can sign in. Users are provisioned out of band
// (see cmd/seed); the service only reads them.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary is the minimal public view of a user.
type Summary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Summary returns the public view of u.
func (u *User) Summary() Summary {
	return Summary{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// Store is the contract for user persistence.
type Store interface {
	// Get returns a user by ID.
	Get(ctx context.Context, id int64) (*User, error)

	// ByEmail returns a user by email address.
	ByEmail(ctx context.Context, email string) (*User, error)

	// ByRole returns all users holding role, ordered by name.
	ByRole(ctx context.Context, role Role) ([]User, error)

	// EnsureTable creates the users table if it doesn't exist.
	EnsureTable(ctx context.Context) error
}
