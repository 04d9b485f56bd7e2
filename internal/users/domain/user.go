package users

import (
	"context"
	"errors"
	"time"

	"gasgrid-cloud/internal/auth"
)

var (
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrInvalidCredentials is returned for a bad username/password
	// pair. Callers must not distinguish which half was wrong.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrDuplicate is returned when username or email is taken.
	ErrDuplicate = errors.New("users: duplicate username or email")
)

// User is an operator account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`
	Active       bool      `json:"active"`
	LastLogin    time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks user invariants.
func (u User) Validate() error {
	if u.ID == "" {
		return errors.New("user: empty id")
	}
	if u.Username == "" {
		return errors.New("user: empty username")
	}
	if u.PasswordHash == "" {
		return errors.New("user: empty password hash")
	}
	if _, ok := auth.NormalizeRole(string(u.Role)); !ok {
		return errors.New("user: invalid role")
	}
	return nil
}

// Repository manages user persistence.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	Delete(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}
