package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gasgrid-cloud/internal/auth"
	users "gasgrid-cloud/internal/users/domain"
)

const defaultUsersTable = "users"

// UserRepository is a Postgres implementation for users.
type UserRepository struct {
	db    *sql.DB
	table string
}

// NewUserRepository constructs a repository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, table: defaultUsersTable}
}

const userColumns = `id, username, email, password_hash, role, active, last_login, created_at, updated_at`

// GetByID loads a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*users.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, userColumns, r.table)
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByUsername loads a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE username = $1
LIMIT 1`, userColumns, r.table)
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

// List loads all users ordered by username.
func (r *UserRepository) List(ctx context.Context) ([]users.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY username ASC`, userColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []users.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Create inserts a user. Unique violations on username/email map to
// ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user *users.User) error {
	if r == nil || r.db == nil {
		return errors.New("user repo: nil db")
	}
	if user == nil {
		return errors.New("user repo: nil user")
	}
	if err := user.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, username, email, password_hash, role, active
) VALUES (
	$1, $2, $3, $4, $5, $6
)`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.Active,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return users.ErrDuplicate
		}
		return err
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return nil
}

// Update persists mutable fields.
func (r *UserRepository) Update(ctx context.Context, user *users.User) error {
	if r == nil || r.db == nil {
		return errors.New("user repo: nil db")
	}
	if user == nil {
		return errors.New("user repo: nil user")
	}
	if err := user.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET email = $1, password_hash = $2, role = $3, active = $4, updated_at = NOW()
WHERE id = $5`, r.table)

	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.Active,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return users.ErrDuplicate
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return users.ErrNotFound
	}
	return nil
}

// Delete removes a user by id.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("user repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return users.ErrNotFound
	}
	return nil
}

// UpdateLastLogin stamps a successful login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("user repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET last_login = $1, updated_at = $1
WHERE id = $2`, r.table)
	_, err := r.db.ExecContext(ctx, query, at.UTC(), id)
	return err
}

func isUniqueViolation(err error) bool {
	// pgx wraps server errors with the SQLSTATE in the message;
	// 23505 is unique_violation.
	return err != nil && strings.Contains(err.Error(), "23505")
}

type userScanner interface {
	Scan(dest ...any) error
}

func scanUser(row userScanner) (*users.User, error) {
	var user users.User
	var role string
	var lastLogin sql.NullTime
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.Active,
		&lastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Role = auth.Role(role)
	if lastLogin.Valid {
		user.LastLogin = lastLogin.Time.UTC()
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return &user, nil
}
