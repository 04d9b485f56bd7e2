package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"gasgrid-cloud/internal/auth"
	users "gasgrid-cloud/internal/users/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service handles account management and login.
type Service struct {
	repo     users.Repository
	secret   []byte
	tokenTTL time.Duration
	clock    Clock
	logger   zerolog.Logger
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithTokenTTL overrides the issued token lifetime.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a user service.
func NewService(repo users.Repository, secret []byte, logger zerolog.Logger, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("users: nil repository")
	}
	if len(secret) == 0 {
		return nil, errors.New("users: empty jwt secret")
	}
	service := &Service{
		repo:     repo,
		secret:   secret,
		tokenTTL: 24 * time.Hour,
		clock:    systemClock{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// LoginResult carries the issued token and the account.
type LoginResult struct {
	Token string     `json:"token"`
	User  users.User `json:"user"`
}

// Login verifies credentials and issues a token. Unknown user, bad
// password and disabled account all return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if s == nil {
		return nil, errors.New("users: nil service")
	}
	if username == "" || password == "" {
		return nil, users.ErrInvalidCredentials
	}
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, users.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, users.ErrInvalidCredentials
	}

	token, err := auth.NewToken(user.Username, user.Role, s.secret, s.tokenTTL)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		// Login still succeeds; the stamp is informational.
		s.logger.Warn().Err(err).Str("username", username).Msg("last login stamp failed")
	}
	user.LastLogin = now
	return &LoginResult{Token: token, User: *user}, nil
}

// Create registers a new account with a hashed password.
func (s *Service) Create(ctx context.Context, username, email, password string, role auth.Role) (*users.User, error) {
	if s == nil {
		return nil, errors.New("users: nil service")
	}
	if username == "" {
		return nil, errors.New("users: username required")
	}
	if len(password) < 8 {
		return nil, errors.New("users: password too short")
	}
	if _, ok := auth.NormalizeRole(string(role)); !ok {
		return nil, errors.New("users: invalid role")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &users.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetPassword replaces a user's password.
func (s *Service) SetPassword(ctx context.Context, id, password string) error {
	if s == nil {
		return errors.New("users: nil service")
	}
	if len(password) < 8 {
		return errors.New("users: password too short")
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return users.ErrNotFound
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	return s.repo.Update(ctx, user)
}

// SetActive enables or disables an account.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	if s == nil {
		return errors.New("users: nil service")
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return users.ErrNotFound
	}
	user.Active = active
	return s.repo.Update(ctx, user)
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]users.User, error) {
	if s == nil {
		return nil, errors.New("users: nil service")
	}
	return s.repo.List(ctx)
}

// Delete removes an account.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s == nil {
		return errors.New("users: nil service")
	}
	return s.repo.Delete(ctx, id)
}
