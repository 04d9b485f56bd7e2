package application

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"gasgrid-cloud/internal/auth"
	users "gasgrid-cloud/internal/users/domain"
)

type stubUserRepo struct {
	byUsername map[string]*users.User
	byID       map[string]*users.User
	created    []*users.User
	lastLogin  map[string]time.Time
}

func (s *stubUserRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	return s.byID[id], nil
}

func (s *stubUserRepo) GetByUsername(_ context.Context, username string) (*users.User, error) {
	return s.byUsername[username], nil
}

func (s *stubUserRepo) List(context.Context) ([]users.User, error) { return nil, nil }

func (s *stubUserRepo) Create(_ context.Context, user *users.User) error {
	if _, exists := s.byUsername[user.Username]; exists {
		return users.ErrDuplicate
	}
	s.created = append(s.created, user)
	return nil
}

func (s *stubUserRepo) Update(context.Context, *users.User) error { return nil }
func (s *stubUserRepo) Delete(context.Context, string) error      { return nil }

func (s *stubUserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	if s.lastLogin == nil {
		s.lastLogin = map[string]time.Time{}
	}
	s.lastLogin[id] = at
	return nil
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hash)
}

func activeUser(t *testing.T) *users.User {
	return &users.User{
		ID:           "u-1",
		Username:     "operator1",
		Email:        "op@example.com",
		PasswordHash: hashPassword(t, "correct-horse"),
		Role:         auth.RoleUser,
		Active:       true,
	}
}

func newUserService(t *testing.T, repo users.Repository) *Service {
	t.Helper()
	service, err := NewService(repo, []byte("test-secret"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func TestLoginSuccessIssuesToken(t *testing.T) {
	user := activeUser(t)
	repo := &stubUserRepo{byUsername: map[string]*users.User{"operator1": user}}
	service := newUserService(t, repo)

	result, err := service.Login(context.Background(), "operator1", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := auth.ParseJWT(result.Token, []byte("test-secret"))
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.Subject != "operator1" || claims.Role != "user" {
		t.Fatalf("claims = %+v", claims)
	}
	if _, stamped := repo.lastLogin["u-1"]; !stamped {
		t.Fatal("last login not stamped")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	user := activeUser(t)
	repo := &stubUserRepo{byUsername: map[string]*users.User{"operator1": user}}
	service := newUserService(t, repo)

	if _, err := service.Login(context.Background(), "operator1", "wrong"); err != users.ErrInvalidCredentials {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	service := newUserService(t, &stubUserRepo{})
	if _, err := service.Login(context.Background(), "ghost", "whatever"); err != users.ErrInvalidCredentials {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	user := activeUser(t)
	user.Active = false
	repo := &stubUserRepo{byUsername: map[string]*users.User{"operator1": user}}
	service := newUserService(t, repo)

	if _, err := service.Login(context.Background(), "operator1", "correct-horse"); err != users.ErrInvalidCredentials {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestCreateHashesPassword(t *testing.T) {
	repo := &stubUserRepo{}
	service := newUserService(t, repo)

	user, err := service.Create(context.Background(), "newuser", "n@example.com", "long-enough", auth.RoleGuest)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if user.PasswordHash == "long-enough" || user.PasswordHash == "" {
		t.Fatal("password must be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("long-enough")); err != nil {
		t.Fatalf("hash mismatch: %v", err)
	}
}

func TestCreateRejectsShortPassword(t *testing.T) {
	service := newUserService(t, &stubUserRepo{})
	if _, err := service.Create(context.Background(), "newuser", "", "short", auth.RoleGuest); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestCreateRejectsInvalidRole(t *testing.T) {
	service := newUserService(t, &stubUserRepo{})
	if _, err := service.Create(context.Background(), "newuser", "", "long-enough", "superadmin"); err == nil {
		t.Fatal("expected error for invalid role")
	}
}
