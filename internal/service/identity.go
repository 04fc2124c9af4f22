package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/authgate/internal/domain"
	"github.com/example/authgate/internal/repository"
	"github.com/example/authgate/internal/security"
)

var ErrEmailTaken = errors.New("email already registered")

// IdentityProvider is the collaborator that turns user-supplied evidence into
// a verified Principal. The session manager never sees passwords or OAuth
// codes, only its output.
type IdentityProvider interface {
	Authenticate(ctx context.Context, email, password string) (*Principal, error)
}

// LocalIdentityService verifies email+password logins against stored bcrypt
// hashes and handles registration.
type LocalIdentityService struct {
	users repository.UserRepository
}

func NewLocalIdentityService(users repository.UserRepository) *LocalIdentityService {
	return &LocalIdentityService{users: users}
}

func (s *LocalIdentityService) Register(ctx context.Context, email, name, password string) (*Principal, error) {
	email = normalizeEmail(email)
	if err := validateRegistration(email, password); err != nil {
		return nil, err
	}
	if _, err := s.users.FindByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Email:        email,
		Name:         name,
		PasswordHash: &hash,
		Provider:     "local",
		Roles:        "user",
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	return principalFor(user), nil
}

func (s *LocalIdentityService) Authenticate(_ context.Context, email, password string) (*Principal, error) {
	user, err := s.users.FindByEmail(normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == nil {
		// OAuth-only account; no password to check.
		return nil, ErrInvalidCredentials
	}
	if err := security.ComparePassword(*user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return principalFor(user), nil
}

func (s *LocalIdentityService) GetUser(id uint) (*domain.User, error) {
	return s.users.FindByID(id)
}

func principalFor(user *domain.User) *Principal {
	return &Principal{UserID: user.ID, Roles: user.RoleList()}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(email, password string) error {
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email")
	}
	if len(password) < 12 {
		return fmt.Errorf("password must be at least 12 characters")
	}
	return nil
}
