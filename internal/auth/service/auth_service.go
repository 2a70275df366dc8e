// Package service implements registration and login on top of the session
// manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"session-gateway/internal/security"
	sessionservice "session-gateway/internal/session/service"
	userdomain "session-gateway/internal/user/domain"
	userrepo "session-gateway/internal/user/repository"
)

// Sentinel errors for the auth service; the HTTP layer maps them to statuses.
// Anything else is a dependency failure and must surface as a generic server
// error, never echoed to the caller.
var (
	// ErrEmailAlreadyRegistered is returned on duplicate registration.
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	// ErrInvalidCredentials covers missing user, wrong password, and disabled
	// accounts alike, so failures never reveal whether an account exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRegistration wraps email/password validation failures; the
	// wrapped message is safe to show to the caller.
	ErrInvalidRegistration = errors.New("invalid registration")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// AuthService implements register, login, logout, logout-all-others, and the
// device listing.
type AuthService struct {
	userRepo userrepo.Repository
	sessions *sessionservice.Manager
	hasher   *security.Hasher
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(userRepo userrepo.Repository, sessions *sessionservice.Manager, hasher *security.Hasher) *AuthService {
	return &AuthService{userRepo: userRepo, sessions: sessions, hasher: hasher}
}

// Register creates a user with the given email and password. Returns the new
// user id.
func (s *AuthService) Register(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return "", err
	}
	if password == "" {
		return "", fmt.Errorf("%w: password is required", ErrInvalidRegistration)
	}
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hashed,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return "", err
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return "", err
	}
	return user.ID, nil
}

// Login verifies credentials and creates a session bound to the client's
// device fingerprint, returning both tokens for the gateway to set as
// cookies.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent, ipAddress string) (*sessionservice.TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.sessions.CreateSession(ctx, user, userAgent, ipAddress)
}

// Logout deactivates the caller's current session. Idempotent.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.DeactivateSession(ctx, sessionID)
}

// LogoutAllOthers deactivates every session of the user except the current
// one. Returns the number of sessions logged out.
func (s *AuthService) LogoutAllOthers(ctx context.Context, userID, currentSessionID string) (int64, error) {
	return s.sessions.DeactivateAllUserSessions(ctx, userID, currentSessionID)
}

// Me returns the account behind an authenticated session; nil if the user
// row no longer exists.
func (s *AuthService) Me(ctx context.Context, userID string) (*userdomain.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// Devices lists the user's active devices with their session activity.
func (s *AuthService) Devices(ctx context.Context, userID string) ([]*sessionservice.DeviceInfo, error) {
	return s.sessions.ListUserDevices(ctx, userID)
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidRegistration)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidRegistration)
	}
	return nil
}
