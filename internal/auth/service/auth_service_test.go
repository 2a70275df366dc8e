package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"session-gateway/internal/security"
	sessionservice "session-gateway/internal/session/service"
	"session-gateway/internal/store"
	userdomain "session-gateway/internal/user/domain"
)

type memUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]*userdomain.User
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEmail[email], nil
}

func (r *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byEmail[u.Email] = u
	return nil
}

func newTestAuthService(t *testing.T) (*AuthService, *store.Memory) {
	t.Helper()
	codec, err := security.NewTestTokenCodec(15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewTestTokenCodec: %v", err)
	}
	mem := store.NewMemory()
	sessions := sessionservice.NewManager(mem, codec, 15*time.Minute, 24*time.Hour)
	userRepo := &memUserRepo{byEmail: make(map[string]*userdomain.User)}
	return NewAuthService(userRepo, sessions, security.NewHasher(4)), mem
}

func TestAuthService_Register(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "User@Example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == "" {
		t.Fatal("expected user id")
	}

	// Email is normalized, so the same address in another case is a duplicate.
	if _, err := svc.Register(ctx, "user@example.com", "other-password"); !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Errorf("duplicate email: want ErrEmailAlreadyRegistered, got %v", err)
	}
}

func TestAuthService_RegisterValidation(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	// Validation failures carry the sentinel so the HTTP layer can tell them
	// apart from store errors.
	if _, err := svc.Register(ctx, "not-an-email", "hunter2hunter2"); !errors.Is(err, ErrInvalidRegistration) {
		t.Errorf("invalid email: want ErrInvalidRegistration, got %v", err)
	}
	if _, err := svc.Register(ctx, "", "hunter2hunter2"); !errors.Is(err, ErrInvalidRegistration) {
		t.Errorf("empty email: want ErrInvalidRegistration, got %v", err)
	}
	if _, err := svc.Register(ctx, "a@b.co", ""); !errors.Is(err, ErrInvalidRegistration) {
		t.Errorf("empty password: want ErrInvalidRegistration, got %v", err)
	}
}

func TestAuthService_Me(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "user@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	user, err := svc.Me(ctx, id)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user == nil || user.Email != "user@example.com" {
		t.Errorf("Me = %+v, want the registered user", user)
	}

	missing, err := svc.Me(ctx, "no-such-user")
	if err != nil {
		t.Fatalf("Me missing: %v", err)
	}
	if missing != nil {
		t.Error("Me for unknown id should return nil")
	}
}

func TestAuthService_LoginAndLogout(t *testing.T) {
	svc, mem := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "user@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	pair, err := svc.Login(ctx, "user@example.com", "hunter2hunter2", "agent", "203.0.113.9")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("login should return both tokens")
	}

	if err := svc.Logout(ctx, pair.SessionID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	sess, _ := mem.FindSessionByID(ctx, pair.SessionID)
	if sess.Active {
		t.Error("logout should deactivate the session")
	}
	// Idempotent.
	if err := svc.Logout(ctx, pair.SessionID); err != nil {
		t.Errorf("second logout: %v", err)
	}
}

func TestAuthService_LoginRejections(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "user@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Unknown user and wrong password are indistinguishable.
	if _, err := svc.Login(ctx, "ghost@example.com", "hunter2hunter2", "agent", "ip"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: want ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "user@example.com", "wrong", "agent", "ip"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: want ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_LogoutAllOthers(t *testing.T) {
	svc, mem := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "user@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	p1, err := svc.Login(ctx, "user@example.com", "hunter2hunter2", "agent", "203.0.113.1")
	if err != nil {
		t.Fatalf("login 1: %v", err)
	}
	p2, err := svc.Login(ctx, "user@example.com", "hunter2hunter2", "agent", "203.0.113.2")
	if err != nil {
		t.Fatalf("login 2: %v", err)
	}

	sess1, _ := mem.FindSessionByID(ctx, p1.SessionID)
	n, err := svc.LogoutAllOthers(ctx, sess1.UserID, p2.SessionID)
	if err != nil {
		t.Fatalf("LogoutAllOthers: %v", err)
	}
	if n != 1 {
		t.Errorf("logged out = %d, want 1", n)
	}

	sess1, _ = mem.FindSessionByID(ctx, p1.SessionID)
	sess2, _ := mem.FindSessionByID(ctx, p2.SessionID)
	if sess1.Active || !sess2.Active {
		t.Errorf("active: s1=%v s2=%v, want false,true", sess1.Active, sess2.Active)
	}
}

func TestAuthService_Devices(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "user@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	pair, err := svc.Login(ctx, "user@example.com", "hunter2hunter2", "agent", "203.0.113.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	access, err := securityVerify(t, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	devices, err := svc.Devices(ctx, access.Subject)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 1 || devices[0].ActiveSessions != 1 {
		t.Errorf("devices = %+v, want one device with one active session", devices)
	}
}

func securityVerify(t *testing.T, token string) (*security.Claims, error) {
	t.Helper()
	codec, err := security.NewTestTokenCodec(15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewTestTokenCodec: %v", err)
	}
	return codec.Verify(token)
}
