// Package service implements the session lifecycle: token issuance, device
// binding, validation, transparent refresh, and expiry sweeping.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	devicedomain "session-gateway/internal/device/domain"
	"session-gateway/internal/security"
	sessiondomain "session-gateway/internal/session/domain"
	"session-gateway/internal/store"
	userdomain "session-gateway/internal/user/domain"
)

// ErrInvalidRefreshToken is returned when a refresh is denied for any reason:
// bad token, wrong token type, unknown session, or absolute expiry passed.
var ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")

// TokenPair is the outcome of CreateSession. Callers set cookies from the
// tokens and their absolute expiries.
type TokenPair struct {
	SessionID             string
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// AccessToken is the outcome of RefreshSession: a fresh access token only,
// the refresh token itself is not rotated.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// DeviceInfo is the read-only projection returned by ListUserDevices.
type DeviceInfo struct {
	ID             string
	UserAgent      string
	IPAddress      string
	LastActivityAt time.Time
	ActiveSessions int
}

// Manager orchestrates session creation, validation, refresh, activity
// tracking, and deactivation. It holds no state of its own; all state lives
// behind the Store, so any number of Managers (or requests) may run
// concurrently.
type Manager struct {
	store      store.Store
	codec      *security.TokenCodec
	idleTTL    time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

// NewManager returns a Manager using the given store and token codec.
// idleTTL is the inactivity window after which ValidateSession lazily
// deactivates a session; refreshTTL is the absolute ceiling on refresh-token
// use.
func NewManager(st store.Store, codec *security.TokenCodec, idleTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		store:      st,
		codec:      codec,
		idleTTL:    idleTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// IdleTTL returns the idle-timeout window.
func (m *Manager) IdleTTL() time.Duration { return m.idleTTL }

// CreateSession resolves or creates the device for the (user, userAgent, ip)
// fingerprint, supersedes any session already active on that device, creates
// a new session, and mints both tokens. The refresh token's hash is persisted
// on the session row; without it the session cannot be refreshed later.
func (m *Manager) CreateSession(ctx context.Context, user *userdomain.User, userAgent, ipAddress string) (*TokenPair, error) {
	now := m.now().UTC()

	dev, err := m.store.FindDeviceByFingerprint(ctx, user.ID, userAgent, ipAddress, true)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		dev = &devicedomain.Device{
			ID:        uuid.New().String(),
			UserID:    user.ID,
			UserAgent: userAgent,
			IPAddress: ipAddress,
			Active:    true,
			CreatedAt: now,
		}
		if err := m.store.CreateDevice(ctx, dev); err != nil {
			return nil, err
		}
	}

	// A device holds at most one live session; creating a new one
	// supersedes the old rather than deleting it.
	if prev, err := m.store.FindActiveSessionForDevice(ctx, dev.ID); err != nil {
		return nil, err
	} else if prev != nil {
		prev.Active = false
		if err := m.store.SaveSession(ctx, prev); err != nil {
			return nil, err
		}
	}

	sessionID := uuid.New().String()
	refreshToken, _, err := m.codec.IssueRefresh(user.ID, sessionID)
	if err != nil {
		return nil, err
	}
	accessToken, accessExp, err := m.codec.IssueAccess(user.ID, sessionID)
	if err != nil {
		return nil, err
	}

	refreshExp := now.Add(m.refreshTTL)
	sess := &sessiondomain.Session{
		ID:                    sessionID,
		UserID:                user.ID,
		DeviceID:              dev.ID,
		RefreshTokenHash:      security.HashRefreshToken(refreshToken),
		RefreshTokenExpiresAt: refreshExp,
		LastActivityAt:        now,
		Active:                true,
		CreatedAt:             now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	return &TokenPair{
		SessionID:             sessionID,
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

// ValidateSession reports whether the session may serve request admission.
// Fails closed on missing or inactive sessions. A session idle longer than
// the idle window is deactivated as a side effect; a second call then also
// returns false without error. Validation never touches LastActivityAt; that
// is UpdateSessionActivity's job, invoked by the gateway after the response.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	sess, err := m.store.FindSessionByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess == nil || !sess.Active {
		return false, nil
	}
	if m.now().Sub(sess.LastActivityAt) > m.idleTTL {
		sess.Active = false
		if err := m.store.SaveSession(ctx, sess); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// UpdateSessionActivity bumps the session's LastActivityAt. No-op if the
// session is missing or inactive. LastActivityAt never moves backwards.
func (m *Manager) UpdateSessionActivity(ctx context.Context, sessionID string) error {
	sess, err := m.store.FindSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || !sess.Active {
		return nil
	}
	if now := m.now().UTC(); now.After(sess.LastActivityAt) {
		sess.LastActivityAt = now
		return m.store.SaveSession(ctx, sess)
	}
	return nil
}

// RefreshSession verifies the refresh token and mints a new access token for
// its session. A session that went inactive (idle timeout or sweep) is
// reactivated as long as the absolute refresh expiry has not passed: the
// refresh token means "remember this login" independent of the short idle
// window. The refresh token itself is not rotated.
func (m *Manager) RefreshSession(ctx context.Context, refreshToken string) (*AccessToken, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	claims, err := m.codec.Verify(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	if claims.TokenType != security.TokenTypeRefresh {
		return nil, ErrInvalidRefreshToken
	}

	sess, err := m.store.FindSessionByRefreshToken(ctx, security.HashRefreshToken(refreshToken))
	if err != nil {
		return nil, err
	}
	// The stored token value and the embedded session id must both match.
	if sess == nil || sess.ID != claims.SessionID {
		return nil, ErrInvalidRefreshToken
	}
	if !security.RefreshTokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		return nil, ErrInvalidRefreshToken
	}
	now := m.now().UTC()
	// Absolute ceiling: no amount of activity extends past it.
	if !sess.RefreshTokenExpiresAt.After(now) {
		return nil, ErrInvalidRefreshToken
	}

	sess.Active = true
	if now.After(sess.LastActivityAt) {
		sess.LastActivityAt = now
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	token, expiresAt, err := m.codec.IssueAccess(sess.UserID, sess.ID)
	if err != nil {
		return nil, err
	}
	return &AccessToken{Token: token, ExpiresAt: expiresAt}, nil
}

// DeactivateSession transitions the session to inactive. Idempotent; missing
// sessions are a no-op.
func (m *Manager) DeactivateSession(ctx context.Context, sessionID string) error {
	sess, err := m.store.FindSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || !sess.Active {
		return nil
	}
	sess.Active = false
	return m.store.SaveSession(ctx, sess)
}

// DeactivateAllUserSessions deactivates every active session of the user,
// sparing exceptSessionID when non-empty ("log out all other devices").
// Returns the number of sessions deactivated.
func (m *Manager) DeactivateAllUserSessions(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	return m.store.DeactivateSessionsForUser(ctx, userID, exceptSessionID)
}

// ListUserDevices returns the user's active devices, each annotated with its
// active-session count and the most recent activity among those sessions,
// falling back to the device's creation time when it has none.
func (m *Manager) ListUserDevices(ctx context.Context, userID string) ([]*DeviceInfo, error) {
	devices, err := m.store.ListActiveDevicesForUser(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	out := make([]*DeviceInfo, 0, len(devices))
	for _, entry := range devices {
		info := &DeviceInfo{
			ID:             entry.Device.ID,
			UserAgent:      entry.Device.UserAgent,
			IPAddress:      entry.Device.IPAddress,
			LastActivityAt: entry.Device.CreatedAt,
		}
		for _, s := range entry.Sessions {
			if !s.Active {
				continue
			}
			info.ActiveSessions++
			if s.LastActivityAt.After(info.LastActivityAt) {
				info.LastActivityAt = s.LastActivityAt
			}
		}
		out = append(out, info)
	}
	return out, nil
}
