// Package store defines the persistence abstraction over device and session
// records. It is the only layer that touches durable storage; everything
// above it works against the Store interface.
package store

import (
	"context"
	"time"

	devicedomain "session-gateway/internal/device/domain"
	sessiondomain "session-gateway/internal/session/domain"
)

// DeviceSessions pairs a device with its sessions, for listings that need
// per-device activity.
type DeviceSessions struct {
	Device   *devicedomain.Device
	Sessions []*sessiondomain.Session
}

// Store persists devices and sessions. Lookups return (nil, nil) for missing
// rows; errors are reserved for storage failures. All methods are idempotent
// for repeated identical calls, and SaveSession applies its row update
// atomically.
type Store interface {
	// FindDeviceByFingerprint returns the device matching the
	// (user, user agent, IP) triple, or nil. activeOnly restricts the match
	// to active devices.
	FindDeviceByFingerprint(ctx context.Context, userID, userAgent, ipAddress string, activeOnly bool) (*devicedomain.Device, error)
	CreateDevice(ctx context.Context, d *devicedomain.Device) error

	// FindActiveSessionForDevice returns the device's active session, or nil.
	FindActiveSessionForDevice(ctx context.Context, deviceID string) (*sessiondomain.Session, error)
	CreateSession(ctx context.Context, s *sessiondomain.Session) error
	FindSessionByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	// FindSessionByRefreshToken returns the session whose stored refresh-token
	// hash matches, regardless of its active flag, so that a stale session can
	// still be reactivated by a valid refresh token.
	FindSessionByRefreshToken(ctx context.Context, refreshTokenHash string) (*sessiondomain.Session, error)
	SaveSession(ctx context.Context, s *sessiondomain.Session) error

	// DeactivateSessionsForUser deactivates all of the user's active sessions,
	// sparing exceptSessionID when non-empty. Returns the number of sessions
	// deactivated.
	DeactivateSessionsForUser(ctx context.Context, userID, exceptSessionID string) (int64, error)
	// DeactivateStaleSessions deactivates every active session whose
	// last-activity timestamp predates cutoff, as one conditional update so it
	// cannot race a concurrent activity touch. Returns the affected count.
	DeactivateStaleSessions(ctx context.Context, cutoff time.Time) (int64, error)

	// ListActiveDevicesForUser returns the user's active devices, newest
	// first, optionally loading each device's sessions.
	ListActiveDevicesForUser(ctx context.Context, userID string, withSessions bool) ([]*DeviceSessions, error)
}
