package domain

import "time"

// Session is a login on a specific device. The user and device bindings never
// change after creation; only Active, LastActivityAt, and the refresh-token
// fields are mutated over its lifetime. Sessions are deactivated, never
// deleted.
type Session struct {
	ID                    string
	UserID                string
	DeviceID              string
	RefreshTokenHash      string // SHA-256 hash of the issued refresh token; empty until issued
	RefreshTokenExpiresAt time.Time
	LastActivityAt        time.Time
	Active                bool
	CreatedAt             time.Time
}
