package domain

import "time"

// Device is a client instance identified by the (user, user agent, IP)
// fingerprint. At most one active device exists per fingerprint; a repeat
// login from the same fingerprint reuses the existing row.
type Device struct {
	ID        string
	UserID    string
	UserAgent string
	IPAddress string
	Active    bool
	CreatedAt time.Time
}
