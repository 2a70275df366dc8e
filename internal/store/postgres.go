package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devicedomain "session-gateway/internal/device/domain"
	sessiondomain "session-gateway/internal/session/domain"
)

// Postgres implements Store on a Postgres database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a Postgres-backed store using the given db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const deviceColumns = "id, user_id, user_agent, ip_address, active, created_at"
const sessionColumns = "id, user_id, device_id, refresh_token_hash, refresh_token_expires_at, last_activity_at, active, created_at"

// FindDeviceByFingerprint returns the device for the (user, user agent, IP)
// triple, or nil if not found. It returns an error only for database
// failures, not for missing rows.
func (p *Postgres) FindDeviceByFingerprint(ctx context.Context, userID, userAgent, ipAddress string, activeOnly bool) (*devicedomain.Device, error) {
	query := "SELECT " + deviceColumns + " FROM devices WHERE user_id = $1 AND user_agent = $2 AND ip_address = $3"
	if activeOnly {
		query += " AND active"
	}
	row := p.db.QueryRowContext(ctx, query+" LIMIT 1", userID, userAgent, ipAddress)
	return scanDevice(row)
}

// CreateDevice persists the device. The device must have ID set.
func (p *Postgres) CreateDevice(ctx context.Context, d *devicedomain.Device) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, user_agent, ip_address, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.UserID, d.UserAgent, d.IPAddress, d.Active, d.CreatedAt)
	return err
}

// FindActiveSessionForDevice returns the device's active session, or nil.
func (p *Postgres) FindActiveSessionForDevice(ctx context.Context, deviceID string) (*sessiondomain.Session, error) {
	row := p.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE device_id = $1 AND active LIMIT 1", deviceID)
	return scanSession(row)
}

// CreateSession persists the session. The session must have ID set.
func (p *Postgres) CreateSession(ctx context.Context, s *sessiondomain.Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, device_id, refresh_token_hash, refresh_token_expires_at, last_activity_at, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.DeviceID, nullIfEmpty(s.RefreshTokenHash),
		s.RefreshTokenExpiresAt, s.LastActivityAt, s.Active, s.CreatedAt)
	return err
}

// FindSessionByID returns the session for id, or nil if not found.
func (p *Postgres) FindSessionByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	row := p.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1", id)
	return scanSession(row)
}

// FindSessionByRefreshToken returns the session whose stored refresh-token
// hash matches, with no active filter: reactivation of a stale session needs
// the row back.
func (p *Postgres) FindSessionByRefreshToken(ctx context.Context, refreshTokenHash string) (*sessiondomain.Session, error) {
	if refreshTokenHash == "" {
		return nil, nil
	}
	row := p.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE refresh_token_hash = $1", refreshTokenHash)
	return scanSession(row)
}

// SaveSession writes all mutable session fields in one UPDATE, so the
// mutation is atomic per row.
func (p *Postgres) SaveSession(ctx context.Context, s *sessiondomain.Session) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE sessions
		SET refresh_token_hash = $2, refresh_token_expires_at = $3, last_activity_at = $4, active = $5
		WHERE id = $1`,
		s.ID, nullIfEmpty(s.RefreshTokenHash), s.RefreshTokenExpiresAt, s.LastActivityAt, s.Active)
	return err
}

// DeactivateSessionsForUser flips the user's active sessions to inactive,
// sparing exceptSessionID when non-empty. Returns the affected count.
func (p *Postgres) DeactivateSessionsForUser(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	var res sql.Result
	var err error
	if exceptSessionID != "" {
		res, err = p.db.ExecContext(ctx,
			"UPDATE sessions SET active = FALSE WHERE user_id = $1 AND active AND id <> $2",
			userID, exceptSessionID)
	} else {
		res, err = p.db.ExecContext(ctx,
			"UPDATE sessions SET active = FALSE WHERE user_id = $1 AND active", userID)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeactivateStaleSessions bulk-deactivates active sessions idle since before
// cutoff. The conditional UPDATE is a single set-based write, so a concurrent
// activity touch either lands before it (row kept) or after it (row already
// inactive); there is no read-then-write window.
func (p *Postgres) DeactivateStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		"UPDATE sessions SET active = FALSE WHERE active AND last_activity_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListActiveDevicesForUser returns the user's active devices, newest first,
// optionally with each device's sessions.
func (p *Postgres) ListActiveDevicesForUser(ctx context.Context, userID string, withSessions bool) ([]*DeviceSessions, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE user_id = $1 AND active ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DeviceSessions
	for rows.Next() {
		var d devicedomain.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.UserAgent, &d.IPAddress, &d.Active, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &DeviceSessions{Device: &d})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !withSessions {
		return out, nil
	}
	for _, entry := range out {
		sessions, err := p.sessionsForDevice(ctx, entry.Device.ID)
		if err != nil {
			return nil, err
		}
		entry.Sessions = sessions
	}
	return out, nil
}

func (p *Postgres) sessionsForDevice(ctx context.Context, deviceID string) ([]*sessiondomain.Session, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE device_id = $1", deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*sessiondomain.Session
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row *sql.Row) (*devicedomain.Device, error) {
	var d devicedomain.Device
	err := row.Scan(&d.ID, &d.UserID, &d.UserAgent, &d.IPAddress, &d.Active, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanSession(row *sql.Row) (*sessiondomain.Session, error) {
	s, err := scanSessionRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanSessionRows(sc rowScanner) (*sessiondomain.Session, error) {
	var s sessiondomain.Session
	var hash sql.NullString
	err := sc.Scan(&s.ID, &s.UserID, &s.DeviceID, &hash,
		&s.RefreshTokenExpiresAt, &s.LastActivityAt, &s.Active, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if hash.Valid {
		s.RefreshTokenHash = hash.String
	}
	return &s, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
