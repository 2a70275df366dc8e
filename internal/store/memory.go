package store

import (
	"context"
	"sort"
	"sync"
	"time"

	devicedomain "session-gateway/internal/device/domain"
	sessiondomain "session-gateway/internal/session/domain"
)

// Memory is a mutex-guarded in-memory Store. It is the reference
// implementation of the Store contract and doubles as the test fixture for
// everything above the storage layer.
type Memory struct {
	mu       sync.Mutex
	devices  map[string]*devicedomain.Device
	sessions map[string]*sessiondomain.Session
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		devices:  make(map[string]*devicedomain.Device),
		sessions: make(map[string]*sessiondomain.Session),
	}
}

func (m *Memory) FindDeviceByFingerprint(ctx context.Context, userID, userAgent, ipAddress string, activeOnly bool) (*devicedomain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.UserID != userID || d.UserAgent != userAgent || d.IPAddress != ipAddress {
			continue
		}
		if activeOnly && !d.Active {
			continue
		}
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) CreateDevice(ctx context.Context, d *devicedomain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.devices[d.ID] = &cp
	return nil
}

func (m *Memory) FindActiveSessionForDevice(ctx context.Context, deviceID string) (*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.DeviceID == deviceID && s.Active {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateSession(ctx context.Context, s *sessiondomain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) FindSessionByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) FindSessionByRefreshToken(ctx context.Context, refreshTokenHash string) (*sessiondomain.Session, error) {
	if refreshTokenHash == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshTokenHash == refreshTokenHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

// SaveSession replaces the stored row wholesale, which makes the multi-field
// update atomic under the store mutex.
func (m *Memory) SaveSession(ctx context.Context, s *sessiondomain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) DeactivateSessionsForUser(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.UserID != userID || !s.Active {
			continue
		}
		if exceptSessionID != "" && s.ID == exceptSessionID {
			continue
		}
		s.Active = false
		n++
	}
	return n, nil
}

func (m *Memory) DeactivateStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.Active && s.LastActivityAt.Before(cutoff) {
			s.Active = false
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListActiveDevicesForUser(ctx context.Context, userID string, withSessions bool) ([]*DeviceSessions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DeviceSessions
	for _, d := range m.devices {
		if d.UserID != userID || !d.Active {
			continue
		}
		cp := *d
		entry := &DeviceSessions{Device: &cp}
		if withSessions {
			for _, s := range m.sessions {
				if s.DeviceID == d.ID {
					scp := *s
					entry.Sessions = append(entry.Sessions, &scp)
				}
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Device.CreatedAt.After(out[j].Device.CreatedAt)
	})
	return out, nil
}
