// Package server is the HTTP gateway over the session core: it reads the
// token cookies, drives admission and transparent refresh through the session
// manager, and exposes the JSON auth endpoints.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	authservice "session-gateway/internal/auth/service"
	"session-gateway/internal/security"
	sessionservice "session-gateway/internal/session/service"
)

const maxBodyBytes = 1 << 16 // 64 KiB; auth payloads are tiny

// Server wires the auth service, session manager, and token codec into an
// http.Handler.
type Server struct {
	auth     *authservice.AuthService
	sessions *sessionservice.Manager
	codec    *security.TokenCodec
	log      *slog.Logger
}

// New returns a Server with the given dependencies.
func New(auth *authservice.AuthService, sessions *sessionservice.Manager, codec *security.TokenCodec, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{auth: auth, sessions: sessions, codec: codec, log: log}
}

// Handler returns the routed handler with logging and tracing applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.Handle("POST /auth/logout", s.authenticate(http.HandlerFunc(s.handleLogout)))
	mux.Handle("POST /auth/logout-all", s.authenticate(http.HandlerFunc(s.handleLogoutAll)))
	mux.Handle("GET /auth/devices", s.authenticate(http.HandlerFunc(s.handleDevices)))
	mux.Handle("GET /auth/me", s.authenticate(http.HandlerFunc(s.handleMe)))
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return withObservability(mux, s.log)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	userID, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, authservice.ErrEmailAlreadyRegistered):
			writeError(w, http.StatusConflict, "already_registered", "user already exists")
		case errors.Is(err, authservice.ErrInvalidRegistration):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		default:
			// Store or hashing failure; never echo internals to the caller.
			s.log.Error("register failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": userID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	pair, err := s.auth.Login(r.Context(), req.Email, req.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		if errors.Is(err, authservice.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		s.log.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeTokenCookie(w, r, accessTokenCookie, pair.AccessToken, pair.AccessTokenExpiresAt)
	writeTokenCookie(w, r, refreshTokenCookie, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged in"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := GetSessionID(r.Context())
	if err := s.auth.Logout(r.Context(), sessionID); err != nil {
		s.log.Error("logout failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	clearSessionCookies(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserID(r.Context())
	sessionID, _ := GetSessionID(r.Context())
	n, err := s.auth.LogoutAllOthers(r.Context(), userID, sessionID)
	if err != nil {
		s.log.Error("logout-all failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out other devices", "count": n})
}

type deviceResponse struct {
	ID             string    `json:"id"`
	UserAgent      string    `json:"user_agent"`
	IPAddress      string    `json:"ip_address"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ActiveSessions int       `json:"active_sessions"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserID(r.Context())
	devices, err := s.auth.Devices(r.Context(), userID)
	if err != nil {
		s.log.Error("device listing failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse{
			ID:             d.ID,
			UserAgent:      d.UserAgent,
			IPAddress:      d.IPAddress,
			LastActivityAt: d.LastActivityAt,
			ActiveSessions: d.ActiveSessions,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserID(r.Context())
	sessionID, _ := GetSessionID(r.Context())
	user, err := s.auth.Me(r.Context(), userID)
	if err != nil {
		s.log.Error("user lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if user == nil {
		s.deny(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":    userID,
		"email":      user.Email,
		"session_id": sessionID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
