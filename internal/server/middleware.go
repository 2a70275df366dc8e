package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sessionservice "session-gateway/internal/session/service"
)

// statusRecorder captures the response status so the middleware chain can act
// on it after the handler ran.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// authenticate is the admission pipeline, in fixed order: verify the access
// cookie and its session; otherwise fall back to the refresh cookie,
// transparently minting and setting a new access cookie; otherwise clear both
// cookies and deny. After a successful authenticated response the session's
// activity is touched.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := readCookie(r, accessTokenCookie); ok {
			claims, err := s.codec.Verify(token)
			if err == nil && claims.TokenType == "" {
				valid, err := s.sessions.ValidateSession(r.Context(), claims.SessionID)
				if err != nil {
					s.log.Error("session validation failed", "error", err)
					writeError(w, http.StatusInternalServerError, "internal", "internal error")
					return
				}
				if valid {
					s.serve(w, r, next, claims.Subject, claims.SessionID)
					return
				}
			}
			// Expired, malformed, or unsigned tokens and idle-timed-out
			// sessions all fall through to the refresh path.
		}

		refreshToken, ok := readCookie(r, refreshTokenCookie)
		if !ok {
			s.deny(w, r)
			return
		}
		granted, err := s.sessions.RefreshSession(r.Context(), refreshToken)
		if err != nil {
			if !errors.Is(err, sessionservice.ErrInvalidRefreshToken) {
				s.log.Error("session refresh failed", "error", err)
				writeError(w, http.StatusInternalServerError, "internal", "internal error")
				return
			}
			s.deny(w, r)
			return
		}
		// Re-run admission with the freshly minted token.
		claims, err := s.codec.Verify(granted.Token)
		if err != nil {
			s.deny(w, r)
			return
		}
		writeTokenCookie(w, r, accessTokenCookie, granted.Token, granted.ExpiresAt)
		s.serve(w, r, next, claims.Subject, claims.SessionID)
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, next http.Handler, userID, sessionID string) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(rec, r.WithContext(WithIdentity(r.Context(), userID, sessionID)))

	// Activity counts only for requests that actually succeeded.
	if rec.status < http.StatusBadRequest {
		if err := s.sessions.UpdateSessionActivity(r.Context(), sessionID); err != nil {
			s.log.Error("session activity update failed", "session_id", sessionID, "error", err)
		}
	}
}

func (s *Server) deny(w http.ResponseWriter, r *http.Request) {
	clearSessionCookies(w, r)
	writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
}

// withObservability wraps a handler with request logging and a server span.
func withObservability(next http.Handler, log *slog.Logger) http.Handler {
	tracer := otel.Tracer("session-gateway/server")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		log.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// clientIP extracts the originating client address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
