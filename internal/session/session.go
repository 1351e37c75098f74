// Package session owns browser session identity and the per-conversation
// turn state. The relay client is stateless per call; rejecting a second
// concurrent send for the same conversation happens here, in the caller's
// hands.
package session

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

const (
	cookieName   = "chatrelay_session"
	cookieMaxAge = 86400 * 30 // 30 days
)

// Manager issues and reads session cookies.
type Manager struct {
	logger *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// GetOrCreate returns the session ID from the request cookie, creating a new
// one and setting the cookie when none exists.
func (m *Manager) GetOrCreate(r *http.Request, w http.ResponseWriter) string {
	cookie, err := r.Cookie(cookieName)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	sessionID := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	m.logger.Info("new session created", "session", sessionID)
	return sessionID
}

// Rotate expires the session cookie; the next request gets a fresh identity.
func (m *Manager) Rotate(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
