package ui

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/me/slotq/pkg/model"
)

const (
	// SessionCookieName is the browser cookie carrying the session ID.
	SessionCookieName = "slotq_session"
	// SessionDuration is the default session lifetime.
	SessionDuration = 24 * time.Hour
)

// Session is one signed-in dashboard visit bound to a caller address.
type Session struct {
	ID        string
	Caller    model.Address
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the session has aged out.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionManager tracks dashboard sessions in memory. Sessions do not
// survive a restart; browsers land back on the login form.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// CreateSession opens a session for the authenticated caller.
func (sm *SessionManager) CreateSession(caller model.Address) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	now := time.Now()
	sess := &Session{
		ID:        id,
		Caller:    caller,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionDuration),
	}

	sm.mu.Lock()
	sm.pruneLocked(now)
	sm.sessions[id] = sess
	sm.mu.Unlock()
	return sess, nil
}

// GetSession retrieves a session by ID. Returns nil if the session
// doesn't exist or has expired.
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sess, ok := sm.sessions[id]
	if !ok {
		return nil
	}
	if sess.IsExpired() {
		delete(sm.sessions, id)
		return nil
	}
	return sess
}

// DeleteSession removes a session.
func (sm *SessionManager) DeleteSession(id string) {
	sm.mu.Lock()
	delete(sm.sessions, id)
	sm.mu.Unlock()
}

// pruneLocked drops expired sessions. Callers hold mu.
func (sm *SessionManager) pruneLocked(now time.Time) {
	for id, sess := range sm.sessions {
		if now.After(sess.ExpiresAt) {
			delete(sm.sessions, id)
		}
	}
}

// GetSessionFromRequest extracts the session from the request cookie.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) *Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil // No cookie, no session
	}
	return sm.GetSession(cookie.Value)
}

// SetSessionCookie sets the session cookie on the response.
func SetSessionCookie(w http.ResponseWriter, sess *Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  sess.ExpiresAt,
	})
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// generateSessionID generates a cryptographically secure random session ID.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "sess_" + hex.EncodeToString(b), nil
}
