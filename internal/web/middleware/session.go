package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/smart-attendance/internal/database"
)

const (
	sessionCookieName = "attendance_session"
	sessionDuration   = 8 * time.Hour
	cleanupInterval   = 15 * time.Minute
)

// Session is an authenticated class, faculty or admin login.
type Session struct {
	ID         string
	ClassCode  string
	ClassName  string
	Department string
	Role       database.Role
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// IsAdmin reports whether the session may read every class.
func (s *Session) IsAdmin() bool {
	return s.Role == database.RoleAdmin
}

// SessionManager handles session creation and validation. Sessions live in
// memory and, when a store is configured, are persisted so they survive
// restarts.
type SessionManager struct {
	secret   []byte
	sessions map[string]*Session
	mu       sync.RWMutex
	store    database.SessionStore
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionManager creates a session manager. store may be nil.
func NewSessionManager(secret string, store database.SessionStore, logger *slog.Logger) *SessionManager {
	// Use a default secret if none provided (for development)
	if secret == "" {
		secret = "smart-attendance-dev-secret-change-in-production"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sm := &SessionManager{
		secret:   []byte(secret),
		sessions: make(map[string]*Session),
		store:    store,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go sm.cleanupLoop()
	return sm
}

// Stop ends the background cleanup goroutine.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.stop) })
}

func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
			sm.cleanup()
		}
	}
}

func (sm *SessionManager) cleanup() {
	now := time.Now()
	sm.mu.Lock()
	for id, s := range sm.sessions {
		if now.After(s.ExpiresAt) {
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	if sm.store == nil {
		return
	}
	n, err := sm.store.DeleteExpiredSessions(context.Background())
	if err != nil {
		sm.logger.Warn("failed to delete expired sessions", "error", err)
		return
	}
	if n > 0 {
		sm.logger.Debug("expired sessions removed", "count", n)
	}
}

// CreateSession creates a new session for a tenant
func (sm *SessionManager) CreateSession(ctx context.Context, tenant *database.Tenant) (*Session, error) {
	now := time.Now()
	session := &Session{
		ID:         uuid.NewString(),
		ClassCode:  tenant.Code,
		ClassName:  tenant.Name,
		Department: tenant.Department,
		Role:       tenant.Role,
		CreatedAt:  now,
		ExpiresAt:  now.Add(sessionDuration),
	}

	if sm.store != nil {
		if err := sm.store.SaveSession(ctx, database.StoredSession{
			ID:         session.ID,
			ClassCode:  session.ClassCode,
			ClassName:  session.ClassName,
			Department: session.Department,
			Role:       session.Role,
			CreatedAt:  session.CreatedAt,
			ExpiresAt:  session.ExpiresAt,
		}); err != nil {
			return nil, err
		}
	}

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by ID, falling back to the store for
// sessions created before a restart.
func (sm *SessionManager) GetSession(ctx context.Context, sessionID string) *Session {
	sm.mu.RLock()
	session, ok := sm.sessions[sessionID]
	sm.mu.RUnlock()

	if ok {
		if time.Now().After(session.ExpiresAt) {
			sm.DeleteSession(ctx, sessionID)
			return nil
		}
		return session
	}

	if sm.store == nil {
		return nil
	}
	stored, err := sm.store.GetSession(ctx, sessionID)
	if err != nil {
		sm.logger.Warn("failed to load session", "error", err)
		return nil
	}
	if stored == nil {
		return nil
	}
	session = &Session{
		ID:         stored.ID,
		ClassCode:  stored.ClassCode,
		ClassName:  stored.ClassName,
		Department: stored.Department,
		Role:       stored.Role,
		CreatedAt:  stored.CreatedAt,
		ExpiresAt:  stored.ExpiresAt,
	}
	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()
	return session
}

// DeleteSession removes a session
func (sm *SessionManager) DeleteSession(ctx context.Context, sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if sm.store != nil {
		if err := sm.store.DeleteSession(ctx, sessionID); err != nil {
			sm.logger.Warn("failed to delete session", "error", err)
		}
	}
}

// SetSessionCookie sets the session cookie on the response
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, r *http.Request, session *Session) {
	// Sign the session ID
	signature := sm.signData(session.ID)
	cookieValue := session.ID + "." + signature

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    cookieValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionDuration.Seconds()),
	})
}

// ClearSessionCookie removes the session cookie
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest extracts the session from a request
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) *Session {
	// Try cookie first
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		sessionID, signature, found := strings.Cut(cookie.Value, ".")
		if found && sm.verifySignature(sessionID, signature) {
			if session := sm.GetSession(r.Context(), sessionID); session != nil {
				return session
			}
		}
	}

	// Try Authorization header
	authHeader := r.Header.Get("Authorization")
	if sessionID, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		if session := sm.GetSession(r.Context(), sessionID); session != nil {
			return session
		}
	}

	return nil
}

// signData creates an HMAC signature for data
func (sm *SessionManager) signData(data string) string {
	h := hmac.New(sha256.New, sm.secret)
	h.Write([]byte(data))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// verifySignature verifies an HMAC signature
func (sm *SessionManager) verifySignature(data, signature string) bool {
	expected := sm.signData(data)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SessionData is the public view of a session
type SessionData struct {
	SessionID  string `json:"session_id"`
	ClassCode  string `json:"class_code"`
	ClassName  string `json:"class_name"`
	Department string `json:"department"`
	Role       string `json:"role"`
	ExpiresAt  string `json:"expires_at"`
}

// ToJSON returns the session data for JSON response
func (s *Session) ToJSON() SessionData {
	return SessionData{
		SessionID:  s.ID,
		ClassCode:  s.ClassCode,
		ClassName:  s.ClassName,
		Department: s.Department,
		Role:       string(s.Role),
		ExpiresAt:  s.ExpiresAt.Format(time.RFC3339),
	}
}

// MarshalJSON implements json.Marshaler
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToJSON())
}
