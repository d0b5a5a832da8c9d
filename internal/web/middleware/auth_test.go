package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/database/mock"
)

func testTenant() *database.Tenant {
	return &database.Tenant{
		Code:       "CS101",
		Name:       "Computer Science 101",
		Department: "Computer Science",
		Role:       database.RoleClass,
	}
}

func newTestManager(t *testing.T, store database.SessionStore) *SessionManager {
	t.Helper()
	sm := NewSessionManager("test-secret", store, nil)
	t.Cleanup(sm.Stop)
	return sm
}

func TestNewSessionManager(t *testing.T) {
	sm := newTestManager(t, nil)
	if sm.sessions == nil {
		t.Error("sessions map is nil")
	}
	if string(sm.secret) != "test-secret" {
		t.Errorf("secret = %q, want test-secret", sm.secret)
	}
}

func TestNewSessionManager_DefaultSecret(t *testing.T) {
	sm := NewSessionManager("", nil, nil)
	defer sm.Stop()
	if len(sm.secret) == 0 {
		t.Error("expected a development secret")
	}
}

func TestSessionManager_StopTwice(t *testing.T) {
	sm := NewSessionManager("test-secret", nil, nil)
	sm.Stop()
	sm.Stop()
}

func TestSessionManager_CreateSession(t *testing.T) {
	sm := newTestManager(t, nil)

	session, err := sm.CreateSession(context.Background(), testTenant())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if session.ID == "" {
		t.Error("session ID is empty")
	}
	if session.ClassCode != "CS101" {
		t.Errorf("ClassCode = %s, want CS101", session.ClassCode)
	}
	if session.Role != database.RoleClass {
		t.Errorf("Role = %s, want class", session.Role)
	}
	if session.IsAdmin() {
		t.Error("class session should not be admin")
	}
	if got := session.ExpiresAt.Sub(session.CreatedAt); got != 8*time.Hour {
		t.Errorf("session lifetime = %v, want 8h", got)
	}
}

func TestSessionManager_CreateSession_StoreError(t *testing.T) {
	store := mock.NewMockSessionStore()
	store.SaveError = errors.New("db down")
	sm := newTestManager(t, store)

	if _, err := sm.CreateSession(context.Background(), testTenant()); err == nil {
		t.Fatal("expected error when the store fails")
	}
	if len(sm.sessions) != 0 {
		t.Error("failed session should not be cached")
	}
}

func TestSessionManager_GetSession(t *testing.T) {
	sm := newTestManager(t, nil)
	ctx := context.Background()

	session, _ := sm.CreateSession(ctx, testTenant())

	retrieved := sm.GetSession(ctx, session.ID)
	if retrieved == nil {
		t.Fatal("GetSession() returned nil for existing session")
		return
	}
	if retrieved.ClassName != "Computer Science 101" {
		t.Errorf("ClassName = %s, want Computer Science 101", retrieved.ClassName)
	}

	if notFound := sm.GetSession(ctx, "nonexistent-id"); notFound != nil {
		t.Error("GetSession() should return nil for non-existing session")
	}
}

func TestSessionManager_GetSession_Expired(t *testing.T) {
	sm := newTestManager(t, nil)
	ctx := context.Background()

	session, _ := sm.CreateSession(ctx, testTenant())
	session.ExpiresAt = time.Now().Add(-time.Minute)

	if got := sm.GetSession(ctx, session.ID); got != nil {
		t.Error("expired session should not be returned")
	}
	if _, ok := sm.sessions[session.ID]; ok {
		t.Error("expired session should be evicted")
	}
}

func TestSessionManager_GetSession_FromStore(t *testing.T) {
	store := mock.NewMockSessionStore()
	ctx := context.Background()

	first := newTestManager(t, store)
	session, err := first.CreateSession(ctx, testTenant())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	// A fresh manager simulates a restart.
	second := newTestManager(t, store)
	restored := second.GetSession(ctx, session.ID)
	if restored == nil {
		t.Fatal("expected session to be restored from the store")
		return
	}
	if restored.ClassCode != "CS101" || restored.Role != database.RoleClass {
		t.Errorf("restored session = %+v", restored)
	}
}

func TestSessionManager_DeleteSession(t *testing.T) {
	store := mock.NewMockSessionStore()
	sm := newTestManager(t, store)
	ctx := context.Background()

	session, _ := sm.CreateSession(ctx, testTenant())
	sm.DeleteSession(ctx, session.ID)

	if retrieved := sm.GetSession(ctx, session.ID); retrieved != nil {
		t.Error("GetSession() should return nil after deletion")
	}
	if stored, _ := store.GetSession(ctx, session.ID); stored != nil {
		t.Error("session should be removed from the store")
	}
}

func TestSessionManager_Cleanup(t *testing.T) {
	store := mock.NewMockSessionStore()
	sm := newTestManager(t, store)
	ctx := context.Background()

	live, _ := sm.CreateSession(ctx, testTenant())
	stale, _ := sm.CreateSession(ctx, testTenant())
	stale.ExpiresAt = time.Now().Add(-time.Hour)
	store.SaveSession(ctx, database.StoredSession{ID: "old", ExpiresAt: time.Now().Add(-time.Hour)})

	sm.cleanup()

	if _, ok := sm.sessions[stale.ID]; ok {
		t.Error("expired session should be removed")
	}
	if _, ok := sm.sessions[live.ID]; !ok {
		t.Error("live session should be kept")
	}
}

func TestSessionManager_SetAndGetSessionCookie(t *testing.T) {
	sm := newTestManager(t, nil)
	session, _ := sm.CreateSession(context.Background(), testTenant())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	sm.SetSessionCookie(w, r, session)

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil {
		t.Fatal("Session cookie not found")
		return
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sessionCookie)

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil {
		t.Fatal("GetSessionFromRequest() returned nil")
		return
	}
	if retrieved.ID != session.ID {
		t.Errorf("Session ID = %s, want %s", retrieved.ID, session.ID)
	}
}

func TestSessionManager_InvalidCookie(t *testing.T) {
	sm := newTestManager(t, nil)
	session, _ := sm.CreateSession(context.Background(), testTenant())

	tests := []struct {
		name  string
		value string
	}{
		{"bad signature", session.ID + ".invalid-signature"},
		{"no signature", session.ID},
		{"unknown id", "invalid-session." + sm.signData("invalid-session")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: tt.value})
			if got := sm.GetSessionFromRequest(req); got != nil {
				t.Error("GetSessionFromRequest() should return nil")
			}
		})
	}
}

func TestSessionManager_BearerAuth(t *testing.T) {
	sm := newTestManager(t, nil)
	session, _ := sm.CreateSession(context.Background(), testTenant())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil {
		t.Fatal("GetSessionFromRequest() returned nil for Bearer auth")
		return
	}
	if retrieved.ID != session.ID {
		t.Errorf("Session ID = %s, want %s", retrieved.ID, session.ID)
	}
}

func TestRequireAuth(t *testing.T) {
	sm := newTestManager(t, nil)
	session, _ := sm.CreateSession(context.Background(), testTenant())

	handlerCalled := false
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if s := GetSessionFromContext(r.Context()); s == nil {
			t.Error("Session not found in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	protectedHandler := RequireAuth(sm)(testHandler)

	t.Run("valid session", func(t *testing.T) {
		handlerCalled = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+session.ID)

		protectedHandler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		if !handlerCalled {
			t.Error("Handler was not called")
		}
	})

	t.Run("no session", func(t *testing.T) {
		handlerCalled = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)

		protectedHandler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if handlerCalled {
			t.Error("Handler should not be called for unauthorized request")
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", ct)
		}
	})
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireRole(database.RoleAdmin, database.RoleFaculty)(ok)

	tests := []struct {
		name    string
		session *Session
		want    int
	}{
		{"admin", &Session{ID: "a", Role: database.RoleAdmin}, http.StatusOK},
		{"faculty", &Session{ID: "f", Role: database.RoleFaculty}, http.StatusOK},
		{"class", &Session{ID: "c", Role: database.RoleClass}, http.StatusForbidden},
		{"anonymous", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.session != nil {
				req = req.WithContext(SetSessionInContext(req.Context(), tt.session))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestGetSessionFromContext(t *testing.T) {
	session := &Session{ID: "test123", ClassCode: "CS101"}
	ctx := SetSessionInContext(context.Background(), session)

	retrieved := GetSessionFromContext(ctx)
	if retrieved == nil {
		t.Fatal("GetSessionFromContext() returned nil")
		return
	}
	if retrieved.ID != "test123" {
		t.Errorf("Session ID = %s, want test123", retrieved.ID)
	}

	if notFound := GetSessionFromContext(context.Background()); notFound != nil {
		t.Error("GetSessionFromContext() should return nil for empty context")
	}
}

func TestSessionManager_ClearSessionCookie(t *testing.T) {
	sm := newTestManager(t, nil)

	w := httptest.NewRecorder()
	sm.ClearSessionCookie(w)

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil {
		t.Fatal("Session cookie not found")
		return
	}
	if sessionCookie.MaxAge != -1 {
		t.Errorf("MaxAge = %d, want -1 (expired)", sessionCookie.MaxAge)
	}
}

func TestSession_MarshalJSON(t *testing.T) {
	session := &Session{
		ID:        "test123",
		ClassCode: "ADMIN",
		Role:      database.RoleAdmin,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(8 * time.Hour),
	}

	data, err := session.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	jsonStr := string(data)
	for _, want := range []string{`"session_id":"test123"`, `"class_code":"ADMIN"`, `"role":"admin"`} {
		if !strings.Contains(jsonStr, want) {
			t.Errorf("JSON %s should contain %s", jsonStr, want)
		}
	}
}
