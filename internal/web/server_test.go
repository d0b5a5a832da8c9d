package web

import (
	"bytes"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/kozaktomas/smart-attendance/internal/attendance"
	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/database/mock"
	"github.com/kozaktomas/smart-attendance/internal/facematch"
	"github.com/kozaktomas/smart-attendance/internal/liveness"
)

type noFaceEncoder struct{}

func (noFaceEncoder) Encode(image.Image) (facematch.Encoding, bool) { return nil, false }

type stubBlink struct{}

func (stubBlink) AssessLiveness([]image.Image) liveness.Verdict {
	return liveness.Verdict{Reason: liveness.ReasonNoBlink, Outcome: liveness.OutcomeNoBlink}
}

func (stubBlink) MinFrames() int { return 5 }

type stubStill struct{}

func (stubStill) CheckStill(image.Image) liveness.Verdict {
	return liveness.Verdict{IsLive: true, Confidence: 100, Reason: liveness.ReasonRealPerson}
}

func newTestServer(t *testing.T) (*Server, *mock.MockSessionStore) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	tenants := mock.NewMockTenantStore()
	tenants.AddTenant(database.Tenant{Code: "CS101", Name: "Computer Science - Year 1", Role: database.RoleClass, PasswordHash: string(hash)})
	tenants.AddTenant(database.Tenant{Code: "admin", Name: "Administrator", Role: database.RoleAdmin, PasswordHash: string(hash)})

	sessions := mock.NewMockSessionStore()
	service := attendance.NewService(noFaceEncoder{}, stubBlink{}, mock.NewMockIdentityStore(),
		mock.NewMockAttendanceStore(), nil, attendance.DefaultOptions(), nil)

	cfg := config.Defaults()
	cfg.Web.SessionSecret = "test-secret"
	s := NewServer(cfg, Dependencies{
		Service:  service,
		Blink:    stubBlink{},
		Still:    stubStill{},
		Tenants:  tenants,
		Sessions: sessions,
	}, nil)
	t.Cleanup(s.sessionManager.Stop)
	return s, sessions
}

func login(t *testing.T, s *Server, class string) string {
	t.Helper()
	body := bytes.NewBufferString(`{"class_code": "` + class + `", "password": "secret"}`)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d, body %s", class, rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func serve(s *Server, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_PublicRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/auth/status", http.StatusOK},
		{http.MethodGet, "/api/v1/auth/classes", http.StatusOK},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
		{http.MethodGet, "/", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(s, tt.method, tt.path, "", nil)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
				t.Error("security headers missing")
			}
		})
	}
}

func TestServer_ProtectedRoutesRequireSession(t *testing.T) {
	s, _ := newTestServer(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/register"},
		{http.MethodGet, "/api/v1/users"},
		{http.MethodDelete, "/api/v1/users/CS-01"},
		{http.MethodPost, "/api/v1/attendance/mark"},
		{http.MethodGet, "/api/v1/attendance"},
		{http.MethodGet, "/api/v1/attendance/stats"},
		{http.MethodGet, "/api/v1/attendance/export"},
		{http.MethodGet, "/api/v1/attendance/user/CS-01"},
		{http.MethodPost, "/api/v1/liveness/blink"},
		{http.MethodPost, "/api/v1/liveness/still"},
		{http.MethodGet, "/api/v1/liveness/stream"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := serve(s, rt.method, rt.path, "", nil)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestServer_SessionFlow(t *testing.T) {
	s, sessions := newTestServer(t)
	token := login(t, s, "CS101")

	if n := sessions.Count(); n != 1 {
		t.Errorf("expected the session to be persisted, store has %d", n)
	}

	rec := serve(s, http.MethodGet, "/api/v1/users", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(s, http.MethodGet, "/api/v1/attendance/stats", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from stats, got %d", rec.Code)
	}

	still, _ := json.Marshal(map[string]string{"image": ""})
	rec = serve(s, http.MethodPost, "/api/v1/liveness/still", token, still)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing image, got %d", rec.Code)
	}

	serve(s, http.MethodPost, "/api/v1/auth/logout", token, nil)
	rec = serve(s, http.MethodGet, "/api/v1/users", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestServer_ClassOnlyRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	token := login(t, s, "admin")

	for _, path := range []string{"/api/v1/register", "/api/v1/attendance/mark"} {
		rec := serve(s, http.MethodPost, path, token, []byte(`{}`))
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403 for admin, got %d", path, rec.Code)
		}
	}

	rec := serve(s, http.MethodGet, "/api/v1/attendance", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["class_code"] != "ALL" {
		t.Errorf("admin listing should cover all classes, got %v", resp["class_code"])
	}
}
