package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/smart-attendance/internal/attendance"
	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/database/mock"
	"github.com/kozaktomas/smart-attendance/internal/facematch"
	"github.com/kozaktomas/smart-attendance/internal/liveness"
	"github.com/kozaktomas/smart-attendance/internal/web/middleware"
)

// colorEncoder maps a frame to a one-hot encoding chosen by the red channel
// of its top-left pixel. Black frames have no face.
type colorEncoder struct{}

func (colorEncoder) Encode(img image.Image) (facematch.Encoding, bool) {
	r, g, b, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	if r == 0 && g == 0 && b == 0 {
		return nil, false
	}
	return basis(int(r>>8) % 128), true
}

func basis(i int) facematch.Encoding {
	enc := make(facematch.Encoding, 128)
	enc[i] = 1
	return enc
}

// fakeBlink returns a fixed verdict for any sequence of at least five frames.
type fakeBlink struct {
	mu      sync.Mutex
	verdict liveness.Verdict
	calls   int
}

func (f *fakeBlink) AssessLiveness(frames []image.Image) liveness.Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(frames) < 5 {
		return liveness.Verdict{Reason: "need at least 5 frames for blink detection", Outcome: liveness.OutcomeInsufficientFrames}
	}
	return f.verdict
}

func (f *fakeBlink) MinFrames() int { return 5 }

func (f *fakeBlink) setVerdict(v liveness.Verdict) {
	f.mu.Lock()
	f.verdict = v
	f.mu.Unlock()
}

type fakeStill struct {
	verdict liveness.Verdict
}

func (f fakeStill) CheckStill(image.Image) liveness.Verdict { return f.verdict }

var (
	liveVerdict    = liveness.Verdict{IsLive: true, Confidence: 100, Reason: liveness.ReasonBlinkDetected, Outcome: liveness.OutcomeLive}
	noBlinkVerdict = liveness.Verdict{IsLive: false, Confidence: 12.345, Reason: liveness.ReasonNoBlink, Outcome: liveness.OutcomeNoBlink}
)

// testEnv wires handlers to in-memory stores.
type testEnv struct {
	identities *mock.MockIdentityStore
	records    *mock.MockAttendanceStore
	tenants    *mock.MockTenantStore
	sessions   *middleware.SessionManager
	blink      *fakeBlink
	service    *attendance.Service
	clock      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		identities: mock.NewMockIdentityStore(),
		records:    mock.NewMockAttendanceStore(),
		tenants:    mock.NewMockTenantStore(),
		blink:      &fakeBlink{verdict: liveVerdict},
		clock:      time.Date(2026, 3, 2, 9, 15, 0, 0, time.Local),
	}
	env.sessions = middleware.NewSessionManager("test-secret", nil, nil)
	t.Cleanup(env.sessions.Stop)

	env.service = attendance.NewService(colorEncoder{}, env.blink, env.identities, env.records, nil,
		attendance.DefaultOptions(), nil).WithClock(func() time.Time { return env.clock })

	env.identities.AddIdentity(database.Identity{
		UserID: "CS-01", Name: "Alice", Email: "alice@example.com", Department: "Computer Science",
		ClassCode: "CS101", Encodings: []facematch.Encoding{basis(10), basis(11)},
	})
	env.identities.AddIdentity(database.Identity{
		UserID: "EE-01", Name: "Bob", ClassCode: "EE101", Encodings: []facematch.Encoding{basis(20)},
	})
	return env
}

func classSession() *middleware.Session {
	return &middleware.Session{
		ID: "class-session", ClassCode: "CS101", ClassName: "Computer Science - Year 1",
		Department: "Computer Science", Role: database.RoleClass,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func adminSession() *middleware.Session {
	return &middleware.Session{
		ID: "admin-session", ClassCode: "admin", ClassName: "Administrator",
		Department: "Administration", Role: database.RoleAdmin,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// solidFrame returns a base64 PNG filled with a color whose red channel is red.
func solidFrame(t *testing.T, red uint8) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			img.Set(x, y, color.RGBA{R: red, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func solidFrames(t *testing.T, red uint8, n int) []string {
	t.Helper()
	frames := make([]string, n)
	for i := range frames {
		frames[i] = solidFrame(t, red)
	}
	return frames
}

// jsonRequest builds a request with a JSON body and an optional session.
func jsonRequest(t *testing.T, method, path string, body any, session *middleware.Session) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != nil {
		req = req.WithContext(middleware.SetSessionInContext(req.Context(), session))
	}
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
