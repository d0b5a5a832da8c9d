package handlers

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type streamMessage struct {
	Type       string  `json:"type"`
	Frames     int     `json:"frames"`
	Needed     int     `json:"needed"`
	Status     string  `json:"status"`
	IsLive     bool    `json:"is_live"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

func dialStream(t *testing.T, blink *fakeBlink) *websocket.Conn {
	t.Helper()
	handler := NewLivenessHandler(blink, fakeStill{}, nil)
	server := httptest.NewServer(http.HandlerFunc(handler.Stream))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"type": "frame", "image": frame}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readStream(t *testing.T, conn *websocket.Conn) streamMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg streamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func TestLivenessStream_VerdictOnBlink(t *testing.T) {
	conn := dialStream(t, &fakeBlink{verdict: liveVerdict})
	frame := solidFrame(t, 10)

	for i := 1; i < 5; i++ {
		sendFrame(t, conn, frame)
		msg := readStream(t, conn)
		if msg.Type != "progress" || msg.Frames != i || msg.Needed != 5 {
			t.Fatalf("frame %d: unexpected message %+v", i, msg)
		}
	}

	sendFrame(t, conn, frame)
	msg := readStream(t, conn)
	if msg.Type != "verdict" || msg.Status != "live" || !msg.IsLive {
		t.Fatalf("expected live verdict, got %+v", msg)
	}
	if msg.Frames != 5 {
		t.Errorf("expected verdict over 5 frames, got %d", msg.Frames)
	}

	// The buffer starts over after a verdict.
	sendFrame(t, conn, frame)
	if msg := readStream(t, conn); msg.Type != "progress" || msg.Frames != 1 {
		t.Errorf("expected a fresh buffer, got %+v", msg)
	}
}

func TestLivenessStream_VerdictWhenWindowFills(t *testing.T) {
	conn := dialStream(t, &fakeBlink{verdict: noBlinkVerdict})
	frame := solidFrame(t, 10)

	var msg streamMessage
	for range 15 {
		sendFrame(t, conn, frame)
		msg = readStream(t, conn)
		if msg.Type == "verdict" {
			break
		}
	}
	if msg.Type != "verdict" || msg.Status != "no_blink" || msg.IsLive {
		t.Fatalf("expected no_blink verdict, got %+v", msg)
	}
	if msg.Frames != 15 {
		t.Errorf("expected the verdict after a full window, got %d frames", msg.Frames)
	}
}

func TestLivenessStream_BinaryFrames(t *testing.T) {
	conn := dialStream(t, &fakeBlink{verdict: liveVerdict})
	data := solidFrame(t, 10)
	raw, err := base64.StdEncoding.DecodeString(data[strings.Index(data, ",")+1:])
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readStream(t, conn); msg.Type != "progress" || msg.Frames != 1 {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestLivenessStream_ResetAndErrors(t *testing.T) {
	conn := dialStream(t, &fakeBlink{verdict: liveVerdict})
	frame := solidFrame(t, 10)

	sendFrame(t, conn, frame)
	readStream(t, conn)
	sendFrame(t, conn, frame)
	readStream(t, conn)

	if err := conn.WriteJSON(map[string]string{"type": "reset"}); err != nil {
		t.Fatalf("write reset: %v", err)
	}
	if msg := readStream(t, conn); msg.Type != "progress" || msg.Frames != 0 {
		t.Errorf("expected empty buffer after reset, got %+v", msg)
	}

	sendFrame(t, conn, "garbage")
	if msg := readStream(t, conn); msg.Type != "error" || msg.Error != "invalid frame" {
		t.Errorf("expected invalid frame error, got %+v", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readStream(t, conn); msg.Type != "error" || msg.Error != "invalid message" {
		t.Errorf("expected invalid message error, got %+v", msg)
	}

	// Errors do not count toward the buffer.
	sendFrame(t, conn, frame)
	if msg := readStream(t, conn); msg.Frames != 1 {
		t.Errorf("expected 1 buffered frame, got %d", msg.Frames)
	}
}

func TestLivenessStream_OriginCheck(t *testing.T) {
	handler := NewLivenessHandler(&fakeBlink{verdict: liveVerdict}, fakeStill{}, nil)
	handler.SetOriginCheck(func(origin string) bool { return origin == "https://kiosk.example.edu" })
	server := httptest.NewServer(http.HandlerFunc(handler.Stream))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	tests := []struct {
		origin string
		ok     bool
	}{
		{"https://kiosk.example.edu", true},
		{server.URL, true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			header := http.Header{"Origin": []string{tt.origin}}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if tt.ok {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				conn.Close()
				return
			}
			if err == nil {
				conn.Close()
				t.Fatal("expected the handshake to be rejected")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("expected 403, got %v", resp)
			}
		})
	}
}
