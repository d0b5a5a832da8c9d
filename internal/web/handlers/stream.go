package handlers

import (
	"encoding/json"
	"image"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kozaktomas/smart-attendance/internal/constants"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
	"github.com/kozaktomas/smart-attendance/internal/web/middleware"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 4 << 10,
}

// SetOriginCheck allows cross-origin pages accepted by allowed to open the
// stream. Same-origin requests and clients sending no Origin are always
// accepted.
func (h *LivenessHandler) SetOriginCheck(allowed func(origin string) bool) {
	h.checkOrigin = allowed
}

func (h *LivenessHandler) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return h.checkOrigin != nil && h.checkOrigin(origin)
}

// streamRequest is a client message. Frames may also arrive as binary
// messages holding raw image bytes.
type streamRequest struct {
	Type  string `json:"type"` // "frame" or "reset"
	Image string `json:"image"`
}

type streamProgress struct {
	Type   string `json:"type"`
	Frames int    `json:"frames"`
	Needed int    `json:"needed"`
}

type streamVerdict struct {
	Type string `json:"type"`
	VerdictResponse
	Frames int `json:"frames"`
}

type streamError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// streamConn serializes writes; the ping loop and the reader both write.
type streamConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *streamConn) writeJSON(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(payload)
}

func (c *streamConn) writeMessage(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

// Stream accepts frames over a websocket and replies with a blink verdict as
// soon as the buffered frames show a blink. Without a blink the verdict is
// sent once the window is full, and the buffer starts over either way.
func (h *LivenessHandler) Stream(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	up.CheckOrigin = h.originAllowed
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	sc := &streamConn{conn: conn}
	defer conn.Close()

	class := ""
	if session := middleware.GetSessionFromContext(r.Context()); session != nil {
		class = session.ClassCode
	}
	h.logger.Info("liveness stream opened", "class", class)

	conn.SetReadLimit(constants.MaxStreamFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sc.writeMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	minFrames := h.blink.MinFrames()
	window := max(constants.StreamWindowFrames, minFrames)
	frames := make([]image.Image, 0, window)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("liveness stream read failed", "class", class, "error", err)
			}
			h.logger.Info("liveness stream closed", "class", class)
			return
		}

		var img image.Image
		switch messageType {
		case websocket.BinaryMessage:
			img, err = imaging.Decode(payload)
		case websocket.TextMessage:
			var req streamRequest
			if jsonErr := json.Unmarshal(payload, &req); jsonErr != nil {
				_ = sc.writeJSON(streamError{Type: "error", Error: "invalid message"})
				continue
			}
			if req.Type == "reset" {
				frames = frames[:0]
				_ = sc.writeJSON(streamProgress{Type: "progress", Frames: 0, Needed: minFrames})
				continue
			}
			img, err = imaging.DecodeBase64(req.Image)
		default:
			continue
		}
		if err != nil {
			_ = sc.writeJSON(streamError{Type: "error", Error: "invalid frame"})
			continue
		}

		frames = append(frames, img)
		if len(frames) < minFrames {
			if err := sc.writeJSON(streamProgress{Type: "progress", Frames: len(frames), Needed: minFrames}); err != nil {
				return
			}
			continue
		}

		verdict := h.blink.AssessLiveness(frames)
		if !verdict.IsLive && len(frames) < window {
			if err := sc.writeJSON(streamProgress{Type: "progress", Frames: len(frames), Needed: minFrames}); err != nil {
				return
			}
			continue
		}

		h.logger.Info("liveness stream verdict", "class", class, "frames", len(frames),
			"live", verdict.IsLive, "outcome", verdict.Outcome.String())
		if err := sc.writeJSON(streamVerdict{
			Type:            "verdict",
			VerdictResponse: blinkVerdictResponse(verdict),
			Frames:          len(frames),
		}); err != nil {
			return
		}
		frames = frames[:0]
	}
}
