package handlers

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"memoryapi/internal/audio"
	"memoryapi/internal/logging"
	"memoryapi/internal/services"

	"github.com/gofiber/contrib/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 20 * time.Second
)

// captureMessage is every server-to-client frame on the capture socket
type captureMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	TotalBytes int    `json:"total_bytes,omitempty"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// CaptureWebSocketHandler streams audio into a capture session over one
// WebSocket connection. Binary frames are PCM chunks; the text frames
// "stop" and "abort" end the session.
type CaptureWebSocketHandler struct {
	sessions *services.CaptureSessionService
}

// NewCaptureWebSocketHandler creates a new capture socket handler
func NewCaptureWebSocketHandler(sessions *services.CaptureSessionService) *CaptureWebSocketHandler {
	return &CaptureWebSocketHandler{sessions: sessions}
}

func queryInt(c *websocket.Conn, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

// Handle runs one capture session for the lifetime of the connection
func (h *CaptureWebSocketHandler) Handle(c *websocket.Conn) {
	var writeMu sync.Mutex
	send := func(msg captureMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return c.WriteJSON(msg)
	}

	if err := checkDeclaredBits(c.Query("bits")); err != nil {
		_, code := captureError(err)
		_ = send(captureMessage{Type: "error", Error: code})
		return
	}

	info, err := h.sessions.Start(services.CaptureFormat{
		SampleRate:    queryInt(c, "sample_rate"),
		Channels:      queryInt(c, "channels"),
		BitsPerSample: queryInt(c, "bits"),
	})
	if err != nil {
		_, code := captureError(err)
		_ = send(captureMessage{Type: "error", Error: code})
		return
	}

	logger := logging.WithSession(nil, info.SessionID)
	logger.Info("capture socket opened", "sample_rate", info.SampleRate, "channels", info.Channels)

	finished := false
	defer func() {
		if !finished && h.sessions.Abort(info.SessionID) {
			logger.Info("capture socket closed without stop, session aborted")
		}
	}()

	if err := send(captureMessage{Type: "started", SessionID: info.SessionID}); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(c, &writeMu, done)

	c.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("⚠️  [CAPTURE-WS] Read error for session %s: %v", info.SessionID, err)
			}
			return
		}
		c.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			total, err := h.sessions.AppendChunk(info.SessionID, data)
			if err != nil {
				_, code := captureError(err)
				if send(captureMessage{Type: "error", Error: code}) != nil {
					return
				}
				continue
			}
			if send(captureMessage{Type: "progress", TotalBytes: total}) != nil {
				return
			}

		case websocket.TextMessage:
			switch strings.ToLower(strings.TrimSpace(string(data))) {
			case "stop":
				finished = true
				h.finish(info.SessionID, send)
				_ = c.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stopped"))
				return
			case "abort":
				finished = true
				h.sessions.Abort(info.SessionID)
				_ = send(captureMessage{Type: "aborted", SessionID: info.SessionID})
				return
			case "ping":
				_ = send(captureMessage{Type: "pong"})
			default:
				_ = send(captureMessage{Type: "error", Error: "unknown_command"})
			}
		}
	}
}

// finish stops the session and sends the transcript or an error frame
func (h *CaptureWebSocketHandler) finish(sessionID string, send func(captureMessage) error) {
	result, err := h.sessions.Stop(context.Background(), sessionID)
	if err != nil {
		status, code := captureError(err)
		msg := captureMessage{Type: "error", Error: code}
		if status >= 500 {
			msg.Detail = audio.Truncate(err.Error(), upstreamDetailLimit)
		}
		_ = send(msg)
		return
	}
	_ = send(captureMessage{Type: "transcript", SessionID: sessionID, Text: result.Text})
}

// pingLoop keeps idle connections alive while the client is silent
func (h *CaptureWebSocketHandler) pingLoop(c *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			err := c.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
