package handlers

import (
	"net"
	"testing"
	"time"

	"memoryapi/internal/services"

	wsclient "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type socketServer struct {
	addr        string
	sessions    *services.CaptureSessionService
	transcriber *stubTranscriber
}

// startSocketServer serves the capture socket on an ephemeral port
func startSocketServer(t *testing.T) *socketServer {
	t.Helper()

	transcriber := &stubTranscriber{text: "hello there"}
	sessions := services.NewCaptureSessionService(transcriber, services.CaptureSessionConfig{}, nil)
	handler := NewCaptureWebSocketHandler(sessions)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", websocket.New(handler.Handle))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		_ = app.ShutdownWithTimeout(time.Second)
		sessions.Shutdown()
	})

	return &socketServer{addr: ln.Addr().String(), sessions: sessions, transcriber: transcriber}
}

func (s *socketServer) dial(t *testing.T, query string) *wsclient.Conn {
	t.Helper()
	conn, _, err := wsclient.DefaultDialer.Dial("ws://"+s.addr+"/ws"+query, nil)
	if err != nil {
		t.Fatalf("Failed to dial capture socket: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *wsclient.Conn) captureMessage {
	t.Helper()
	var msg captureMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return msg
}

func waitForNoSessions(t *testing.T, sessions *services.CaptureSessionService) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for sessions.Stats().ActiveSessions != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected no active sessions, got %d", sessions.Stats().ActiveSessions)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCaptureSocketStreamAndStop(t *testing.T) {
	s := startSocketServer(t)
	conn := s.dial(t, "?sample_rate=16000&channels=1")
	defer conn.Close()

	started := readFrame(t, conn)
	if started.Type != "started" || started.SessionID == "" {
		t.Fatalf("Unexpected first frame %+v", started)
	}
	if got := s.sessions.Stats().ActiveSessions; got != 1 {
		t.Fatalf("Expected 1 active session, got %d", got)
	}

	for i, want := range []int{320, 640} {
		if err := conn.WriteMessage(wsclient.BinaryMessage, make([]byte, 320)); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		progress := readFrame(t, conn)
		if progress.Type != "progress" || progress.TotalBytes != want {
			t.Errorf("chunk %d: got %+v, want total_bytes %d", i, progress, want)
		}
	}

	if err := conn.WriteMessage(wsclient.TextMessage, []byte("stop")); err != nil {
		t.Fatalf("stop: %v", err)
	}
	transcript := readFrame(t, conn)
	if transcript.Type != "transcript" || transcript.Text != "hello there" {
		t.Errorf("Unexpected transcript frame %+v", transcript)
	}
	if transcript.SessionID != started.SessionID {
		t.Errorf("Transcript for session %q, want %q", transcript.SessionID, started.SessionID)
	}

	// the server closes normally after the transcript
	if _, _, err := conn.ReadMessage(); !wsclient.IsCloseError(err, wsclient.CloseNormalClosure) {
		t.Errorf("Expected normal close, got %v", err)
	}
	if got := s.sessions.Stats().ActiveSessions; got != 0 {
		t.Errorf("Stopped session still registered: %d active", got)
	}
	if s.transcriber.callCount() != 1 {
		t.Errorf("Expected 1 provider call, got %d", s.transcriber.callCount())
	}
}

func TestCaptureSocketDisconnectAbortsSession(t *testing.T) {
	s := startSocketServer(t)
	conn := s.dial(t, "")

	if started := readFrame(t, conn); started.Type != "started" {
		t.Fatalf("Unexpected first frame %+v", started)
	}
	if err := conn.WriteMessage(wsclient.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	readFrame(t, conn)

	conn.Close()

	waitForNoSessions(t, s.sessions)
	if s.transcriber.callCount() != 0 {
		t.Errorf("Dropped connection must not transcribe, got %d calls", s.transcriber.callCount())
	}
}

func TestCaptureSocketAbortCommand(t *testing.T) {
	s := startSocketServer(t)
	conn := s.dial(t, "")
	defer conn.Close()

	started := readFrame(t, conn)
	if err := conn.WriteMessage(wsclient.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong := readFrame(t, conn); pong.Type != "pong" {
		t.Errorf("Expected pong, got %+v", pong)
	}

	if err := conn.WriteMessage(wsclient.TextMessage, []byte("abort")); err != nil {
		t.Fatalf("abort: %v", err)
	}
	aborted := readFrame(t, conn)
	if aborted.Type != "aborted" || aborted.SessionID != started.SessionID {
		t.Errorf("Unexpected abort frame %+v", aborted)
	}
	waitForNoSessions(t, s.sessions)
}

func TestCaptureSocketRejectsDeclaredBitDepth(t *testing.T) {
	s := startSocketServer(t)
	conn := s.dial(t, "?bits=0")
	defer conn.Close()

	if msg := readFrame(t, conn); msg.Type != "error" || msg.Error != "unsupported_bit_depth" {
		t.Errorf("Unexpected frame %+v", msg)
	}
	if got := s.sessions.Stats().ActiveSessions; got != 0 {
		t.Errorf("Rejected socket opened a session: %d active", got)
	}
}
