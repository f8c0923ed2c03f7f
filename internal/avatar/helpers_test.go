package avatar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rbright/consult/internal/backend"
)

// fakeIssuer returns a canned backend session response.
type fakeIssuer struct {
	resp  backend.SessionResponse
	err   error
	calls atomic.Int32
	last  backend.SessionRequest
}

func (f *fakeIssuer) OpenSession(_ context.Context, req backend.SessionRequest) (backend.SessionResponse, error) {
	f.calls.Add(1)
	f.last = req
	return f.resp, f.err
}

func readyIssuer() *fakeIssuer {
	return &fakeIssuer{resp: backend.SessionResponse{
		Token:    "tok-1",
		Session:  backend.SessionConfig{AgentName: "Dexter", KnowledgeBase: "kb-alpha", Language: "en"},
		Greeting: "Hello Jane, I'm Dexter.",
	}}
}

// streamServer is a scripted avatar websocket endpoint.
type streamServer struct {
	t      *testing.T
	server *httptest.Server
	script func(conn *websocket.Conn, start sessionStartFrame)

	mu       sync.Mutex
	received []json.RawMessage
	binary   [][]byte
	closed   chan struct{}
}

func newStreamServer(t *testing.T, script func(conn *websocket.Conn, start sessionStartFrame)) *streamServer {
	t.Helper()
	s := &streamServer{t: t, script: script, closed: make(chan struct{})}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		defer close(s.closed)

		var start sessionStartFrame
		if err := conn.ReadJSON(&start); err != nil {
			return
		}
		if s.script != nil {
			s.script(conn, start)
		}
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			if messageType == websocket.BinaryMessage {
				s.binary = append(s.binary, data)
			} else {
				s.received = append(s.received, data)
			}
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *streamServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *streamServer) frameTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.received))
	for _, raw := range s.received {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &env)
		types = append(types, env.Type)
	}
	return types
}

func (s *streamServer) binaryFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.binary)
}

func send(conn *websocket.Conn, frame any) {
	_ = conn.WriteJSON(frame)
}

func newTestManager(issuer TokenIssuer, url string, target RenderTarget) *Manager {
	m := NewManager(Config{
		StreamURL:             url,
		DialTimeout:           2 * time.Second,
		Voice:                 Voice{ID: "voice-1", Speed: 1.0},
		Quality:               "high",
		DeterministicGreeting: true,
		Target:                target,
	}, issuer, nil)
	m.newID = func() string { return "session-1" }
	return m
}

func nextEvent(t *testing.T, session *Session) Event {
	t.Helper()
	select {
	case event, ok := <-session.Events():
		require.True(t, ok, "events closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for avatar event")
		return nil
	}
}

// recordingTarget captures attach/close calls.
type recordingTarget struct {
	mu       sync.Mutex
	attached []string
	frames   [][]byte
	closed   atomic.Int32
}

func (r *recordingTarget) Attach(streamID string) (MediaSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, streamID)
	return recordingSink{r}, nil
}

type recordingSink struct{ r *recordingTarget }

func (s recordingSink) WriteFrame(frame []byte) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.frames = append(s.r.frames, append([]byte(nil), frame...))
	return nil
}

func (s recordingSink) Close() error {
	s.r.closed.Add(1)
	return nil
}

func (r *recordingTarget) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}
