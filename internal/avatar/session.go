package avatar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/consult/internal/backend"
	"github.com/rbright/consult/internal/metrics"
)

const (
	eventQueueSize = 64
	writeTimeout   = 5 * time.Second
	closeGrace     = 2 * time.Second
)

type sessionInfo struct {
	ID        string
	ProfileID string
	UserName  string
	Agent     string
	Greeting  string
	Config    backend.SessionConfig
}

// Session is one open stream with the avatar service.
type Session struct {
	info   sessionInfo
	conn   *websocket.Conn
	target RenderTarget
	logger *slog.Logger

	events  chan Event
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	mediaMu sync.Mutex
	media   *Media
}

func newSession(conn *websocket.Conn, info sessionInfo, target RenderTarget, logger *slog.Logger) *Session {
	return &Session{
		info:    info,
		conn:    conn,
		target:  target,
		logger:  logger,
		events:  make(chan Event, eventQueueSize),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
}

// ID is the locally generated session id used for log correlation.
func (s *Session) ID() string { return s.info.ID }

// Agent is the remote agent identity.
func (s *Session) Agent() string { return s.info.Agent }

// UserName is the participant display name.
func (s *Session) UserName() string { return s.info.UserName }

// ProfileID is the avatar profile the session was opened with.
func (s *Session) ProfileID() string { return s.info.ProfileID }

// Greeting is the initial agent line chosen by the backend, if any.
func (s *Session) Greeting() string { return s.info.Greeting }

// Config is the backend-selected avatar configuration.
func (s *Session) Config() backend.SessionConfig { return s.info.Config }

// Events delivers signals in wire order and closes after Disconnected.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Media returns the bound media handle, nil before StreamReady or after Close.
func (s *Session) Media() *Media {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	return s.media
}

// Speak asks the agent to respond to text.
func (s *Session) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("speak text is empty")
	}
	return s.writeJSON(ctx, speakFrame{Type: typeSpeak, Text: text, TaskType: taskTalk})
}

// StartVoiceChat activates the remote voice channel.
func (s *Session) StartVoiceChat(ctx context.Context, muted bool) error {
	return s.writeJSON(ctx, voiceChatFrame{Type: typeVoiceChatStart, Muted: muted})
}

// StopVoiceChat deactivates the remote voice channel.
func (s *Session) StopVoiceChat(ctx context.Context) error {
	return s.writeJSON(ctx, controlFrame{Type: typeVoiceChatStop})
}

// SendAudio forwards one raw PCM chunk over the voice channel.
func (s *Session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	metrics.StreamFrame("out", true)
	return nil
}

// Close sends session.stop, closes the websocket and detaches media from the
// render target. Safe to call more than once; later calls return nil.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		_ = s.writeJSON(context.Background(), controlFrame{Type: typeSessionStop})
		s.closed.Store(true)
		close(s.closing)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace),
		)
		s.writeMu.Unlock()
		closeErr = s.conn.Close()

		select {
		case <-s.done:
		case <-time.After(closeGrace):
		}
		if err := s.detachMedia(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	if closeErr != nil && errors.Is(closeErr, websocket.ErrCloseSent) {
		return nil
	}
	return closeErr
}

func (s *Session) writeJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrSessionClosed
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write stream frame: %w", err)
	}
	metrics.StreamFrame("out", false)
	return nil
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.emitTerminal(s.disconnectFor(err))
			return
		}
		metrics.StreamFrame("in", messageType == websocket.BinaryMessage)

		switch messageType {
		case websocket.BinaryMessage:
			if media := s.Media(); media != nil {
				if werr := media.write(data); werr != nil {
					s.logWarn("render media frame failed", werr)
				}
			}
		case websocket.TextMessage:
			event, frame, derr := decodeServerFrame(data)
			if derr != nil {
				s.logWarn("ignoring malformed stream frame", derr)
				continue
			}
			switch ev := event.(type) {
			case nil:
				if frame.Type == typeError {
					s.logWarn("stream service reported error", errors.New(frame.Message))
				} else if s.logger != nil {
					s.logger.Debug("ignoring stream frame", "session_id", s.info.ID, "type", frame.Type)
				}
			case StreamReady:
				media, berr := bindMedia(s.target, ev.StreamID)
				if berr != nil {
					s.logWarn("media bind failed; discarding inbound media", berr)
					media, _ = bindMedia(DiscardTarget{}, ev.StreamID)
				}
				s.mediaMu.Lock()
				s.media = media
				s.mediaMu.Unlock()
				ev.Media = media
				s.emit(ev)
			case Disconnected:
				s.emitTerminal(ev)
				return
			default:
				s.emit(ev)
			}
		}
	}
}

// disconnectFor maps a read failure to the terminal event.
func (s *Session) disconnectFor(err error) Disconnected {
	switch {
	case s.closed.Load():
		return Disconnected{Reason: "closed locally", Local: true}
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return Disconnected{Reason: "closed by remote"}
	default:
		return Disconnected{Reason: "connection lost", Err: err}
	}
}

// emit blocks until the event is consumed or the session is closing.
func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

func (s *Session) emitTerminal(event Disconnected) {
	if s.logger != nil {
		s.logger.Info("avatar session disconnected",
			"session_id", s.info.ID,
			"reason", event.Reason,
			"error", errString(event.Err),
		)
	}
	s.emit(event)
}

func (s *Session) detachMedia() error {
	s.mediaMu.Lock()
	media := s.media
	s.media = nil
	s.mediaMu.Unlock()
	if media == nil {
		return nil
	}
	return media.detach()
}

func (s *Session) logWarn(message string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(message, "session_id", s.info.ID, "error", errString(err))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
