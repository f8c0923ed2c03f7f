// Package avatar manages the remote avatar streaming session: it obtains a
// token from the backend, opens the websocket stream and relays its signals.
package avatar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rbright/consult/internal/backend"
)

const defaultDialTimeout = 15 * time.Second

// TokenIssuer is the backend surface Open needs.
type TokenIssuer interface {
	OpenSession(ctx context.Context, req backend.SessionRequest) (backend.SessionResponse, error)
}

// Voice selects the synthesized voice.
type Voice struct {
	ID    string
	Speed float64
}

// Config is the static part of every session the manager opens.
type Config struct {
	StreamURL             string
	DialTimeout           time.Duration
	Voice                 Voice
	Language              string
	Quality               string
	DeterministicGreeting bool
	GreetingTemplate      string
	Target                RenderTarget
}

// OpenRequest identifies the participant and the avatar profile.
type OpenRequest struct {
	ProfileID string
	UserName  string
}

// Manager opens avatar sessions.
type Manager struct {
	cfg    Config
	issuer TokenIssuer
	dialer *websocket.Dialer
	logger *slog.Logger
	newID  func() string
}

// NewManager builds a manager. logger may be nil.
func NewManager(cfg Config, issuer TokenIssuer, logger *slog.Logger) *Manager {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Target == nil {
		cfg.Target = DiscardTarget{}
	}
	return &Manager{
		cfg:    cfg,
		issuer: issuer,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Open requests a session token, dials the stream and sends the session
// configuration. The returned session reports StreamReady on Events once the
// remote side is up. Every failure is a *SessionCreationError.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	profile := strings.TrimSpace(req.ProfileID)
	user := strings.TrimSpace(req.UserName)
	if profile == "" || user == "" {
		return nil, &SessionCreationError{Stage: "request", Err: fmt.Errorf("profile and participant name are required")}
	}

	resp, err := m.issuer.OpenSession(ctx, backend.SessionRequest{
		ProfileID:             profile,
		UserName:              user,
		DeterministicGreeting: m.cfg.DeterministicGreeting,
		Language:              m.cfg.Language,
		GreetingTemplate:      m.cfg.GreetingTemplate,
	})
	if err != nil {
		return nil, &SessionCreationError{Stage: "backend", Err: err}
	}
	agent := resp.Session.Agent()
	if resp.Token == "" || agent == "" {
		return nil, &SessionCreationError{Stage: "backend", Err: backend.ErrIncompleteSession}
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	conn, httpResp, err := m.dialer.DialContext(dialCtx, m.cfg.StreamURL, nil)
	if err != nil {
		if httpResp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", httpResp.StatusCode, err)
		}
		return nil, &SessionCreationError{Stage: "dial", Err: err}
	}

	id := m.newID()
	start := sessionStartFrame{
		Type:  typeSessionStart,
		Token: resp.Token,
		Session: startConfig{
			ID:                  id,
			Agent:               agent,
			KnowledgeBase:       resp.Session.KnowledgeBase,
			Language:            firstNonEmpty(resp.Session.Language, m.cfg.Language),
			Quality:             firstNonEmpty(resp.Session.Quality, m.cfg.Quality),
			ActivityIdleTimeout: resp.Session.ActivityIdleTimeout,
			VoiceChatTransport:  resp.Session.VoiceChatTransport,
			Voice:               voiceConfig{ID: m.cfg.Voice.ID, Rate: m.cfg.Voice.Speed},
			Greeting:            resp.Greeting,
		},
	}

	session := newSession(conn, sessionInfo{
		ID:        id,
		ProfileID: profile,
		UserName:  user,
		Agent:     agent,
		Greeting:  resp.Greeting,
		Config:    resp.Session,
	}, m.cfg.Target, m.logger)

	if err := session.writeJSON(ctx, start); err != nil {
		_ = conn.Close()
		return nil, &SessionCreationError{Stage: "start", Err: err}
	}
	go session.readLoop()

	if m.logger != nil {
		m.logger.Info("avatar session opened",
			"session_id", id,
			"profile", profile,
			"agent", agent,
		)
	}
	return session, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
