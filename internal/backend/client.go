// Package backend is the HTTP client for the consultation backend: session
// tokens, audio transcription, patient lookup and transcript summaries.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 4 << 10

// ErrIncompleteSession reports a session response without token or agent identity.
var ErrIncompleteSession = errors.New("incomplete session response")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// Client talks JSON to the backend API rooted at a base URL.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// New builds a client. timeout bounds every request; logger may be nil.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("backend url %q must include scheme and host", baseURL)
	}
	return &Client{
		base:   parsed,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// SessionRequest asks the backend for a streaming token and agent configuration.
type SessionRequest struct {
	ProfileID             string `json:"profile_id"`
	UserName              string `json:"user_name"`
	DeterministicGreeting bool   `json:"deterministic_greeting"`
	Language              string `json:"language,omitempty"`
	GreetingTemplate      string `json:"greeting_template,omitempty"`
}

// SessionConfig is the avatar configuration chosen by the backend.
type SessionConfig struct {
	AgentName           string `json:"agentName,omitempty"`
	AvatarName          string `json:"avatarName,omitempty"`
	KnowledgeBase       string `json:"knowledgeBase,omitempty"`
	Language            string `json:"language,omitempty"`
	Quality             string `json:"quality,omitempty"`
	ActivityIdleTimeout int    `json:"activityIdleTimeout,omitempty"`
	VoiceChatTransport  string `json:"voiceChatTransport,omitempty"`
}

// Agent returns the agent identity, preferring agentName over avatarName.
func (c SessionConfig) Agent() string {
	if name := strings.TrimSpace(c.AgentName); name != "" {
		return name
	}
	return strings.TrimSpace(c.AvatarName)
}

// SessionResponse carries the streaming token and session configuration.
type SessionResponse struct {
	Token    string        `json:"token"`
	Session  SessionConfig `json:"session"`
	Greeting string        `json:"greeting,omitempty"`
}

// OpenSession requests a new streaming session. A response without token or
// agent identity fails with ErrIncompleteSession.
func (c *Client) OpenSession(ctx context.Context, req SessionRequest) (SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/session", req, &resp); err != nil {
		return SessionResponse{}, err
	}
	switch {
	case strings.TrimSpace(resp.Token) == "":
		return SessionResponse{}, fmt.Errorf("%w: missing token", ErrIncompleteSession)
	case resp.Session.Agent() == "":
		return SessionResponse{}, fmt.Errorf("%w: missing agent identity", ErrIncompleteSession)
	}
	return resp, nil
}

// ProcessAudioRequest posts one base64 WAV window with its conversation context.
type ProcessAudioRequest struct {
	AudioData      string `json:"audio_data"`
	PatientContext string `json:"patient_context"`
}

// ProcessAudioResponse is the transcription result. Success false means the
// backend could not produce text.
type ProcessAudioResponse struct {
	TranscribedText string `json:"transcribed_text"`
	ProcessedText   string `json:"processed_text"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
}

// ProcessAudio sends audio for speech-to-text.
func (c *Client) ProcessAudio(ctx context.Context, req ProcessAudioRequest) (ProcessAudioResponse, error) {
	var resp ProcessAudioResponse
	if err := c.do(ctx, http.MethodPost, "/api/process-audio", req, &resp); err != nil {
		return ProcessAudioResponse{}, err
	}
	return resp, nil
}

// Health is the backend readiness report.
type Health struct {
	OK        bool     `json:"ok"`
	HasAPIKey bool     `json:"has_api_key"`
	Profiles  []string `json:"profiles"`
}

// Health fetches the backend readiness report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return Health{}, err
	}
	return resp, nil
}

// Profile is one avatar profile the backend can serve.
type Profile struct {
	ID        string `json:"id"`
	AgentName string `json:"agent_name"`
	AvatarID  string `json:"avatar_id"`
}

// Profiles lists avatar profiles.
func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	var resp []Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Patient is the participant record resolved from a uid.
type Patient struct {
	Name   string `json:"name"`
	Doctor string `json:"doctor"`
}

// LookupPatient resolves a participant uid.
func (c *Client) LookupPatient(ctx context.Context, uid string) (Patient, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Patient{}, errors.New("patient uid is required")
	}
	var resp Patient
	if err := c.do(ctx, http.MethodGet, "/api/patient/"+url.PathEscape(uid), nil, &resp); err != nil {
		return Patient{}, err
	}
	return resp, nil
}

// SummaryRequest posts a finished transcript for summarization.
type SummaryRequest struct {
	Transcript  string    `json:"transcript"`
	StartTime   time.Time `json:"start_time"`
	CurrentTime time.Time `json:"current_time"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	UID         string    `json:"uid,omitempty"`
	DoctorName  string    `json:"doctor_name"`
	UserName    string    `json:"user_name"`
}

// Summarize returns the backend summary of a transcript.
func (c *Client) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/summarize-transcript", req, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// do issues one JSON request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method string, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	endpoint := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if c.logger != nil {
		c.logger.Debug("backend request",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
