package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rbright/consult/internal/audio"
	"github.com/rbright/consult/internal/avatar"
	"github.com/rbright/consult/internal/fsm"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type fakeStream struct {
	id    string
	agent string

	mu         sync.Mutex
	events     chan avatar.Event
	closed     bool
	closes     int
	spoken     []string
	audioBytes int
	voiceChat  []bool
	voiceStops int
	speakErr   error
}

func newFakeStream(id string) *fakeStream {
	return &fakeStream{id: id, agent: "Dexter", events: make(chan avatar.Event, 64)}
}

func (s *fakeStream) ID() string                  { return s.id }
func (s *fakeStream) Agent() string               { return s.agent }
func (s *fakeStream) Events() <-chan avatar.Event { return s.events }

func (s *fakeStream) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return s.speakErr
}

func (s *fakeStream) StartVoiceChat(_ context.Context, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceChat = append(s.voiceChat, muted)
	return nil
}

func (s *fakeStream) StopVoiceChat(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceStops++
	return nil
}

func (s *fakeStream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioBytes += len(chunk)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// emit delivers event unless the stream was closed.
func (s *fakeStream) emit(event avatar.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- event
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeStream) spokenText() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func (s *fakeStream) sentAudio() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioBytes
}

func (s *fakeStream) voiceChatStops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceStops
}

func (s *fakeStream) voiceChatStarts() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.voiceChat...)
}

type fakeOpener struct {
	mu       sync.Mutex
	streams  []*fakeStream
	err      error
	gate     chan struct{}
	requests []avatar.OpenRequest
}

func (o *fakeOpener) Open(ctx context.Context, req avatar.OpenRequest) (Stream, error) {
	if o.gate != nil {
		select {
		case <-o.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	if o.err != nil {
		return nil, o.err
	}
	if len(o.streams) == 0 {
		return nil, errors.New("no stream prepared")
	}
	stream := o.streams[0]
	o.streams = o.streams[1:]
	return stream, nil
}

func (o *fakeOpener) calls() []avatar.OpenRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]avatar.OpenRequest(nil), o.requests...)
}

type fakeWindow struct {
	mu      sync.Mutex
	chunks  chan []byte
	speech  chan audio.SpeechEvent
	payload audio.Payload
	stopped bool
	stops   int
}

func newFakeWindow() *fakeWindow {
	return &fakeWindow{
		chunks: make(chan []byte, 16),
		speech: make(chan audio.SpeechEvent, 16),
		payload: audio.Payload{
			Chunks:     [][]byte{make([]byte, 640)},
			SampleRate: audio.SampleRate,
			Channels:   audio.Channels,
		},
	}
}

func (w *fakeWindow) Chunks() <-chan []byte            { return w.chunks }
func (w *fakeWindow) Speech() <-chan audio.SpeechEvent { return w.speech }
func (w *fakeWindow) Device() audio.Device {
	return audio.Device{ID: "mic-1", Description: "Test Mic", Available: true}
}

func (w *fakeWindow) Stop() (audio.Payload, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
	if w.stopped {
		return audio.Payload{}, nil
	}
	w.stopped = true
	close(w.chunks)
	close(w.speech)
	return w.payload, nil
}

func (w *fakeWindow) sendChunk(chunk []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.chunks <- chunk
	}
}

func (w *fakeWindow) endSpeech() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.speech <- audio.SpeechEvent{Kind: audio.SpeechEnded}
	}
}

func (w *fakeWindow) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

type fakeMic struct {
	mu      sync.Mutex
	err     error
	windows []*fakeWindow
}

func (m *fakeMic) StartCapture(context.Context) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	w := newFakeWindow()
	m.windows = append(m.windows, w)
	return w, nil
}

func (m *fakeMic) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *fakeMic) latest() *fakeWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.windows) == 0 {
		return nil
	}
	return m.windows[len(m.windows)-1]
}

type fakeTranscriber struct {
	mu       sync.Mutex
	text     string
	err      error
	contexts []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ audio.Payload, patientContext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts = append(f.contexts, patientContext)
	return f.text, f.err
}

func (f *fakeTranscriber) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.contexts...)
}

// gatedTranscriber holds every call until release is closed.
type gatedTranscriber struct {
	text    string
	release chan struct{}
	started chan struct{}
	done    chan struct{}
}

func newGatedTranscriber(text string) *gatedTranscriber {
	return &gatedTranscriber{
		text:    text,
		release: make(chan struct{}),
		started: make(chan struct{}, 8),
		done:    make(chan struct{}, 8),
	}
}

func (g *gatedTranscriber) Transcribe(context.Context, audio.Payload, string) (string, error) {
	g.started <- struct{}{}
	<-g.release
	g.done <- struct{}{}
	return g.text, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	ctrl   *Controller
	opener *fakeOpener
	mic    *fakeMic
	logs   *syncBuffer
	cancel context.CancelFunc
	done   chan Result
}

// startHarness runs a controller over fakes. tweak may adjust options first.
func startHarness(t *testing.T, opener *fakeOpener, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{opener: opener, mic: &fakeMic{}, logs: &syncBuffer{}, done: make(chan Result, 1)}
	opts := Options{
		Logger:     slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Opener:     opener,
		Microphone: h.mic,
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.ctrl = NewController(opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() { _ = h.stop(t) })
	return h
}

// stop cancels Run and returns its result.
func (h *harness) stop(t *testing.T) Result {
	t.Helper()
	h.cancel()
	select {
	case result, ok := <-h.done:
		if ok {
			close(h.done)
		}
		return result
	case <-time.After(waitTimeout):
		t.Fatal("controller did not exit")
		return Result{}
	}
}

func (h *harness) post(t *testing.T, event Event) {
	t.Helper()
	require.NoError(t, h.ctrl.Post(event))
}

func (h *harness) waitState(t *testing.T, want fsm.State) {
	t.Helper()
	h.waitFor(t, "state "+string(want), func(s Snapshot) bool { return s.State == want })
}

func (h *harness) waitFor(t *testing.T, what string, cond func(Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.ctrl.Snapshot()) }, waitTimeout, 5*time.Millisecond,
		"waiting for %s; last snapshot %+v", what, h.ctrl.Snapshot())
}

// connect starts alpha/Jane on stream and waits for Listening (or Muted).
func (h *harness) connect(t *testing.T, stream *fakeStream, start Start) {
	t.Helper()
	if start.Request.ProfileID == "" {
		start.Request = avatar.OpenRequest{ProfileID: "alpha", UserName: "Jane"}
	}
	h.post(t, start)
	h.waitFor(t, "stream bound", func(s Snapshot) bool { return s.SessionID == stream.id })
	stream.emit(avatar.StreamReady{StreamID: "media-" + stream.id})
	h.waitState(t, fsm.Resting(start.Muted))
}
