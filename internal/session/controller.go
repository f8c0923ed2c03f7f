// Package session runs the conversation controller: one event loop owning the
// session lifecycle, turn-taking, mute arbitration and the transcript.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/consult/internal/fsm"
	"github.com/rbright/consult/internal/metrics"
	"github.com/rbright/consult/internal/transcript"
)

const eventQueueSize = 128

// Result summarizes one finished session.
type Result struct {
	SessionID     string
	Agent         string
	UserName      string
	ProfileID     string
	State         fsm.State
	Err           error
	CommitErr     error
	Turns         []transcript.Turn
	Transcript    string
	AudioDevice   string
	BytesCaptured int64
	StartedAt     time.Time
	ReadyAt       time.Time
	FinishedAt    time.Time
}

// Snapshot is the externally visible controller state.
type Snapshot struct {
	State         fsm.State
	Active        bool
	Muted         bool
	MuteIntent    *bool
	Transcription bool
	SessionID     string
	Agent         string
	UserName      string
	Notice        string
	Turns         int
}

func (s Snapshot) equal(o Snapshot) bool {
	if (s.MuteIntent == nil) != (o.MuteIntent == nil) {
		return false
	}
	if s.MuteIntent != nil && *s.MuteIntent != *o.MuteIntent {
		return false
	}
	s.MuteIntent, o.MuteIntent = nil, nil
	return s == o
}

// Observer receives a snapshot after every dispatch that changed it.
type Observer interface {
	Observe(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) Observe(s Snapshot) { f(s) }

// Options wires the controller collaborators. Opener and Microphone are required.
type Options struct {
	Logger          *slog.Logger
	Opener          Opener
	Microphone      Microphone
	Transcriber     Transcriber
	Committer       Committer
	Observer        Observer
	ResponseTimeout time.Duration
	// ExitOnEnd makes Run return once a started session has ended.
	ExitOnEnd bool
	Now       func() time.Time
}

// Controller owns all conversation state. Every mutation happens in Dispatch
// on the Run goroutine.
type Controller struct {
	logger          *slog.Logger
	opener          Opener
	mic             Microphone
	transcriber     Transcriber
	commit          Committer
	observer        Observer
	responseTimeout time.Duration
	exitOnEnd       bool
	now             func() time.Time

	events chan Event
	exited chan struct{}
	ctx    context.Context

	// loop-owned
	state             fsm.State
	active            bool
	finished          bool
	gen               int
	request           Start
	stream            Stream
	sessionID         string
	agent             string
	muted             bool
	muteIntent        *bool
	wantTranscription bool
	voiceChat         bool
	capture           Window
	window            int
	windowTranscribes bool
	awaiting          int
	speakSeq          int
	notice            string
	device            string
	bytes             int64
	startedAt         time.Time
	readyAt           time.Time
	transcript        *transcript.Assembler
	last              Result
	commitSeq         int
	commitDone        chan error

	snapMu sync.RWMutex
	snap   Snapshot
}

// NewController builds a controller in the idle state.
func NewController(opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Committer == nil {
		opts.Committer = CommitFunc(func(context.Context, string) error { return nil })
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Controller{
		logger:          opts.Logger,
		opener:          opts.Opener,
		mic:             opts.Microphone,
		transcriber:     opts.Transcriber,
		commit:          opts.Committer,
		observer:        opts.Observer,
		responseTimeout: opts.ResponseTimeout,
		exitOnEnd:       opts.ExitOnEnd,
		now:             now,
		events:          make(chan Event, eventQueueSize),
		exited:          make(chan struct{}),
		ctx:             context.Background(),
		state:           fsm.StateIdle,
		transcript:      transcript.NewAssembler(now),
	}
	c.snap = c.snapshot()
	return c
}

// Post queues an event for the loop. It fails once Run has exited.
func (c *Controller) Post(event Event) error {
	select {
	case <-c.exited:
		return ErrNotRunning
	default:
	}
	select {
	case c.events <- event:
		return nil
	case <-c.exited:
		return ErrNotRunning
	}
}

// post is used by background work; it drops the event once Run has exited.
func (c *Controller) post(event Event) {
	_ = c.Post(event)
}

// Run dispatches events until ctx ends, or until a session ends when
// ExitOnEnd is set. An active session is torn down before Run returns.
func (c *Controller) Run(ctx context.Context) Result {
	c.ctx = ctx
	defer close(c.exited)

	for {
		select {
		case <-ctx.Done():
			c.end(fsm.EventStop, ctx.Err(), "")
			c.publish()
			c.awaitCommit()
			return c.last
		case event := <-c.events:
			c.Dispatch(event)
			if c.exitOnEnd && c.finished {
				c.awaitCommit()
				return c.last
			}
		}
	}
}

// Dispatch applies one event. It must only be called from the Run goroutine,
// or from tests driving the controller without Run.
func (c *Controller) Dispatch(event Event) {
	switch e := event.(type) {
	case Start:
		c.handleStart(e)
	case Stop:
		c.end(fsm.EventStop, nil, "Session ended")
	case ToggleMute:
		c.handleToggleMute()
	case ToggleTranscription:
		c.wantTranscription = !c.wantTranscription
		if c.wantTranscription {
			c.notice = "Transcription on"
		} else {
			c.notice = "Transcription off"
		}
	case opened:
		c.handleOpened(e)
	case remoteEvent:
		c.handleRemote(e)
	case chunkCaptured:
		c.handleChunk(e)
	case speechDetected:
		c.handleSpeech(e)
	case transcribed:
		c.handleTranscribed(e)
	case spoke:
		c.handleSpoke(e)
	case responseTimedOut:
		c.handleResponseTimeout(e)
	case committed:
		c.handleCommitted(e)
	default:
		c.logger.Warn("unknown controller event", "event", fmt.Sprintf("%T", event))
	}
	c.publish()
}

// State returns the current conversation state.
func (c *Controller) State() fsm.State {
	return c.Snapshot().State
}

// Snapshot returns the last published snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Turns returns a copy of the running transcript.
func (c *Controller) Turns() []transcript.Turn {
	return c.transcript.Turns()
}

// RenderTranscript formats the running transcript with display names.
func (c *Controller) RenderTranscript() string {
	snap := c.Snapshot()
	return transcript.Render(c.transcript.Turns(), speakerNames(snap.UserName, snap.Agent))
}

func speakerNames(user string, agent string) map[transcript.Speaker]string {
	names := map[transcript.Speaker]string{}
	if user != "" {
		names[transcript.SpeakerParticipant] = user
	}
	if agent != "" {
		names[transcript.SpeakerAgent] = agent
	}
	return names
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		State:         c.state,
		Active:        c.active,
		Muted:         c.muted,
		Transcription: c.wantTranscription,
		SessionID:     c.sessionID,
		Agent:         c.agent,
		UserName:      c.request.Request.UserName,
		Notice:        c.notice,
		Turns:         c.transcript.Len(),
	}
	if c.muteIntent != nil {
		intent := *c.muteIntent
		snap.MuteIntent = &intent
	}
	return snap
}

func (c *Controller) publish() {
	snap := c.snapshot()
	c.snapMu.Lock()
	changed := !snap.equal(c.snap)
	c.snap = snap
	c.snapMu.Unlock()
	if changed && c.observer != nil {
		c.observer.Observe(snap)
	}
}

// transition applies one FSM event and records it.
func (c *Controller) transition(event fsm.Event) bool {
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.logger.Debug("transition rejected", "state", string(c.state), "event", string(event), "error", err.Error())
		return false
	}
	if next != c.state {
		metrics.Transition(string(c.state), string(next))
		c.logger.Debug("state transition", "from", string(c.state), "to", string(next), "event", string(event))
	}
	c.state = next
	return true
}
