// Package indicator renders conversation state as status lines, desktop
// notifications and audio cues.
package indicator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/consult/internal/config"
	"github.com/rbright/consult/internal/fsm"
)

const (
	dispatchTimeout  = 400 * time.Millisecond
	desktopQueueSize = 16
)

var errDesktopQueueFull = errors.New("desktop notification queue full")

// Status is the subset of controller state the indicator renders.
type Status struct {
	State         fsm.State
	Agent         string
	Muted         bool
	MutePending   bool
	Transcription bool
	Notice        string
}

// Notifier turns status updates into output. It is safe for concurrent use.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	out      io.Writer
	messages messages

	mu             sync.Mutex
	last           Status
	lastLine       string
	notificationID uint32
	closed         bool
	soundMu        sync.Mutex

	// desktop jobs run in order on one worker so busctl never blocks Update.
	desktop     chan func()
	desktopDone chan struct{}
}

// NewNotifier writes status lines to out when it is non-nil.
func NewNotifier(cfg config.IndicatorConfig, out io.Writer, logger *slog.Logger) *Notifier {
	n := &Notifier{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		messages: indicatorMessagesFromEnv(),
		last:     Status{State: fsm.StateIdle},
	}
	if cfg.Enable && cfg.Desktop {
		n.desktop = make(chan func(), desktopQueueSize)
		n.desktopDone = make(chan struct{})
		go n.desktopLoop()
	}
	return n
}

// Close waits for queued desktop notifications. Later updates skip the desktop.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed || n.desktop == nil {
		n.closed = true
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.desktop)
	n.mu.Unlock()
	<-n.desktopDone
}

func (n *Notifier) desktopLoop() {
	defer close(n.desktopDone)
	for job := range n.desktop {
		job()
	}
}

func (n *Notifier) enqueueDesktop(ctx context.Context, fn func(context.Context) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.desktop == nil {
		return
	}
	select {
	case n.desktop <- func() { n.run(ctx, fn) }:
	default:
		n.log("indicator dispatch dropped", errDesktopQueueFull)
	}
}

// Update renders status if its line changed and plays the cue for the
// transition from the previous status.
func (n *Notifier) Update(ctx context.Context, status Status) {
	n.mu.Lock()
	prev := n.last
	n.last = status
	line := n.messages.line(status)
	changed := line != n.lastLine
	n.lastLine = line
	n.mu.Unlock()

	if kind, ok := cueFor(prev, status); ok {
		n.playCue(kind)
	}
	if !changed || !n.cfg.Enable {
		return
	}
	if n.out != nil {
		_, _ = fmt.Fprintln(n.out, line)
	}
	if !n.cfg.Desktop {
		return
	}
	if status.State == fsm.StateEnded || status.State == fsm.StateIdle {
		n.enqueueDesktop(ctx, n.dismissDesktop)
		return
	}
	n.enqueueDesktop(ctx, func(ctx context.Context) error {
		return n.notifyDesktop(ctx, line)
	})
}

// cueFor picks the audio cue for a status change.
func cueFor(prev Status, next Status) (cueKind, bool) {
	switch {
	case next.State == fsm.StateEnded && prev.State.Active():
		return cueEnd, true
	case prev.State == fsm.StateConnecting && next.State.Streaming():
		return cueConnect, true
	case !prev.State.Streaming() || !next.State.Streaming():
		return 0, false
	case !prev.Muted && next.Muted:
		return cueMute, true
	case prev.Muted && !next.Muted:
		return cueUnmute, true
	default:
		return 0, false
	}
}

func (n *Notifier) notifyDesktop(ctx context.Context, text string) error {
	n.mu.Lock()
	replaceID := n.notificationID
	n.mu.Unlock()

	appName := n.cfg.DesktopAppName
	if appName == "" {
		appName = "consult"
	}
	id, err := desktopNotify(ctx, appName, replaceID, text, 0)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.notificationID = id
	n.mu.Unlock()
	return nil
}

func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.notificationID
	n.notificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback off the caller's goroutine.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	go func() {
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		if err := emitCue(kind, n.cfg); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}()
}

func (n *Notifier) log(message string, err error) {
	if n.logger == nil || err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}
