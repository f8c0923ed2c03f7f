package session

import (
	"context"
	"errors"
	"time"

	"github.com/rbright/consult/internal/fsm"
	"github.com/rbright/consult/internal/metrics"
	"github.com/rbright/consult/internal/transcript"
)

const commitTimeout = 5 * time.Second

// handleStart opens a session. A start while one is active is a no-op.
func (c *Controller) handleStart(e Start) {
	if c.active {
		c.logger.Info("session already active; start ignored", "session_id", c.sessionID, "state", string(c.state))
		return
	}
	if !c.transition(fsm.EventOpen) {
		return
	}

	c.gen++
	c.active = true
	c.finished = false
	c.request = e
	c.sessionID = ""
	c.agent = ""
	c.muted = e.Muted
	c.muteIntent = nil
	c.wantTranscription = e.Transcription
	c.voiceChat = false
	c.notice = "Connecting…"
	c.device = ""
	c.bytes = 0
	c.startedAt = c.now()
	c.readyAt = time.Time{}
	c.transcript.Reset()

	c.logger.Info("opening session",
		"profile", e.Request.ProfileID,
		"user", e.Request.UserName,
		"transcription", e.Transcription,
		"muted", e.Muted,
	)

	gen := c.gen
	ctx := c.ctx
	go func() {
		stream, err := c.opener.Open(ctx, e.Request)
		if c.Post(opened{gen: gen, stream: stream, err: err}) != nil && stream != nil {
			_ = stream.Close()
		}
	}()
}

// handleOpened binds the stream or ends the session on failure.
func (c *Controller) handleOpened(e opened) {
	if e.gen != c.gen || c.state != fsm.StateConnecting {
		if e.stream != nil {
			_ = e.stream.Close()
		}
		return
	}
	if e.err != nil {
		metrics.SessionFailed()
		c.logger.Error("session creation failed", "error", e.err.Error())
		c.end(fsm.EventFail, e.err, "Unable to start session")
		return
	}

	c.stream = e.stream
	c.sessionID = e.stream.ID()
	c.agent = e.stream.Agent()
	c.logger.Info("session stream opened", "session_id", c.sessionID, "agent", c.agent)

	gen := e.gen
	events := e.stream.Events()
	go func() {
		for event := range events {
			c.post(remoteEvent{gen: gen, event: event})
		}
	}()
}

// end moves the active session to Ended and tears it down exactly once.
func (c *Controller) end(event fsm.Event, cause error, notice string) {
	if !c.active {
		return
	}
	c.transition(event)
	c.active = false
	c.finished = true
	c.gen++
	c.muteIntent = nil
	c.speakSeq++
	if notice != "" {
		c.notice = notice
	}

	payloadDevice := c.device
	c.stopWindow()
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			c.logger.Warn("closing session stream failed", "session_id", c.sessionID, "error", err.Error())
		}
		c.stream = nil
		if !c.readyAt.IsZero() {
			metrics.SessionClosed()
		}
	}

	turns := c.transcript.Turns()
	rendered := transcript.Render(turns, speakerNames(c.request.Request.UserName, c.agent))
	result := Result{
		SessionID:     c.sessionID,
		Agent:         c.agent,
		UserName:      c.request.Request.UserName,
		ProfileID:     c.request.Request.ProfileID,
		State:         c.state,
		Err:           cause,
		Turns:         turns,
		Transcript:    rendered,
		AudioDevice:   payloadDevice,
		BytesCaptured: c.bytes,
		StartedAt:     c.startedAt,
		ReadyAt:       c.readyAt,
		FinishedAt:    c.now(),
	}

	c.last = result
	if rendered != "" {
		c.startCommit(rendered)
	}

	msg := "session ended"
	if cause != nil && !errors.Is(cause, context.Canceled) {
		c.logger.Error(msg, "session_id", c.sessionID, "state", string(c.state), "error", cause.Error(), "turns", len(turns))
		return
	}
	c.logger.Info(msg, "session_id", c.sessionID, "state", string(c.state), "turns", len(turns))
}

// startCommit exports the transcript off the loop. The outcome lands in the
// last Result through a committed event, or through awaitCommit when Run is
// returning.
func (c *Controller) startCommit(rendered string) {
	c.commitSeq++
	seq := c.commitSeq
	done := make(chan error, 1)
	c.commitDone = done
	ctx := context.WithoutCancel(c.ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, commitTimeout)
		err := c.commit.Commit(ctx, rendered)
		cancel()
		done <- err
		c.post(committed{seq: seq, err: err})
	}()
}

func (c *Controller) handleCommitted(e committed) {
	if e.seq != c.commitSeq || c.commitDone == nil {
		return
	}
	c.commitDone = nil
	c.recordCommit(e.err)
}

// awaitCommit blocks until an in-flight commit finishes. Called only as Run
// returns, so the commit is bounded by commitTimeout.
func (c *Controller) awaitCommit() {
	if c.commitDone == nil {
		return
	}
	err := <-c.commitDone
	c.commitDone = nil
	c.recordCommit(err)
}

func (c *Controller) recordCommit(err error) {
	c.last.CommitErr = err
	if err != nil {
		c.logger.Warn("transcript commit failed", "session_id", c.last.SessionID, "error", err.Error())
	}
}
