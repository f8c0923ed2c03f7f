package session

import (
	"errors"
	"time"

	"github.com/rbright/consult/internal/audio"
	"github.com/rbright/consult/internal/avatar"
	"github.com/rbright/consult/internal/bridge"
	"github.com/rbright/consult/internal/fsm"
	"github.com/rbright/consult/internal/metrics"
	"github.com/rbright/consult/internal/transcript"
)

func (c *Controller) handleRemote(e remoteEvent) {
	if e.gen != c.gen || !c.active {
		return
	}

	switch ev := e.event.(type) {
	case avatar.StreamReady:
		if c.state != fsm.StateConnecting {
			return
		}
		c.transition(fsm.EventReady)
		c.readyAt = c.now()
		metrics.SessionOpened(c.readyAt.Sub(c.startedAt))
		c.logger.Info("session ready",
			"session_id", c.sessionID,
			"stream_id", ev.StreamID,
			"open_ms", c.readyAt.Sub(c.startedAt).Milliseconds(),
		)
		c.notice = ""
		c.settle()
	case avatar.AgentSpeechStarted:
		switch c.state {
		case fsm.StateListening, fsm.StateProcessing, fsm.StateMuted:
			c.speakSeq++
			c.transition(fsm.EventAgentStart)
			c.notice = ""
			c.syncCapture()
		}
	case avatar.AgentSpeechEnded:
		if c.state != fsm.StateSpeaking {
			return
		}
		c.transition(fsm.EventAgentEnd)
		if c.muteIntent != nil {
			c.muted = *c.muteIntent
			c.muteIntent = nil
			c.logger.Info("deferred mute applied", "session_id", c.sessionID, "muted", c.muted)
		}
		c.settle()
	case avatar.ParticipantSpeechStarted:
		c.logger.Debug("remote participant speech started", "session_id", c.sessionID)
	case avatar.ParticipantSpeechEnded:
		if c.state != fsm.StateListening || c.windowTranscribes {
			return
		}
		c.transition(fsm.EventSpeechEnd)
		c.syncCapture()
		c.armResponseTimeout()
	case avatar.ParticipantUtterance:
		c.appendTurn(transcript.SpeakerParticipant, ev.Text)
	case avatar.AgentUtterance:
		c.appendTurn(transcript.SpeakerAgent, ev.Text)
	case avatar.Disconnected:
		if ev.Local {
			return
		}
		c.logger.Warn("remote disconnect", "session_id", c.sessionID, "reason", ev.Reason)
		c.end(fsm.EventDisconnect, remoteDisconnect(ev.Reason, ev.Err), "Disconnected")
	}
}

func (c *Controller) appendTurn(speaker transcript.Speaker, text string) {
	before := c.transcript.Len()
	if !c.transcript.Append(speaker, text) {
		return
	}
	if c.transcript.Len() > before {
		metrics.Turn(string(speaker))
	}
}

// settle moves a streaming session to its resting state for the current mute
// flag and restarts capture when listening.
func (c *Controller) settle() {
	switch {
	case c.muted && c.state == fsm.StateListening:
		c.transition(fsm.EventMute)
	case !c.muted && c.state == fsm.StateMuted:
		c.transition(fsm.EventUnmute)
	}
	c.syncCapture()
}

// syncCapture keeps capture running exactly while the state is Listening.
func (c *Controller) syncCapture() {
	switch {
	case c.state == fsm.StateListening && c.capture == nil:
		c.startWindow()
	case c.state != fsm.StateListening && c.capture != nil:
		c.stopWindow()
	}
}

func (c *Controller) startWindow() {
	if c.mic == nil {
		return
	}
	transcribes := c.wantTranscription && c.transcriber != nil

	capture, err := c.mic.StartCapture(c.ctx)
	if err != nil {
		c.notice = "Microphone unavailable"
		if errors.Is(err, audio.ErrMicrophoneUnavailable) {
			c.logger.Error("microphone unavailable", "session_id", c.sessionID, "error", err.Error())
		} else {
			c.logger.Error("start capture failed", "session_id", c.sessionID, "error", err.Error())
		}
		return
	}

	c.window++
	c.capture = capture
	c.windowTranscribes = transcribes
	c.device = capture.Device().String()

	switch {
	case !transcribes && !c.voiceChat && c.stream != nil:
		if err := c.stream.StartVoiceChat(c.ctx, c.muted); err != nil {
			c.logger.Warn("start voice chat failed", "session_id", c.sessionID, "error", err.Error())
		} else {
			c.voiceChat = true
		}
	case transcribes && c.voiceChat && c.stream != nil:
		if err := c.stream.StopVoiceChat(c.ctx); err != nil {
			c.logger.Warn("stop voice chat failed", "session_id", c.sessionID, "error", err.Error())
		}
		c.voiceChat = false
	}

	gen, window := c.gen, c.window
	chunks, speech := capture.Chunks(), capture.Speech()
	go func() {
		for chunk := range chunks {
			c.post(chunkCaptured{gen: gen, window: window, chunk: chunk})
		}
	}()
	go func() {
		for event := range speech {
			c.post(speechDetected{gen: gen, window: window, kind: event.Kind})
		}
	}()
	c.logger.Debug("capture window started", "session_id", c.sessionID, "window", window, "transcription", transcribes)
}

// stopWindow ends the current window and discards its payload.
func (c *Controller) stopWindow() {
	_, _ = c.finishWindow()
}

// finishWindow stops capture and returns the window payload.
func (c *Controller) finishWindow() (audio.Payload, bool) {
	if c.capture == nil {
		return audio.Payload{}, false
	}
	capture := c.capture
	c.capture = nil
	payload, err := capture.Stop()
	if err != nil {
		c.logger.Warn("stop capture failed", "session_id", c.sessionID, "error", err.Error())
		return audio.Payload{}, false
	}
	return payload, true
}

func (c *Controller) handleChunk(e chunkCaptured) {
	if e.gen != c.gen || e.window != c.window || c.capture == nil {
		return
	}
	c.bytes += int64(len(e.chunk))
	metrics.CaptureBytes(int64(len(e.chunk)))
	if c.windowTranscribes || c.stream == nil {
		return
	}
	if err := c.stream.SendAudio(e.chunk); err != nil {
		c.logger.Warn("send audio failed", "session_id", c.sessionID, "error", err.Error())
	}
}

// handleSpeech ends a transcription window on local end of speech.
func (c *Controller) handleSpeech(e speechDetected) {
	if e.gen != c.gen || e.window != c.window || !c.windowTranscribes {
		return
	}
	if e.kind != audio.SpeechEnded || c.state != fsm.StateListening {
		return
	}
	c.transition(fsm.EventSpeechEnd)
	payload, ok := c.finishWindow()
	if !ok || payload.Empty() {
		c.resume("")
		return
	}

	c.awaiting = e.window
	gen, window := c.gen, e.window
	ctx := c.ctx
	patient := bridge.PatientContext(c.request.Request.UserName, c.agent)
	go func() {
		text, err := c.transcriber.Transcribe(ctx, payload, patient)
		c.post(transcribed{gen: gen, window: window, text: text, err: err})
	}()
}

func (c *Controller) handleTranscribed(e transcribed) {
	if e.gen != c.gen || e.window != c.awaiting || c.state != fsm.StateProcessing {
		c.logger.Debug("dropping stale transcription", "window", e.window)
		return
	}
	c.awaiting = 0

	if e.err != nil {
		if errors.Is(e.err, bridge.ErrTranscription) {
			c.logger.Warn("transcription failed", "session_id", c.sessionID, "error", e.err.Error())
		} else {
			c.logger.Error("transcription failed", "session_id", c.sessionID, "error", e.err.Error())
		}
		c.resume("Didn't catch that")
		return
	}
	if e.text == "" {
		c.resume("")
		return
	}

	c.appendTurn(transcript.SpeakerParticipant, e.text)
	c.speakSeq++
	gen, seq := c.gen, c.speakSeq
	stream, ctx, text := c.stream, c.ctx, e.text
	go func() {
		c.post(spoke{gen: gen, seq: seq, err: stream.Speak(ctx, text)})
	}()
	c.armResponseTimeout()
}

func (c *Controller) handleSpoke(e spoke) {
	if e.err == nil {
		return
	}
	if e.gen != c.gen || e.seq != c.speakSeq || c.state != fsm.StateProcessing {
		return
	}
	c.logger.Warn("forwarding text to agent failed", "session_id", c.sessionID, "error", e.err.Error())
	c.resume("Agent did not receive that")
}

// armResponseTimeout resumes listening if the agent never starts speaking.
func (c *Controller) armResponseTimeout() {
	if c.responseTimeout <= 0 {
		return
	}
	gen, seq := c.gen, c.speakSeq
	time.AfterFunc(c.responseTimeout, func() {
		c.post(responseTimedOut{gen: gen, seq: seq})
	})
}

func (c *Controller) handleResponseTimeout(e responseTimedOut) {
	if e.gen != c.gen || e.seq != c.speakSeq || c.state != fsm.StateProcessing {
		return
	}
	c.logger.Warn("agent response timed out", "session_id", c.sessionID, "timeout_ms", c.responseTimeout.Milliseconds())
	c.resume("")
}

// resume returns from Processing to the resting state.
func (c *Controller) resume(notice string) {
	if !c.transition(fsm.EventResume) {
		return
	}
	c.notice = notice
	c.settle()
}

// handleToggleMute applies a mute toggle, or stores it while the agent speaks.
func (c *Controller) handleToggleMute() {
	switch c.state {
	case fsm.StateSpeaking:
		next := !c.muted
		if c.muteIntent != nil {
			next = !*c.muteIntent
		}
		c.muteIntent = &next
		c.logger.Info("mute deferred until agent finishes", "session_id", c.sessionID, "muted", next)
	case fsm.StateListening, fsm.StateMuted:
		c.muted = !c.muted
		c.settle()
	case fsm.StateProcessing:
		c.muted = !c.muted
		if c.muted {
			c.transition(fsm.EventMute)
		} else {
			c.transition(fsm.EventUnmute)
		}
	case fsm.StateConnecting:
		c.muted = !c.muted
	default:
		c.logger.Debug("mute toggle ignored", "state", string(c.state))
	}
}
