package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbright/consult/internal/audio"
	"github.com/rbright/consult/internal/avatar"
	"github.com/rbright/consult/internal/backend"
	"github.com/rbright/consult/internal/bridge"
	"github.com/rbright/consult/internal/fsm"
	"github.com/stretchr/testify/require"
)

func TestStartConnectsThenListens(t *testing.T) {
	stream := newFakeStream("session-1")
	opener := &fakeOpener{streams: []*fakeStream{stream}, gate: make(chan struct{})}

	var mu sync.Mutex
	var seen []fsm.State
	h := startHarness(t, opener, func(o *Options) {
		o.Observer = ObserverFunc(func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			if len(seen) == 0 || seen[len(seen)-1] != s.State {
				seen = append(seen, s.State)
			}
		})
	})
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	h.post(t, Start{Request: avatar.OpenRequest{ProfileID: "alpha", UserName: "Jane"}})
	h.waitState(t, fsm.StateConnecting)
	require.Zero(t, h.mic.count(), "capture must not run while connecting")

	close(opener.gate)
	h.waitFor(t, "stream bound", func(s Snapshot) bool { return s.SessionID == "session-1" })
	stream.emit(avatar.StreamReady{StreamID: "media-1"})
	h.waitState(t, fsm.StateListening)

	calls := opener.calls()
	require.Len(t, calls, 1)
	require.Equal(t, "alpha", calls[0].ProfileID)
	require.Equal(t, "Jane", calls[0].UserName)

	snap := h.ctrl.Snapshot()
	require.True(t, snap.Active)
	require.Equal(t, "Dexter", snap.Agent)
	require.Equal(t, "Jane", snap.UserName)
	require.Equal(t, 1, h.mic.count())

	mu.Lock()
	require.Equal(t, []fsm.State{fsm.StateConnecting, fsm.StateListening}, seen)
	mu.Unlock()
}

func TestStartWhileActiveIsIgnored(t *testing.T) {
	stream := newFakeStream("session-1")
	opener := &fakeOpener{streams: []*fakeStream{stream}}
	h := startHarness(t, opener, nil)
	h.connect(t, stream, Start{})

	h.post(t, Start{Request: avatar.OpenRequest{ProfileID: "beta", UserName: "Bob"}})
	h.post(t, ToggleTranscription{})
	h.waitFor(t, "later command applied", func(s Snapshot) bool { return s.Transcription })

	require.Len(t, opener.calls(), 1)
	require.Equal(t, "Jane", h.ctrl.Snapshot().UserName)
	require.Equal(t, fsm.StateListening, h.ctrl.State())
}

func TestOpenFailureEndsSession(t *testing.T) {
	cause := &avatar.SessionCreationError{Stage: "backend", Err: errors.New("503")}
	opener := &fakeOpener{err: cause}
	h := startHarness(t, opener, nil)

	h.post(t, Start{Request: avatar.OpenRequest{ProfileID: "alpha", UserName: "Jane"}})
	h.waitState(t, fsm.StateEnded)

	snap := h.ctrl.Snapshot()
	require.False(t, snap.Active)
	require.Equal(t, "Unable to start session", snap.Notice)
	require.Zero(t, h.mic.count())

	result := h.stop(t)
	require.ErrorIs(t, result.Err, avatar.ErrSessionCreation)
	require.Equal(t, fsm.StateEnded, result.State)
}

func TestRemoteUtterancesMergeIntoOneTurn(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, nil)
	h.connect(t, stream, Start{})

	stream.emit(avatar.ParticipantUtterance{Text: "Hello"})
	stream.emit(avatar.ParticipantUtterance{Text: "there"})
	stream.emit(avatar.AgentUtterance{Text: "Hi Jane ."})
	stream.emit(avatar.AgentUtterance{Text: "  "})
	h.waitFor(t, "two turns", func(s Snapshot) bool { return s.Turns == 2 })

	turns := h.ctrl.Turns()
	require.Equal(t, "Hello there", turns[0].Text)
	require.Equal(t, "Hi Jane.", turns[1].Text)
	require.Equal(t, "Jane: Hello there\nDexter: Hi Jane.", h.ctrl.RenderTranscript())
}

func TestTranscribedTextIsForwardedToAgent(t *testing.T) {
	stream := newFakeStream("session-1")
	transcriber := &fakeTranscriber{text: "I have a headache"}
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, func(o *Options) {
		o.Transcriber = transcriber
	})
	h.connect(t, stream, Start{Transcription: true})
	require.Empty(t, stream.voiceChatStarts(), "transcription mode keeps remote voice chat off")

	window := h.mic.latest()
	window.sendChunk(make([]byte, 320))
	window.endSpeech()
	h.waitState(t, fsm.StateProcessing)
	require.Eventually(t, func() bool { return len(stream.spokenText()) == 1 }, waitTimeout, 5*time.Millisecond)
	require.Equal(t, []string{"I have a headache"}, stream.spokenText())
	require.Equal(t, []string{"Patient: Jane, Doctor: Dexter"}, transcriber.calls())
	require.Zero(t, stream.sentAudio())
	require.True(t, window.isStopped())

	stream.emit(avatar.AgentSpeechStarted{})
	h.waitState(t, fsm.StateSpeaking)
	stream.emit(avatar.AgentUtterance{Text: "How long has it hurt?"})
	stream.emit(avatar.AgentSpeechEnded{})
	h.waitState(t, fsm.StateListening)
	require.Equal(t, 2, h.mic.count())

	require.Equal(t, "Jane: I have a headache\nDexter: How long has it hurt?", h.ctrl.RenderTranscript())
}

func TestTranscriptionFailureKeepsListening(t *testing.T) {
	stream := newFakeStream("session-1")
	processor := &failingProcessor{}
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, func(o *Options) {
		o.Transcriber = bridge.New(processor, bridge.Options{}, nil)
	})
	h.connect(t, stream, Start{Transcription: true})

	h.mic.latest().endSpeech()
	require.Eventually(t, func() bool {
		return processor.count() == 1 && h.mic.count() == 2 && h.ctrl.State() == fsm.StateListening
	}, waitTimeout, 5*time.Millisecond)

	snap := h.ctrl.Snapshot()
	require.Zero(t, snap.Turns)
	require.True(t, snap.Active)
	require.Equal(t, "Didn't catch that", snap.Notice)
	require.Empty(t, stream.spokenText())
	require.Contains(t, h.logs.String(), `"level":"WARN","msg":"transcription failed"`)
	require.Contains(t, h.logs.String(), "backend reported success=false")
}

type failingProcessor struct {
	mu    sync.Mutex
	calls int
}

func (p *failingProcessor) ProcessAudio(context.Context, backend.ProcessAudioRequest) (backend.ProcessAudioResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return backend.ProcessAudioResponse{Success: false}, nil
}

func (p *failingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestEmptyTranscriptionResumesWithoutTurn(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, func(o *Options) {
		o.Transcriber = &fakeTranscriber{}
	})
	h.connect(t, stream, Start{Transcription: true})

	h.mic.latest().endSpeech()
	require.Eventually(t, func() bool { return h.mic.count() == 2 }, waitTimeout, 5*time.Millisecond)
	h.waitState(t, fsm.StateListening)
	require.Zero(t, h.ctrl.Snapshot().Turns)
	require.Empty(t, stream.spokenText())
}

func TestDirectModeStreamsAudioToVoiceChat(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, nil)
	h.connect(t, stream, Start{})

	require.Equal(t, []bool{false}, stream.voiceChatStarts())
	window := h.mic.latest()
	window.sendChunk(make([]byte, 32000))
	window.sendChunk(make([]byte, 32000))
	require.Eventually(t, func() bool { return stream.sentAudio() == 64000 }, waitTimeout, 5*time.Millisecond)

	stream.emit(avatar.ParticipantSpeechEnded{})
	h.waitState(t, fsm.StateProcessing)
	require.True(t, window.isStopped())

	result := h.stop(t)
	require.Equal(t, int64(64000), result.BytesCaptured)
	require.Equal(t, "Test Mic (mic-1)", result.AudioDevice)
}

func TestResponseTimeoutResumesListening(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, func(o *Options) {
		o.ResponseTimeout = 100 * time.Millisecond
	})
	h.connect(t, stream, Start{})

	stream.emit(avatar.ParticipantSpeechEnded{})
	h.waitState(t, fsm.StateProcessing)
	h.waitState(t, fsm.StateListening)
	require.Equal(t, 2, h.mic.count())
}

func TestSpeakFailureResumesListening(t *testing.T) {
	stream := newFakeStream("session-1")
	stream.speakErr = errors.New("socket closed")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, func(o *Options) {
		o.Transcriber = &fakeTranscriber{text: "hello"}
	})
	h.connect(t, stream, Start{Transcription: true})

	h.mic.latest().endSpeech()
	h.waitFor(t, "speak failure notice", func(s Snapshot) bool {
		return s.State == fsm.StateListening && s.Notice == "Agent did not receive that"
	})
	require.Equal(t, 1, h.ctrl.Snapshot().Turns)
}

func TestMicrophoneUnavailableKeepsSessionOpen(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, nil)
	h.mic.err = &audio.MicrophoneUnavailableError{Device: "default", Err: errors.New("no such source")}
	h.connect(t, stream, Start{})

	snap := h.ctrl.Snapshot()
	require.True(t, snap.Active)
	require.Equal(t, "Microphone unavailable", snap.Notice)
	require.Zero(t, stream.closeCount())
	require.Contains(t, h.logs.String(), "microphone unavailable")

	stream.emit(avatar.AgentSpeechStarted{})
	h.waitState(t, fsm.StateSpeaking)
}

func TestMuteWhileSpeakingIsDeferredUntilAgentFinishes(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, nil)
	h.connect(t, stream, Start{})

	stream.emit(avatar.AgentSpeechStarted{})
	h.waitState(t, fsm.StateSpeaking)

	h.post(t, ToggleMute{})
	h.waitFor(t, "intent recorded", func(s Snapshot) bool { return s.MuteIntent != nil })
	snap := h.ctrl.Snapshot()
	require.Equal(t, fsm.StateSpeaking, snap.State)
	require.False(t, snap.Muted)
	require.True(t, *snap.MuteIntent)

	stream.emit(avatar.AgentSpeechEnded{})
	h.waitState(t, fsm.StateMuted)
	snap = h.ctrl.Snapshot()
	require.True(t, snap.Muted)
	require.Nil(t, snap.MuteIntent)
	require.Equal(t, 1, h.mic.count(), "muted sessions do not capture")
}

func TestLatestMuteIntentWins(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, nil)
	h.connect(t, stream, Start{})

	stream.emit(avatar.AgentSpeechStarted{})
	h.waitState(t, fsm.StateSpeaking)

	h.post(t, ToggleMute{})
	h.waitFor(t, "mute intent", func(s Snapshot) bool { return s.MuteIntent != nil && *s.MuteIntent })
	h.post(t, ToggleMute{})
	h.waitFor(t, "unmute intent", func(s Snapshot) bool { return s.MuteIntent != nil && !*s.MuteIntent })

	stream.emit(avatar.AgentSpeechEnded{})
	h.waitState(t, fsm.StateListening)
	snap := h.ctrl.Snapshot()
	require.False(t, snap.Muted)
	require.Nil(t, snap.MuteIntent)
	require.Equal(t, 2, h.mic.count())
}

func TestMuteToggleOutsideSpeakingAppliesImmediately(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, nil)
	h.connect(t, stream, Start{})
	first := h.mic.latest()

	h.post(t, ToggleMute{})
	h.waitState(t, fsm.StateMuted)
	require.True(t, first.isStopped())
	require.Nil(t, h.ctrl.Snapshot().MuteIntent)

	h.post(t, ToggleMute{})
	h.waitState(t, fsm.StateListening)
	require.Equal(t, 2, h.mic.count())
}

func TestStartMutedSettlesInMuted(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, nil)
	h.connect(t, stream, Start{Muted: true})

	require.True(t, h.ctrl.Snapshot().Muted)
	require.Zero(t, h.mic.count())
}

func TestRemoteDisconnectTearsDownOnce(t *testing.T) {
	tests := []struct {
		name  string
		start Start
		drive func(*testing.T, *harness, *fakeStream)
		from  fsm.State
	}{
		{name: "listening", from: fsm.StateListening},
		{name: "muted", start: Start{Muted: true}, from: fsm.StateMuted},
		{
			name: "speaking",
			from: fsm.StateSpeaking,
			drive: func(t *testing.T, h *harness, s *fakeStream) {
				s.emit(avatar.AgentSpeechStarted{})
				h.waitState(t, fsm.StateSpeaking)
				h.post(t, ToggleMute{})
				h.waitFor(t, "intent", func(s Snapshot) bool { return s.MuteIntent != nil })
			},
		},
		{
			name: "processing",
			from: fsm.StateProcessing,
			drive: func(t *testing.T, h *harness, s *fakeStream) {
				s.emit(avatar.ParticipantSpeechEnded{})
				h.waitState(t, fsm.StateProcessing)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stream := newFakeStream("session-1")
			var commits []string
			var mu sync.Mutex
			h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, func(o *Options) {
				o.Committer = CommitFunc(func(_ context.Context, text string) error {
					mu.Lock()
					defer mu.Unlock()
					commits = append(commits, text)
					return nil
				})
			})
			h.connect(t, stream, tc.start)
			stream.emit(avatar.ParticipantUtterance{Text: "my knee hurts"})
			h.waitFor(t, "turn", func(s Snapshot) bool { return s.Turns == 1 })
			if tc.drive != nil {
				tc.drive(t, h, stream)
			}
			require.Equal(t, tc.from, h.ctrl.State())

			stream.emit(avatar.Disconnected{Reason: "closed by remote"})
			h.waitState(t, fsm.StateEnded)
			h.post(t, Stop{})
			h.post(t, ToggleMute{})
			h.waitFor(t, "mute ignored", func(s Snapshot) bool { return s.State == fsm.StateEnded })

			snap := h.ctrl.Snapshot()
			require.False(t, snap.Active)
			require.Nil(t, snap.MuteIntent)
			require.Equal(t, "Disconnected", snap.Notice)

			result := h.stop(t)
			require.ErrorIs(t, result.Err, ErrRemoteDisconnect)
			require.Equal(t, 1, stream.closeCount())
			if w := h.mic.latest(); w != nil {
				require.True(t, w.isStopped())
			}
			mu.Lock()
			require.Equal(t, []string{"Jane: my knee hurts"}, commits)
			mu.Unlock()
		})
	}
}

func TestDisconnectWhileConnectingEndsSession(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, nil)

	h.post(t, Start{Request: avatar.OpenRequest{ProfileID: "alpha", UserName: "Jane"}})
	h.waitFor(t, "stream bound", func(s Snapshot) bool { return s.SessionID == "session-1" })
	stream.emit(avatar.Disconnected{Reason: "connection lost", Err: errors.New("eof")})
	h.waitState(t, fsm.StateEnded)

	require.Equal(t, 1, stream.closeCount())
	require.Zero(t, h.mic.count())
}

func TestSecondSessionAfterDisconnectStartsClean(t *testing.T) {
	first := newFakeStream("session-1")
	second := newFakeStream("session-2")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{first, second}}, nil)

	h.connect(t, first, Start{})
	first.emit(avatar.ParticipantUtterance{Text: "first visit"})
	first.emit(avatar.AgentSpeechStarted{})
	h.waitState(t, fsm.StateSpeaking)
	h.post(t, ToggleMute{})
	h.waitFor(t, "intent", func(s Snapshot) bool { return s.MuteIntent != nil })
	first.emit(avatar.Disconnected{Reason: "closed by remote"})
	h.waitState(t, fsm.StateEnded)

	h.connect(t, second, Start{Request: avatar.OpenRequest{ProfileID: "beta", UserName: "Bob"}})
	snap := h.ctrl.Snapshot()
	require.Equal(t, fsm.StateListening, snap.State)
	require.Equal(t, "session-2", snap.SessionID)
	require.Equal(t, "Bob", snap.UserName)
	require.False(t, snap.Muted)
	require.Nil(t, snap.MuteIntent)
	require.Zero(t, snap.Turns)
	require.Empty(t, h.ctrl.RenderTranscript())
	require.Zero(t, second.closeCount())
	require.Equal(t, 1, first.closeCount())

	second.emit(avatar.ParticipantUtterance{Text: "second visit"})
	h.waitFor(t, "turn", func(s Snapshot) bool { return s.Turns == 1 })
	require.Equal(t, "Bob: second visit", h.ctrl.RenderTranscript())
}

func TestStopCommitsTranscriptAndExits(t *testing.T) {
	stream := newFakeStream("session-1")
	committed := make(chan string, 1)
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, func(o *Options) {
		o.ExitOnEnd = true
		o.Committer = CommitFunc(func(_ context.Context, text string) error {
			committed <- text
			return errors.New("clipboard busy")
		})
	})
	h.connect(t, stream, Start{})
	stream.emit(avatar.AgentUtterance{Text: "Good morning."})
	h.waitFor(t, "turn", func(s Snapshot) bool { return s.Turns == 1 })

	h.post(t, Stop{})
	var result Result
	select {
	case result = <-h.done:
		close(h.done)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after stop")
	}

	require.Equal(t, "Dexter: Good morning.", <-committed)
	require.NoError(t, result.Err)
	require.EqualError(t, result.CommitErr, "clipboard busy")
	require.Equal(t, "session-1", result.SessionID)
	require.Equal(t, "alpha", result.ProfileID)
	require.Equal(t, fsm.StateEnded, result.State)
	require.False(t, result.ReadyAt.IsZero())
	require.Equal(t, 1, stream.closeCount())
	require.ErrorIs(t, h.ctrl.Post(Stop{}), ErrNotRunning)
}

func TestCancelTearsDownActiveSession(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, nil)
	h.connect(t, stream, Start{})

	result := h.stop(t)
	require.ErrorIs(t, result.Err, context.Canceled)
	require.Equal(t, fsm.StateEnded, result.State)
	require.Equal(t, 1, stream.closeCount())
	require.True(t, h.mic.latest().isStopped())
}

func TestStaleOpenResultIsClosed(t *testing.T) {
	c := NewController(Options{Opener: &fakeOpener{}, Microphone: &fakeMic{}})
	stale := newFakeStream("stale")
	c.Dispatch(opened{gen: 7, stream: stale})
	require.Equal(t, 1, stale.closeCount())
	require.Equal(t, fsm.StateIdle, c.State())
}

func TestOpenFinishingAfterRunExitsIsClosed(t *testing.T) {
	late := newFakeStream("late")
	opener := &fakeOpener{streams: []*fakeStream{late}, gate: make(chan struct{})}
	h := startHarness(t, opener, func(o *Options) { o.ExitOnEnd = true })

	h.post(t, Start{Request: avatar.OpenRequest{ProfileID: "alpha", UserName: "Jane"}})
	h.waitState(t, fsm.StateConnecting)
	h.post(t, Stop{})
	select {
	case <-h.done:
		close(h.done)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after stop")
	}

	close(opener.gate)
	require.Eventually(t, func() bool { return late.closeCount() == 1 }, waitTimeout, 5*time.Millisecond)
}

func TestTranscriptionFinishingAfterSessionEndIsDropped(t *testing.T) {
	tests := []struct {
		name    string
		restart bool
	}{
		{name: "after stop"},
		{name: "after restart", restart: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			first := newFakeStream("session-1")
			second := newFakeStream("session-2")
			transcriber := newGatedTranscriber("a stale answer")
			h := startHarness(t, &fakeOpener{streams: []*fakeStream{first, second}}, func(o *Options) {
				o.Transcriber = transcriber
			})
			h.connect(t, first, Start{Transcription: true})

			window := h.mic.latest()
			window.sendChunk(make([]byte, 320))
			window.endSpeech()
			h.waitState(t, fsm.StateProcessing)
			<-transcriber.started

			h.post(t, Stop{})
			h.waitState(t, fsm.StateEnded)
			want := fsm.StateEnded
			if tc.restart {
				h.connect(t, second, Start{Request: avatar.OpenRequest{ProfileID: "beta", UserName: "Bob"}, Transcription: true})
				want = fsm.StateListening
			}

			close(transcriber.release)
			<-transcriber.done
			require.Eventually(t, func() bool {
				return strings.Contains(h.logs.String(), "dropping stale transcription")
			}, waitTimeout, 5*time.Millisecond)

			snap := h.ctrl.Snapshot()
			require.Equal(t, want, snap.State)
			require.Zero(t, snap.Turns)
			require.Empty(t, first.spokenText())
			require.Empty(t, second.spokenText())
		})
	}
}

func TestToggleTranscriptionAppliesFromNextWindow(t *testing.T) {
	stream := newFakeStream("session-1")
	transcriber := &fakeTranscriber{text: "Second window"}
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, func(o *Options) {
		o.Transcriber = transcriber
	})
	h.connect(t, stream, Start{})
	first := h.mic.latest()

	h.post(t, ToggleTranscription{})
	h.waitFor(t, "transcription on", func(s Snapshot) bool { return s.Transcription })

	first.sendChunk(make([]byte, 320))
	require.Eventually(t, func() bool { return stream.sentAudio() == 320 }, waitTimeout, 5*time.Millisecond)
	first.endSpeech()
	stream.emit(avatar.ParticipantSpeechEnded{})
	h.waitState(t, fsm.StateProcessing)
	require.Empty(t, transcriber.calls())

	stream.emit(avatar.AgentSpeechStarted{})
	h.waitState(t, fsm.StateSpeaking)
	stream.emit(avatar.AgentSpeechEnded{})
	h.waitState(t, fsm.StateListening)
	require.Equal(t, 2, h.mic.count())
	require.Equal(t, 1, stream.voiceChatStops())

	next := h.mic.latest()
	next.sendChunk(make([]byte, 320))
	next.endSpeech()
	require.Eventually(t, func() bool { return len(stream.spokenText()) == 1 }, waitTimeout, 5*time.Millisecond)
	require.Equal(t, []string{"Second window"}, stream.spokenText())
	require.Len(t, transcriber.calls(), 1)
	require.Equal(t, 320, stream.sentAudio())
}

func TestRemoteDisconnectReasonMatchingLocalCloseStillEnds(t *testing.T) {
	stream := newFakeStream("session-1")
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{stream}}, nil)
	h.connect(t, stream, Start{})

	stream.emit(avatar.Disconnected{Reason: "closed locally"})
	h.waitState(t, fsm.StateEnded)

	result := h.stop(t)
	require.ErrorIs(t, result.Err, ErrRemoteDisconnect)
	require.Equal(t, 1, stream.closeCount())
}

func TestSlowCommitDoesNotBlockNextSession(t *testing.T) {
	first := newFakeStream("session-1")
	second := newFakeStream("session-2")
	release := make(chan struct{})
	committed := make(chan string, 1)
	h := startHarness(t, &fakeOpener{streams: []*fakeStream{first, second}}, func(o *Options) {
		o.Committer = CommitFunc(func(_ context.Context, text string) error {
			<-release
			committed <- text
			return nil
		})
	})
	h.connect(t, first, Start{})
	first.emit(avatar.ParticipantUtterance{Text: "my knee hurts"})
	h.waitFor(t, "turn", func(s Snapshot) bool { return s.Turns == 1 })

	h.post(t, Stop{})
	h.waitState(t, fsm.StateEnded)
	h.connect(t, second, Start{Request: avatar.OpenRequest{ProfileID: "beta", UserName: "Bob"}})
	require.Equal(t, "session-2", h.ctrl.Snapshot().SessionID)

	close(release)
	require.Equal(t, "Jane: my knee hurts", <-committed)
}
