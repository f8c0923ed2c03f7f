package session

import (
	"github.com/rbright/consult/internal/audio"
	"github.com/rbright/consult/internal/avatar"
)

// Event is anything the controller dispatches. Commands are exported;
// completions and relayed signals are internal.
type Event interface {
	sessionEvent()
}

// Start opens a session unless one is already active.
type Start struct {
	Request       avatar.OpenRequest
	Muted         bool
	Transcription bool
}

// Stop ends the active session.
type Stop struct{}

// ToggleMute flips the microphone mute. It is deferred while the agent speaks.
type ToggleMute struct{}

// ToggleTranscription flips backend transcription for the next capture window.
type ToggleTranscription struct{}

// opened completes an Open call for generation gen.
type opened struct {
	gen    int
	stream Stream
	err    error
}

// remoteEvent relays one avatar signal.
type remoteEvent struct {
	gen   int
	event avatar.Event
}

type chunkCaptured struct {
	gen    int
	window int
	chunk  []byte
}

type speechDetected struct {
	gen    int
	window int
	kind   audio.SpeechKind
}

// transcribed completes a transcription of window.
type transcribed struct {
	gen    int
	window int
	text   string
	err    error
}

// spoke completes a Speak call for forward seq.
type spoke struct {
	gen int
	seq int
	err error
}

type responseTimedOut struct {
	gen int
	seq int
}

// committed completes the transcript commit of the session that ended as seq.
type committed struct {
	seq int
	err error
}

func (Start) sessionEvent()               {}
func (Stop) sessionEvent()                {}
func (ToggleMute) sessionEvent()          {}
func (ToggleTranscription) sessionEvent() {}
func (opened) sessionEvent()              {}
func (remoteEvent) sessionEvent()         {}
func (chunkCaptured) sessionEvent()       {}
func (speechDetected) sessionEvent()      {}
func (transcribed) sessionEvent()         {}
func (spoke) sessionEvent()               {}
func (responseTimedOut) sessionEvent()    {}
func (committed) sessionEvent()           {}
