package avatar

// Event is one lifecycle or speech signal from the remote avatar service.
// The set is closed: every implementation lives in this package.
type Event interface {
	avatarEvent()
}

// StreamReady is emitted once the remote media stream exists. Media is
// already bound to the render target when the event is delivered.
type StreamReady struct {
	StreamID string
	Media    *Media
}

// Disconnected is the terminal event. Events closes after it. Local is set
// when Close ended the session rather than the remote side or the network.
type Disconnected struct {
	Reason string
	Err    error
	Local  bool
}

type AgentSpeechStarted struct{}

type AgentSpeechEnded struct{}

// ParticipantSpeechStarted and ParticipantSpeechEnded come from the remote
// voice channel and only occur while it is active.
type ParticipantSpeechStarted struct{}

type ParticipantSpeechEnded struct{}

// ParticipantUtterance is text the remote service recognized from the participant.
type ParticipantUtterance struct {
	Text string
}

// AgentUtterance is text the agent spoke.
type AgentUtterance struct {
	Text string
}

func (StreamReady) avatarEvent()              {}
func (Disconnected) avatarEvent()             {}
func (AgentSpeechStarted) avatarEvent()       {}
func (AgentSpeechEnded) avatarEvent()         {}
func (ParticipantSpeechStarted) avatarEvent() {}
func (ParticipantSpeechEnded) avatarEvent()   {}
func (ParticipantUtterance) avatarEvent()     {}
func (AgentUtterance) avatarEvent()           {}
