// Package ipc carries control commands between consult invocations and the
// process that owns the running session, as JSON lines over a unix socket.
package ipc

// Commands understood by the session owner.
const (
	CommandStatus        = "status"
	CommandStop          = "stop"
	CommandMute          = "mute"
	CommandTranscription = "transcription"
	CommandTranscript    = "transcript"
)

type Request struct {
	Command string `json:"command"`
}

// Response reports the owner's state after handling a command.
type Response struct {
	OK            bool   `json:"ok"`
	State         string `json:"state,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	Agent         string `json:"agent,omitempty"`
	UserName      string `json:"user_name,omitempty"`
	Muted         bool   `json:"muted,omitempty"`
	MutePending   *bool  `json:"mute_pending,omitempty"`
	Transcription bool   `json:"transcription,omitempty"`
	Turns         int    `json:"turns,omitempty"`
	Transcript    string `json:"transcript,omitempty"`
}
