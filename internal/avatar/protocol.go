package avatar

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client frame types.
const (
	typeSessionStart   = "session.start"
	typeSessionStop    = "session.stop"
	typeSpeak          = "speak"
	typeVoiceChatStart = "voice_chat.start"
	typeVoiceChatStop  = "voice_chat.stop"
)

// Server frame types.
const (
	typeStreamReady        = "stream_ready"
	typeStreamDisconnected = "stream_disconnected"
	typeAgentStartTalking  = "avatar_start_talking"
	typeAgentStopTalking   = "avatar_stop_talking"
	typeUserStart          = "user_start"
	typeUserStop           = "user_stop"
	typeUserMessage        = "user_talking_message"
	typeAgentMessage       = "avatar_talking_message"
	typeError              = "error"
)

const taskTalk = "talk"

type sessionStartFrame struct {
	Type    string      `json:"type"`
	Token   string      `json:"token"`
	Session startConfig `json:"session"`
}

type startConfig struct {
	ID                  string      `json:"id"`
	Agent               string      `json:"agent"`
	KnowledgeBase       string      `json:"knowledge_base,omitempty"`
	Language            string      `json:"language,omitempty"`
	Quality             string      `json:"quality,omitempty"`
	ActivityIdleTimeout int         `json:"activity_idle_timeout,omitempty"`
	VoiceChatTransport  string      `json:"voice_chat_transport,omitempty"`
	Voice               voiceConfig `json:"voice"`
	Greeting            string      `json:"greeting,omitempty"`
}

type voiceConfig struct {
	ID   string  `json:"voice_id"`
	Rate float64 `json:"rate"`
}

type speakFrame struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	TaskType string `json:"task_type"`
}

type voiceChatFrame struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted"`
}

type controlFrame struct {
	Type string `json:"type"`
}

// serverFrame is the union of every server envelope.
type serverFrame struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

// decodeServerFrame maps a text frame to an event. Frames that carry no
// event (error reports, unknown types) return a nil event and the frame.
func decodeServerFrame(data []byte) (Event, serverFrame, error) {
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, frame, fmt.Errorf("decode stream frame: %w", err)
	}
	frame.Type = strings.TrimSpace(frame.Type)
	if frame.Type == "" {
		return nil, frame, fmt.Errorf("stream frame missing type")
	}

	switch frame.Type {
	case typeStreamReady:
		return StreamReady{StreamID: frame.StreamID}, frame, nil
	case typeStreamDisconnected:
		reason := strings.TrimSpace(frame.Reason)
		if reason == "" {
			reason = "stream disconnected"
		}
		return Disconnected{Reason: reason}, frame, nil
	case typeAgentStartTalking:
		return AgentSpeechStarted{}, frame, nil
	case typeAgentStopTalking:
		return AgentSpeechEnded{}, frame, nil
	case typeUserStart:
		return ParticipantSpeechStarted{}, frame, nil
	case typeUserStop:
		return ParticipantSpeechEnded{}, frame, nil
	case typeUserMessage:
		return ParticipantUtterance{Text: frame.Message}, frame, nil
	case typeAgentMessage:
		return AgentUtterance{Text: frame.Message}, frame, nil
	default:
		return nil, frame, nil
	}
}
