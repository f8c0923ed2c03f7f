// Package fsm defines the conversation status values and their legal transitions.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateMuted      State = "muted"
	StateEnded      State = "ended"
)

const (
	EventOpen       Event = "open"
	EventReady      Event = "ready"
	EventFail       Event = "fail"
	EventStop       Event = "stop"
	EventDisconnect Event = "disconnect"
	EventSpeechEnd  Event = "participant_speech_end"
	EventAgentStart Event = "agent_speech_start"
	EventAgentEnd   Event = "agent_speech_end"
	EventMute       Event = "mute"
	EventUnmute     Event = "unmute"
	EventResume     Event = "resume"
)

// Streaming reports whether s is one of the live sub-states of an open stream.
func (s State) Streaming() bool {
	switch s {
	case StateListening, StateProcessing, StateSpeaking, StateMuted:
		return true
	default:
		return false
	}
}

// Active reports whether a session is being opened or is open.
func (s State) Active() bool {
	return s == StateConnecting || s.Streaming()
}

// Resting returns the state a stream settles into when nobody is speaking.
func Resting(muted bool) State {
	if muted {
		return StateMuted
	}
	return StateListening
}

// Transition returns the state reached by applying event to current.
//
// Stop, disconnect and fail are accepted from every state and always end the
// session. Mute toggles while speaking are rejected: callers defer them.
func Transition(current State, event Event) (State, error) {
	switch event {
	case EventStop, EventDisconnect, EventFail:
		switch current {
		case StateIdle, StateConnecting, StateListening, StateProcessing, StateSpeaking, StateMuted, StateEnded:
			return StateEnded, nil
		default:
			return current, fmt.Errorf("unknown state %q", current)
		}
	}

	switch current {
	case StateIdle, StateEnded:
		switch event {
		case EventOpen:
			return StateConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnecting:
		switch event {
		case EventReady:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventSpeechEnd:
			return StateProcessing, nil
		case EventAgentStart:
			return StateSpeaking, nil
		case EventMute:
			return StateMuted, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventAgentStart:
			return StateSpeaking, nil
		case EventResume:
			return StateListening, nil
		case EventMute, EventUnmute:
			return StateProcessing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSpeaking:
		switch event {
		case EventAgentEnd:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateMuted:
		switch event {
		case EventUnmute:
			return StateListening, nil
		case EventAgentStart:
			return StateSpeaking, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
