package indicator

import (
	"fmt"
	"os"
	"strings"

	"github.com/rbright/consult/internal/fsm"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	connecting string
	listening  string
	waiting    string
	processing string
	speaking   string
	muted      string
	ended      string
	idle       string
	pending    string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			connecting: "Connecting…",
			listening:  "Listening…",
			waiting:    "Waiting for you to speak…",
			processing: "Processing…",
			speaking:   "%s is speaking…",
			muted:      "Muted",
			ended:      "Session ended",
			idle:       "Idle",
			pending:    "mute pending",
		}
	}
}

// line renders one status line. A notice is appended in brackets.
func (m messages) line(s Status) string {
	var text string
	switch s.State {
	case fsm.StateConnecting:
		text = m.connecting
	case fsm.StateListening:
		text = m.listening
		if s.Transcription {
			text = m.waiting
		}
	case fsm.StateProcessing:
		text = m.processing
	case fsm.StateSpeaking:
		agent := s.Agent
		if agent == "" {
			agent = "Agent"
		}
		text = fmt.Sprintf(m.speaking, agent)
		if s.MutePending {
			text += " (" + m.pending + ")"
		}
	case fsm.StateMuted:
		text = m.muted
	case fsm.StateEnded:
		text = m.ended
	default:
		text = m.idle
	}
	if s.Notice != "" && s.Notice != text {
		text += " [" + s.Notice + "]"
	}
	return text
}
