// Package transcript assembles speech events from both speakers into an ordered dialogue log.
package transcript

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerParticipant Speaker = "user"
	SpeakerAgent       Speaker = "agent"
)

// Turn is one contiguous block of dialogue attributed to a single speaker.
type Turn struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

var spaceBeforePunctuation = regexp.MustCompile(`\s+([.,!?])`)

// Normalize collapses whitespace and removes spaces before terminal punctuation.
func Normalize(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	return spaceBeforePunctuation.ReplaceAllString(collapsed, "$1")
}

// Assembler keeps the dialogue log for one session. Turns are never reordered
// or removed; consecutive appends from the same speaker merge into one turn.
type Assembler struct {
	now func() time.Time

	mu    sync.Mutex
	turns []Turn
}

// NewAssembler returns an empty assembler stamping turns with now (time.Now when nil).
func NewAssembler(now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{now: now}
}

// Append records text for speaker and reports whether the log changed.
func (a *Assembler) Append(speaker Speaker, text string) bool {
	clean := Normalize(text)
	if clean == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.turns); n > 0 && a.turns[n-1].Speaker == speaker {
		last := &a.turns[n-1]
		last.Text = Normalize(last.Text + " " + clean)
		return true
	}

	a.turns = append(a.turns, Turn{Speaker: speaker, Text: clean, At: a.now()})
	return true
}

// Turns returns a snapshot of the log in insertion order.
func (a *Assembler) Turns() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// Len reports the number of turns.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.turns)
}

// Reset clears the log before a new session starts.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns = nil
}

// Render formats turns as "Name: text" lines using names for speaker labels.
func Render(turns []Turn, names map[Speaker]string) string {
	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		label := names[turn.Speaker]
		if label == "" {
			label = string(turn.Speaker)
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(turn.Text)
	}
	return b.String()
}
