package audio

import (
	"encoding/binary"
	"math"
)

const (
	// frameBytes is one 20ms analysis frame at 16kHz mono s16.
	frameBytes = 640

	smoothingAlpha  = 0.3
	pcmMaxAmplitude = 32768.0
)

// SpeechKind identifies a local endpointing transition.
type SpeechKind int

const (
	SpeechStarted SpeechKind = iota + 1
	SpeechEnded
)

func (k SpeechKind) String() string {
	switch k {
	case SpeechStarted:
		return "speech_started"
	case SpeechEnded:
		return "speech_ended"
	default:
		return "unknown"
	}
}

// SpeechEvent is published on Capture.Speech when the endpointer changes phase.
type SpeechEvent struct {
	Kind SpeechKind
	// Offset is the capture position of the transition.
	Offset int64
}

// EndpointerConfig tunes the RMS voice activity detector.
type EndpointerConfig struct {
	// Threshold is the smoothed RMS (0..1) above which a frame counts as voiced.
	Threshold float64
	// StartMS is how long voice must persist before speech starts.
	StartMS int
	// StopMS is how long silence must persist before speech ends.
	StopMS int
}

type vadPhase int

const (
	phaseQuiet vadPhase = iota
	phaseStarting
	phaseSpeaking
	phaseStopping
)

// Endpointer is an RMS voice activity detector over 20ms frames. Durations
// are counted in samples, so results depend only on the audio fed in.
type Endpointer struct {
	threshold    float64
	startSamples int
	stopSamples  int

	phase    vadPhase
	elapsed  int
	smoothed float64
	consumed int64
}

// NewEndpointer builds an endpointer from cfg.
func NewEndpointer(cfg EndpointerConfig) *Endpointer {
	return &Endpointer{
		threshold:    cfg.Threshold,
		startSamples: cfg.StartMS * SampleRate / 1000,
		stopSamples:  cfg.StopMS * SampleRate / 1000,
	}
}

// Speaking reports whether the endpointer is inside an utterance.
func (e *Endpointer) Speaking() bool {
	return e.phase == phaseSpeaking || e.phase == phaseStopping
}

// Feed analyzes one frame and returns a transition when one occurred.
func (e *Endpointer) Feed(frame []byte) (SpeechEvent, bool) {
	samples := len(frame) / bytesPerSample
	if samples == 0 {
		return SpeechEvent{}, false
	}
	e.consumed += int64(len(frame))
	e.smoothed = smoothingAlpha*frameRMS(frame) + (1-smoothingAlpha)*e.smoothed
	voiced := e.smoothed >= e.threshold

	e.elapsed += samples
	next := e.nextPhase(voiced)
	if next == e.phase {
		return SpeechEvent{}, false
	}

	prev := e.phase
	e.phase = next
	e.elapsed = 0

	switch {
	case prev == phaseStarting && next == phaseSpeaking:
		return SpeechEvent{Kind: SpeechStarted, Offset: e.consumed}, true
	case prev == phaseStopping && next == phaseQuiet:
		return SpeechEvent{Kind: SpeechEnded, Offset: e.consumed}, true
	default:
		return SpeechEvent{}, false
	}
}

func (e *Endpointer) nextPhase(voiced bool) vadPhase {
	switch e.phase {
	case phaseQuiet:
		if voiced {
			return phaseStarting
		}
	case phaseStarting:
		if !voiced {
			return phaseQuiet
		}
		if e.elapsed >= e.startSamples {
			return phaseSpeaking
		}
	case phaseSpeaking:
		if !voiced {
			return phaseStopping
		}
	case phaseStopping:
		if voiced {
			return phaseSpeaking
		}
		if e.elapsed >= e.stopSamples {
			return phaseQuiet
		}
	}
	return e.phase
}

// frameRMS computes the normalized root mean square of s16le samples.
func frameRMS(frame []byte) float64 {
	n := len(frame) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(frame[i*bytesPerSample:]))
		v := float64(sample) / pcmMaxAmplitude
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
