// Package bridge sends captured audio windows to the backend speech-to-text
// endpoint and returns the processed text.
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/consult/internal/audio"
	"github.com/rbright/consult/internal/backend"
	"github.com/rbright/consult/internal/logging"
	"github.com/rbright/consult/internal/metrics"
)

// ErrTranscription matches every TranscriptionError.
var ErrTranscription = errors.New("transcription failed")

// TranscriptionError is a recoverable failure of one transcription round trip.
type TranscriptionError struct {
	Reason string
	Err    error
}

func (e *TranscriptionError) Error() string {
	if e.Err == nil {
		return "transcription failed: " + e.Reason
	}
	return fmt.Sprintf("transcription failed: %s: %v", e.Reason, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

func (e *TranscriptionError) Is(target error) bool {
	return target == ErrTranscription
}

// AudioProcessor is the backend surface the bridge uses.
type AudioProcessor interface {
	ProcessAudio(ctx context.Context, req backend.ProcessAudioRequest) (backend.ProcessAudioResponse, error)
}

// Options toggles debug artifacts.
type Options struct {
	AudioDump bool
}

// Bridge transcribes capture payloads.
type Bridge struct {
	processor AudioProcessor
	opts      Options
	logger    *slog.Logger
}

// New builds a bridge. logger may be nil.
func New(processor AudioProcessor, opts Options, logger *slog.Logger) *Bridge {
	return &Bridge{processor: processor, opts: opts, logger: logger}
}

// PatientContext formats the conversation context sent with each window.
func PatientContext(participant string, agent string) string {
	return fmt.Sprintf("Patient: %s, Doctor: %s", strings.TrimSpace(participant), strings.TrimSpace(agent))
}

// Transcribe posts payload as a base64 WAV with patientContext and returns the
// processed text, which may be empty when nothing was said. Transport
// errors, non-2xx responses and success:false yield *TranscriptionError.
func (b *Bridge) Transcribe(ctx context.Context, payload audio.Payload, patientContext string) (string, error) {
	if payload.Empty() {
		return "", nil
	}

	wav := payload.WAV()
	b.dumpAudio(wav)

	start := time.Now()
	resp, err := b.processor.ProcessAudio(ctx, backend.ProcessAudioRequest{
		AudioData:      base64.StdEncoding.EncodeToString(wav),
		PatientContext: patientContext,
	})
	if err == nil && !resp.Success {
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = "backend reported success=false"
		}
		err = &TranscriptionError{Reason: reason}
	} else if err != nil {
		err = &TranscriptionError{Reason: "request", Err: err}
	}
	elapsed := time.Since(start)
	metrics.Transcription(elapsed, err)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.ProcessedText)
	if b.logger != nil {
		b.logger.Debug("transcription complete",
			"audio_ms", payload.Duration().Milliseconds(),
			"elapsed_ms", elapsed.Milliseconds(),
			"transcribed_chars", len(resp.TranscribedText),
			"processed_chars", len(text),
		)
	}
	return text, nil
}

// dumpAudio writes the window WAV when debug.audio_dump is enabled.
func (b *Bridge) dumpAudio(wav []byte) {
	if !b.opts.AudioDump {
		return
	}
	file, err := logging.CreateDebugFile("audio", "wav")
	if err != nil {
		b.logWarn("unable to create debug audio dump", err)
		return
	}
	defer file.Close()
	if _, err := file.Write(wav); err != nil {
		b.logWarn("unable to write debug audio dump", err)
	}
}

func (b *Bridge) logWarn(message string, err error) {
	if b.logger == nil {
		return
	}
	b.logger.Warn(message, "error", err.Error())
}
