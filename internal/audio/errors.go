package audio

import (
	"errors"
	"fmt"
)

// ErrMicrophoneUnavailable matches every MicrophoneUnavailableError.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// MicrophoneUnavailableError reports that a capture window could not be opened.
// It is fatal to capture only; the surrounding session keeps running.
type MicrophoneUnavailableError struct {
	Device string
	Err    error
}

func (e *MicrophoneUnavailableError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("microphone unavailable: %v", e.Err)
	}
	return fmt.Sprintf("microphone %q unavailable: %v", e.Device, e.Err)
}

func (e *MicrophoneUnavailableError) Unwrap() error { return e.Err }

func (e *MicrophoneUnavailableError) Is(target error) bool {
	return target == ErrMicrophoneUnavailable
}
