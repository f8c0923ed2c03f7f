package session

import (
	"context"

	"github.com/rbright/consult/internal/audio"
	"github.com/rbright/consult/internal/avatar"
)

// Stream is the open avatar session surface the controller drives.
type Stream interface {
	ID() string
	Agent() string
	Events() <-chan avatar.Event
	Speak(ctx context.Context, text string) error
	StartVoiceChat(ctx context.Context, muted bool) error
	StopVoiceChat(ctx context.Context) error
	SendAudio(chunk []byte) error
	Close() error
}

// Opener establishes avatar sessions.
type Opener interface {
	Open(ctx context.Context, req avatar.OpenRequest) (Stream, error)
}

// Window is one microphone capture window.
type Window interface {
	Chunks() <-chan []byte
	Speech() <-chan audio.SpeechEvent
	Stop() (audio.Payload, error)
	Device() audio.Device
}

// Microphone opens capture windows.
type Microphone interface {
	StartCapture(ctx context.Context) (Window, error)
}

// Transcriber turns a capture payload into processed participant text.
type Transcriber interface {
	Transcribe(ctx context.Context, payload audio.Payload, patientContext string) (string, error)
}

// AvatarOpener adapts an avatar.Manager to Opener.
func AvatarOpener(manager *avatar.Manager) Opener {
	return avatarOpener{manager: manager}
}

type avatarOpener struct {
	manager *avatar.Manager
}

func (o avatarOpener) Open(ctx context.Context, req avatar.OpenRequest) (Stream, error) {
	session, err := o.manager.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// RecorderMicrophone adapts an audio.Recorder to Microphone.
func RecorderMicrophone(recorder *audio.Recorder) Microphone {
	return recorderMicrophone{recorder: recorder}
}

type recorderMicrophone struct {
	recorder *audio.Recorder
}

func (m recorderMicrophone) StartCapture(ctx context.Context) (Window, error) {
	capture, err := m.recorder.StartCapture(ctx)
	if err != nil {
		return nil, err
	}
	return capture, nil
}
