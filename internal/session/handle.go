package session

import (
	"context"
	"fmt"

	"github.com/rbright/consult/internal/ipc"
)

// Handle serves one control command against the running controller.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.statusResponse("")
	case ipc.CommandTranscript:
		resp := c.statusResponse("")
		resp.Transcript = c.RenderTranscript()
		return resp
	case ipc.CommandStop:
		return c.command(Stop{}, "stopping")
	case ipc.CommandMute:
		return c.command(ToggleMute{}, "mute toggled")
	case ipc.CommandTranscription:
		return c.command(ToggleTranscription{}, "transcription toggled")
	default:
		return ipc.Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (c *Controller) command(event Event, message string) ipc.Response {
	if !c.Snapshot().Active {
		resp := c.statusResponse("")
		resp.OK = false
		resp.Error = ErrNoSession.Error()
		return resp
	}
	if err := c.Post(event); err != nil {
		return ipc.Response{Error: err.Error()}
	}
	return c.statusResponse(message)
}

func (c *Controller) statusResponse(message string) ipc.Response {
	snap := c.Snapshot()
	if message == "" {
		message = snap.Notice
	}
	return ipc.Response{
		OK:            true,
		State:         string(snap.State),
		Message:       message,
		SessionID:     snap.SessionID,
		Agent:         snap.Agent,
		UserName:      snap.UserName,
		Muted:         snap.Muted,
		MutePending:   snap.MuteIntent,
		Transcription: snap.Transcription,
		Turns:         snap.Turns,
	}
}
