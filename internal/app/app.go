// Package app wires consult's command line to the session runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/consult/internal/audio"
	"github.com/rbright/consult/internal/backend"
	"github.com/rbright/consult/internal/cli"
	"github.com/rbright/consult/internal/config"
	"github.com/rbright/consult/internal/doctor"
	"github.com/rbright/consult/internal/ipc"
	"github.com/rbright/consult/internal/logging"
	"github.com/rbright/consult/internal/version"
)

const (
	binaryName     = "consult"
	forwardTimeout = 220 * time.Millisecond
)

var errNoSession = errors.New("no active consult session")

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	if err := config.LoadDotenv(".env"); err != nil {
		fmt.Fprintf(r.Stderr, "warning: %v\n", err)
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	if err := logRuntime.SetLevel(cfgLoaded.Config.Log.Level); err != nil {
		fmt.Fprintf(r.Stderr, "warning: %v\n", err)
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	cfg := cfgLoaded.Config
	switch parsed.Command {
	case cli.CommandDoctor:
		client, _ := newBackend(cfg, logger)
		var health doctor.HealthChecker
		if client != nil {
			health = client
		}
		report := doctor.Run(ctx, cfgLoaded, health)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandProfiles:
		return r.commandProfiles(ctx, cfg, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandTranscript:
		return r.commandTranscript(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandMute:
		return r.forwardOrFail(ctx, ipc.CommandMute)
	case cli.CommandTranscription:
		return r.forwardOrFail(ctx, ipc.CommandTranscription)
	case cli.CommandStart:
		return r.commandStart(ctx, cfg, parsed.Start, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func newBackend(cfg config.Config, logger *slog.Logger) (*backend.Client, error) {
	return backend.New(cfg.Backend.URL, time.Duration(cfg.Backend.TimeoutMS)*time.Millisecond, logger)
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(r.Stdout, "%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	return 0
}

func (r Runner) commandProfiles(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	client, err := newBackend(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	profiles, err := client.Profiles(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: list profiles: %v\n", err)
		return 1
	}
	for _, profile := range profiles {
		mark := " "
		if profile.ID == cfg.Session.Profile {
			mark = "*"
		}
		fmt.Fprintf(r.Stdout, "%s %s\tagent=%s\tavatar=%s\n", mark, profile.ID, profile.AgentName, profile.AvatarID)
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	resp, err := r.forward(ctx, ipc.CommandStatus)
	switch {
	case errors.Is(err, errNoSession):
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprint(r.Stdout, formatStatus(resp))
	return 0
}

func (r Runner) commandTranscript(ctx context.Context) int {
	resp, err := r.forward(ctx, ipc.CommandTranscript)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Transcript != "" {
		fmt.Fprintln(r.Stdout, resp.Transcript)
	}
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	resp, err := r.forward(ctx, command)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// forward sends command to the session owner. errNoSession means nobody
// owns the socket.
func (r Runner) forward(ctx context.Context, command string) (ipc.Response, error) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return ipc.Response{}, errNoSession
	}
	return tryForward(ctx, socketPath, command)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	switch {
	case err == nil && resp.OK:
		return resp, nil
	case err == nil:
		return resp, errors.New(resp.Error)
	case ipc.IsNoOwner(err):
		return ipc.Response{}, errNoSession
	default:
		return ipc.Response{}, fmt.Errorf("forward command %q: %w", command, err)
	}
}

func formatStatus(resp ipc.Response) string {
	state := resp.State
	if state == "" {
		state = "idle"
	}
	if resp.SessionID == "" {
		return state + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\n", state)
	fmt.Fprintf(&b, "session: %s\n", resp.SessionID)
	fmt.Fprintf(&b, "agent: %s\n", resp.Agent)
	fmt.Fprintf(&b, "participant: %s\n", resp.UserName)
	muted := yesNo(resp.Muted)
	if resp.MutePending != nil {
		muted += fmt.Sprintf(" (pending: %s)", yesNo(*resp.MutePending))
	}
	fmt.Fprintf(&b, "muted: %s\n", muted)
	fmt.Fprintf(&b, "transcription: %s\n", yesNo(resp.Transcription))
	fmt.Fprintf(&b, "turns: %d\n", resp.Turns)
	if resp.Message != "" {
		fmt.Fprintf(&b, "notice: %s\n", resp.Message)
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
