package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/consult/internal/audio"
	"github.com/rbright/consult/internal/avatar"
	"github.com/rbright/consult/internal/backend"
	"github.com/rbright/consult/internal/bridge"
	"github.com/rbright/consult/internal/cli"
	"github.com/rbright/consult/internal/config"
	"github.com/rbright/consult/internal/indicator"
	"github.com/rbright/consult/internal/ipc"
	"github.com/rbright/consult/internal/metrics"
	"github.com/rbright/consult/internal/output"
	"github.com/rbright/consult/internal/session"
)

const (
	acquireProbeTimeout = 180 * time.Millisecond
	acquireRetries      = 2
)

// newMicrophone and newStreamTarget are swapped in tests.
var (
	newMicrophone = func(cfg config.AudioConfig, logger *slog.Logger) session.Microphone {
		return session.RecorderMicrophone(audio.NewRecorder(audio.RecorderConfig{
			Input:    cfg.Input,
			Fallback: cfg.Fallback,
			ChunkMS:  cfg.ChunkMS,
			Endpointer: audio.EndpointerConfig{
				Threshold: cfg.VADThreshold,
				StartMS:   cfg.VADStartMS,
				StopMS:    cfg.VADStopMS,
			},
		}, logger))
	}
	newStreamTarget = func(cfg config.DebugConfig) avatar.RenderTarget {
		if cfg.MediaDump {
			return avatar.FileTarget{}
		}
		return avatar.DiscardTarget{}
	}
)

// participant is who the session is held with and which profile serves them.
type participant struct {
	UserName  string
	UID       string
	Doctor    string
	ProfileID string
}

func resolveParticipant(ctx context.Context, client *backend.Client, cfg config.Config, opts cli.StartOptions) (participant, error) {
	p := participant{
		UserName:  strings.TrimSpace(opts.Name),
		UID:       strings.TrimSpace(opts.UID),
		ProfileID: cfg.Session.Profile,
	}

	if p.UID != "" {
		patient, err := client.LookupPatient(ctx, p.UID)
		if err != nil {
			return participant{}, fmt.Errorf("lookup patient %q: %w", p.UID, err)
		}
		p.UserName = strings.TrimSpace(patient.Name)
		p.Doctor = strings.TrimSpace(patient.Doctor)
		if p.Doctor != "" {
			p.ProfileID = cfg.Profiles.ProfileFor(p.Doctor)
		}
	}
	if profile := strings.TrimSpace(opts.Profile); profile != "" {
		p.ProfileID = profile
	}

	if p.UserName == "" {
		return participant{}, errors.New("participant name is empty")
	}
	if p.ProfileID == "" {
		return participant{}, errors.New("no avatar profile configured")
	}
	return p, nil
}

func (r Runner) commandStart(ctx context.Context, cfg config.Config, opts cli.StartOptions, logger *slog.Logger) int {
	if strings.TrimSpace(opts.Name) == "" && strings.TrimSpace(opts.UID) == "" {
		fmt.Fprintln(r.Stderr, "error: start requires --name or --uid")
		return 2
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, acquireProbeTimeout, acquireRetries)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("acquire session socket failed", "socket", socketPath, "error", err.Error())
		return 1
	}
	defer func() { _ = listener.Close() }()

	client, err := newBackend(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	who, err := resolveParticipant(ctx, client, cfg, opts)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("resolve participant failed", "error", err.Error())
		return 1
	}

	manager := avatar.NewManager(avatar.Config{
		StreamURL:             cfg.Stream.URL,
		DialTimeout:           time.Duration(cfg.Stream.DialTimeoutMS) * time.Millisecond,
		Voice:                 avatar.Voice{ID: cfg.Voice.ID, Speed: cfg.Voice.Speed},
		Language:              cfg.Session.Language,
		Quality:               cfg.Session.Quality,
		DeterministicGreeting: cfg.Session.DeterministicGreeting,
		GreetingTemplate:      cfg.Session.GreetingTemplate,
		Target:                newStreamTarget(cfg.Debug),
	}, client, logger)

	notifier := indicator.NewNotifier(cfg.Indicator, r.Stderr, logger)
	controller := session.NewController(session.Options{
		Logger:          logger,
		Opener:          session.AvatarOpener(manager),
		Microphone:      newMicrophone(cfg.Audio, logger),
		Transcriber:     bridge.New(client, bridge.Options{AudioDump: cfg.Debug.AudioDump}, logger),
		Committer:       output.NewCommitter(cfg.Transcript, logger),
		Observer:        session.ObserverFunc(func(s session.Snapshot) { notifier.Update(context.WithoutCancel(ctx), statusFor(s)) }),
		ResponseTimeout: time.Duration(cfg.Session.ResponseTimeoutMS) * time.Millisecond,
		ExitOnEnd:       true,
	})

	if err := controller.Post(session.Start{
		Request:       avatar.OpenRequest{ProfileID: who.ProfileID, UserName: who.UserName},
		Transcription: cfg.Transcription.Enable && !opts.NoTranscription,
		Muted:         opts.Muted,
	}); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logger.Info("session owner ready",
		"socket", socketPath,
		"profile", who.ProfileID,
		"participant", who.UserName,
	)

	result := runOwner(ctx, controller, listener, cfg.Metrics, logger)
	notifier.Close()
	logSessionResult(logger, result)

	if result.Transcript != "" {
		fmt.Fprintln(r.Stdout, result.Transcript)
	}
	if result.CommitErr != nil {
		fmt.Fprintf(r.Stderr, "warning: %v\n", result.CommitErr)
	}
	r.summarize(ctx, client, cfg, who, result, logger)

	if result.Err != nil && !errors.Is(result.Err, context.Canceled) {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}
	return 0
}

// runOwner serves the controller until its session ends. The IPC server and
// metrics exporter stop with it.
func runOwner(ctx context.Context, controller *session.Controller, listener net.Listener, metricsCfg config.MetricsConfig, logger *slog.Logger) session.Result {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result session.Result
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer cancel()
		result = controller.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		if err := ipc.Serve(groupCtx, listener, controller); err != nil && groupCtx.Err() == nil {
			logger.Error("ipc server failed", "error", err.Error())
		}
		return nil
	})
	if addr := strings.TrimSpace(metricsCfg.Listen); addr != "" {
		group.Go(func() error {
			if err := metrics.NewExporter(addr).Serve(groupCtx); err != nil {
				logger.Warn("metrics exporter stopped", "listen", addr, "error", err.Error())
			}
			return nil
		})
	}
	_ = group.Wait()
	return result
}

func (r Runner) summarize(ctx context.Context, client *backend.Client, cfg config.Config, who participant, result session.Result, logger *slog.Logger) {
	if !cfg.Transcript.Summarize || who.UID == "" || strings.TrimSpace(result.Transcript) == "" {
		return
	}
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}

	summary, err := client.Summarize(ctx, backend.SummaryRequest{
		Transcript:  result.Transcript,
		StartTime:   result.StartedAt,
		CurrentTime: result.FinishedAt,
		UID:         who.UID,
		DoctorName:  who.Doctor,
		UserName:    who.UserName,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: summarize transcript: %v\n", err)
		logger.Warn("summarize transcript failed", "error", err.Error())
		return
	}
	if summary = strings.TrimSpace(summary); summary != "" {
		fmt.Fprintf(r.Stdout, "\nSummary:\n%s\n", summary)
	}
}

func statusFor(s session.Snapshot) indicator.Status {
	return indicator.Status{
		State:         s.State,
		Agent:         s.Agent,
		Muted:         s.Muted,
		MutePending:   s.MuteIntent != nil,
		Transcription: s.Transcription,
		Notice:        s.Notice,
	}
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}

	attrs := []any{
		"state", string(result.State),
		"session_id", result.SessionID,
		"agent", result.Agent,
		"participant", result.UserName,
		"profile", result.ProfileID,
		"turns", len(result.Turns),
		"audio_device", result.AudioDevice,
		"bytes_captured", result.BytesCaptured,
	}
	if !result.StartedAt.IsZero() && !result.FinishedAt.IsZero() {
		attrs = append(attrs, "duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds())
	}
	if !result.StartedAt.IsZero() && !result.ReadyAt.IsZero() {
		attrs = append(attrs, "connect_ms", result.ReadyAt.Sub(result.StartedAt).Milliseconds())
	}

	if result.Err != nil && !errors.Is(result.Err, context.Canceled) {
		attrs = append(attrs, "error", result.Err.Error())
		logger.Error("session failed", attrs...)
		return
	}
	if result.CommitErr != nil {
		attrs = append(attrs, "commit_error", result.CommitErr.Error())
	}
	logger.Info("session complete", attrs...)
}
