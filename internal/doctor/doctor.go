// Package doctor runs readiness diagnostics for config, backend, stream
// service, runtime dir, and audio.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/rbright/consult/internal/audio"
	"github.com/rbright/consult/internal/backend"
	"github.com/rbright/consult/internal/config"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// HealthChecker reports backend readiness.
type HealthChecker interface {
	Health(ctx context.Context) (backend.Health, error)
}

var selectDevice = audio.SelectDevice

// Run executes every check for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, health HealthChecker) Report {
	cfg := loaded.Config
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", loaded.Path)
	}
	if len(loaded.Warnings) > 0 {
		message += fmt.Sprintf(", %d warning(s)", len(loaded.Warnings))
	}

	checks := []Check{{Name: "config", Pass: true, Message: message}}
	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "control socket directory available", "XDG_RUNTIME_DIR is empty"))
	checks = append(checks, checkBackend(ctx, health, cfg.Session.Profile))
	checks = append(checks, checkStream(ctx, cfg.Stream.URL))
	if len(cfg.Transcript.Clipboard.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Transcript.Clipboard.Argv, "clipboard_cmd"))
	}
	if cfg.Indicator.Desktop {
		checks = append(checks, checkBinary("busctl", "desktop notifications use busctl"))
	}
	checks = append(checks, checkAudioSelection(ctx, cfg.Audio))

	return Report{Checks: checks}
}

func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	if predicate(os.Getenv(name)) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkBackend requires a healthy backend holding an API key and serving profile.
func checkBackend(ctx context.Context, health HealthChecker, profile string) Check {
	const name = "backend.health"
	if health == nil {
		return Check{Name: name, Pass: false, Message: "backend client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	report, err := health.Health(ctx)
	switch {
	case err != nil:
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	case !report.OK:
		return Check{Name: name, Pass: false, Message: "backend reports not ok"}
	case !report.HasAPIKey:
		return Check{Name: name, Pass: false, Message: "backend has no streaming API key"}
	case len(report.Profiles) > 0 && profile != "" && !slices.Contains(report.Profiles, profile):
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("profile %q not offered (have %s)", profile, strings.Join(report.Profiles, ", "))}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("ok with %d profile(s)", len(report.Profiles))}
}

// checkStream verifies the stream service host accepts TCP connections.
func checkStream(ctx context.Context, raw string) Check {
	const name = "stream.url"
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("invalid stream url %q", raw)}
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "wss" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("dial %s: %v", host, err)}
	}
	_ = conn.Close()
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable at %s", host)}
}

func checkAudioSelection(ctx context.Context, cfg config.AudioConfig) Check {
	selection, err := selectDevice(ctx, cfg.Input, cfg.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message += " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}
