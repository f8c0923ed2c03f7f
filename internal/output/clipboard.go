// Package output exports a finished transcript to the clipboard command.
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/consult/internal/config"
)

const clipboardTimeout = 2 * time.Second

// Committer pipes transcripts to the configured clipboard command.
type Committer struct {
	cfg    config.TranscriptConfig
	logger *slog.Logger
}

// NewCommitter builds a committer. Without a clipboard command Commit is a no-op.
func NewCommitter(cfg config.TranscriptConfig, logger *slog.Logger) *Committer {
	return &Committer{cfg: cfg, logger: logger}
}

// Commit writes transcript to the clipboard command's stdin.
func (c *Committer) Commit(ctx context.Context, transcript string) error {
	if strings.TrimSpace(transcript) == "" || len(c.cfg.Clipboard.Argv) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := runCommandWithInput(ctx, c.cfg.Clipboard.Argv, transcript); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	if c.logger != nil {
		c.logger.Debug("transcript copied to clipboard", "command", c.cfg.Clipboard.Argv[0], "chars", len(transcript))
	}
	return nil
}

// runCommandWithInput executes argv with input on stdin. Stderr is folded
// into the returned error.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return errors.New("command argv cannot be empty")
	}

	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(input)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("run %s: %w (%s)", argv[0], err, msg)
		}
		return fmt.Errorf("run %s: %w", argv[0], err)
	}
	return nil
}
