package reservation

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"thinfleet/pkg/models"
)

// Reloader tells the address reservation service to pick up a new table
type Reloader interface {
	Reload(ctx context.Context) error
}

// ReloaderFunc adapts a function to the Reloader interface
type ReloaderFunc func(ctx context.Context) error

// Reload calls f(ctx)
func (f ReloaderFunc) Reload(ctx context.Context) error {
	return f(ctx)
}

// CommandReloader runs a shell command, bounded by Timeout
type CommandReloader struct {
	Command string
	Timeout time.Duration
}

// NewCommandReloader returns nil when command is empty
func NewCommandReloader(command string, timeout time.Duration) Reloader {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	return &CommandReloader{Command: command, Timeout: timeout}
}

// Reload runs the command through /bin/sh
func (r *CommandReloader) Reload(ctx context.Context) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", r.Command)
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return fmt.Errorf("reload command %q: %v: %s: %w",
			r.Command, err, strings.TrimSpace(string(out)), models.ErrExternalEffect)
	}

	log.Debug().
		Str("command", r.Command).
		Dur("duration", time.Since(start)).
		Msg("Reservation service reloaded")
	return nil
}
