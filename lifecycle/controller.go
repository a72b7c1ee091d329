// Package lifecycle enables and disables HiveMQ extensions inside a running broker and waits for
// the broker to confirm each transition in its output.
//
// HiveMQ watches every extension folder for a DISABLED marker file. Creating the marker stops the
// extension and removing it starts the extension again; either way the broker logs a line naming
// the extension. Transitions are not idempotent: disabling an already disabled extension produces
// no confirmation, so the call times out.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/hivemq/hivemq-testcontainer/expect"
	"github.com/hivemq/hivemq-testcontainer/extension"
	"github.com/hivemq/hivemq-testcontainer/internal/containerpath"
)

// DefaultTransitionTimeout applies when a non-positive timeout is passed.
const DefaultTransitionTimeout = 60 * time.Second

// Executor runs a command to completion inside the observed process's environment.
type Executor interface {
	ExecOneShot(ctx context.Context, cmd ...string) error
}

// Controller requests extension transitions and correlates them with broker output.
type Controller struct {
	reg    *expect.Registry
	exec   Executor
	logger *slog.Logger
}

// New creates a controller. reg must be subscribed to the broker's output. A nil logger discards
// output.
func New(reg *expect.Registry, exec Executor, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		reg:    reg,
		exec:   exec,
		logger: logger.With(slog.String("logger", "lifecycle")),
	}
}

// Disable places the DISABLED marker into the extension folder and waits for the broker to report
// that the extension stopped.
func (c *Controller) Disable(ctx context.Context, ext extension.Extension, timeout time.Duration) (State, error) {
	return c.transition(ctx, ext, timeout, "stopped", "touch", containerpath.DisabledMarkerFor(ext.ID))
}

// Enable removes the DISABLED marker from the extension folder and waits for the broker to report
// that the extension started.
func (c *Controller) Enable(ctx context.Context, ext extension.Extension, timeout time.Duration) (State, error) {
	return c.transition(ctx, ext, timeout, "started", "rm", "-rf", containerpath.DisabledMarkerFor(ext.ID))
}

// ConfirmationPattern matches the line HiveMQ logs after an extension reached verb, which is
// "started" or "stopped".
func ConfirmationPattern(name, verb string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)Extension "` + regexp.QuoteMeta(name) + `" version .* ` + regexp.QuoteMeta(verb) + ` successfully`)
}

func (c *Controller) transition(
	ctx context.Context,
	ext extension.Extension,
	timeout time.Duration,
	verb string,
	cmd ...string,
) (State, error) {
	if ext.ID == "" || ext.Name == "" {
		return Unknown, fmt.Errorf("%w: extension id and name are required", extension.ErrInvalid)
	}
	if timeout <= 0 {
		timeout = DefaultTransitionTimeout
	}
	logger := c.logger.With(slog.String("extension_id", ext.ID), slog.String("transition", verb))

	ok, err := c.reg.ExpectAfter(ctx, ConfirmationPattern(ext.Name, verb), timeout, func(ctx context.Context) error {
		return c.exec.ExecOneShot(ctx, cmd...)
	})
	if err != nil {
		return TransitionRequested, fmt.Errorf("request %s of extension %s: %w", verb, ext.ID, err)
	}
	if !ok && ctx.Err() != nil {
		return TransitionRequested, fmt.Errorf("await %s of extension %s: %w", verb, ext.ID, ctx.Err())
	}
	if !ok {
		logger.Warn(
			"extension transition not confirmed; HiveMQ Community Edition images do not support enabling or disabling extensions at runtime",
			slog.Duration("timeout", timeout),
		)
		return TimedOut, nil
	}
	logger.Info("extension transition confirmed")
	return Confirmed, nil
}
