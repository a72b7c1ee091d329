package hivemq

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotStarted is returned by operations that need a running container.
	ErrNotStarted = errors.New("container not started")

	// ErrAlreadyStarted is returned by Start on a running container.
	ErrAlreadyStarted = errors.New("container already started")

	// ErrNoStartupTimeout is returned by Start when neither the context has a deadline nor
	// WithStartupTimeout was used.
	ErrNoStartupTimeout = errors.New("startup needs a context deadline or WithStartupTimeout")
)

// CommandError is returned when a command run inside the container exits with a non-zero code.
type CommandError struct {
	Cmd      []string
	ExitCode int
	// Output holds the combined stdout and stderr of the command. May be empty.
	Output string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", strings.Join(e.Cmd, " "), e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}
