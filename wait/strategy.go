package wait

import (
	"context"
	"errors"

	"github.com/hivemq/hivemq-testcontainer/expect"
)

// ErrNotReady is wrapped by every error returned when a target does not become ready.
var ErrNotReady = errors.New("target not ready")

// Target is a running process that exposes network ports.
type Target interface {
	Host() string
	// MappedPort returns the host port bound to containerPort.
	MappedPort(containerPort int) (int, error)
}

// WaitFunc blocks until the target is ready or ctx is done.
type WaitFunc func(ctx context.Context, target Target) error

// Strategy prepares a readiness check.
//
// Arm is called before the observed process starts. The returned release function is always
// called, whether or not the WaitFunc was run.
type Strategy interface {
	Arm(reg *expect.Registry) (WaitFunc, func(), error)
}

// StaticTarget is a Target at a fixed address. Every container port maps to Port.
type StaticTarget struct {
	Address string
	Port    int
}

var _ Target = StaticTarget{}

func (t StaticTarget) Host() string { return t.Address }

func (t StaticTarget) MappedPort(int) (int, error) { return t.Port, nil }

func noop() {}
