package expect

import (
	"context"
	"sync"
)

// Gate is a single-fire latch. Only the first Fire has an effect; after it, waits return at once.
type Gate struct {
	once sync.Once
	done chan struct{}
}

// NewGate returns an unfired gate.
func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Fire opens the gate. It reports whether this call was the one that opened it.
func (g *Gate) Fire() bool {
	fired := false
	g.once.Do(func() {
		close(g.done)
		fired = true
	})
	return fired
}

// Fired reports whether the gate has been opened.
func (g *Gate) Fired() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the gate fires.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the gate fires or ctx is done, and reports whether the gate fired.
func (g *Gate) Wait(ctx context.Context) bool {
	select {
	case <-g.done:
		return true
	case <-ctx.Done():
		return g.Fired()
	}
}
