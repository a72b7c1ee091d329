// Package expect tracks regular-expression conditions over a stream of output frames.
//
// A [Registry] is subscribed to a [logstream.Broadcaster]. Callers [Registry.Register] a pattern,
// receive an opaque [Handle], trigger whatever should produce the output, and then block with
// [Registry.AwaitOne] or [Registry.AwaitAll]. A pattern only ever sees frames delivered after it
// was registered, and once satisfied it stays satisfied.
//
// Every registration must be released with [Registry.Unregister], typically with defer:
//
//	h := reg.Register(pattern)
//	defer reg.Unregister(h)
//	if err := trigger(ctx); err != nil {
//		return err
//	}
//	ok := reg.AwaitOne(h, time.Minute)
//
// [Registry.ExpectAfter] bundles those steps.
package expect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/hivemq/hivemq-testcontainer/logstream"
)

// Handle identifies one registration. Two registrations of the same pattern text get distinct
// handles and are satisfied independently.
type Handle struct {
	id uint64
}

// IsZero reports whether h was never returned by Register.
func (h Handle) IsZero() bool {
	return h.id == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("expectation#%d", h.id)
}

type expectation struct {
	pattern *regexp.Regexp
	gate    *Gate
	// removed is closed on unregistration so waiters do not sit out their full timeout.
	removed   chan struct{}
	closeOnce sync.Once
}

func (e *expectation) release() {
	e.closeOnce.Do(func() { close(e.removed) })
}

// Registry holds the currently registered expectations. The zero value is not usable; use New.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint64]*expectation
	nextID  uint64

	logger *slog.Logger
}

var _ logstream.Consumer = (*Registry)(nil)

// New creates an empty registry. A nil logger discards output.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		entries: make(map[uint64]*expectation),
		logger:  logger.With(slog.String("logger", "expect")),
	}
}

// Register adds an unsatisfied expectation for pattern.
func (r *Registry) Register(pattern *regexp.Regexp) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.entries[r.nextID] = &expectation{
		pattern: pattern,
		gate:    NewGate(),
		removed: make(chan struct{}),
	}
	return Handle{id: r.nextID}
}

// RegisterPattern compiles expr with the (?s) flag, so "." also matches newlines, and registers
// it.
func (r *Registry) RegisterPattern(expr string) (Handle, error) {
	re, err := compile(expr)
	if err != nil {
		return Handle{}, err
	}
	return r.Register(re), nil
}

func compile(expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?s)" + expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	return re, nil
}

// Unregister removes the expectation. Waiters blocked on it return. Unknown or already removed
// handles are ignored.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	e, ok := r.entries[h.id]
	delete(r.entries, h.id)
	r.mu.Unlock()

	if ok {
		e.release()
	}
}

// Reset removes every expectation and releases all blocked waiters. It is called when the
// observed process stops.
func (r *Registry) Reset() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[uint64]*expectation)
	r.mu.Unlock()

	for _, e := range entries {
		e.release()
	}
	if len(entries) > 0 {
		r.logger.Debug("expectations reset", slog.Int("count", len(entries)))
	}
}

// Len returns the number of registered expectations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Satisfied reports whether the expectation matched a frame. It is false for unknown handles.
func (r *Registry) Satisfied(h Handle) bool {
	r.mu.RLock()
	e, ok := r.entries[h.id]
	r.mu.RUnlock()
	return ok && e.gate.Fired()
}

// OnFrame evaluates the frame against every registered, still unsatisfied pattern. Every pattern
// that matches is satisfied in this same pass.
func (r *Registry) OnFrame(frame logstream.Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return
	}
	for id, e := range r.entries {
		if e.gate.Fired() {
			continue
		}
		if !e.pattern.Match(frame.Data) {
			continue
		}
		if e.gate.Fire() {
			r.logger.Debug(
				"container output matched pattern",
				slog.String("handle", Handle{id: id}.String()),
				slog.String("pattern", e.pattern.String()),
				slog.Uint64("seq", frame.Seq),
			)
		}
	}
}

func (r *Registry) lookup(h Handle) (*expectation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h.id]
	return e, ok
}

// AwaitOne blocks until the expectation is satisfied or timeout elapses.
func (r *Registry) AwaitOne(h Handle, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.WaitOne(ctx, h)
}

// WaitOne blocks until the expectation is satisfied, it is unregistered, or ctx is done. It
// reports whether the expectation was satisfied.
func (r *Registry) WaitOne(ctx context.Context, h Handle) bool {
	e, ok := r.lookup(h)
	if !ok {
		return false
	}
	if r.wait(ctx, e) {
		return true
	}
	reason := cause(ctx, e)
	r.logger.Log(ctx, giveUpLevel(reason),
		"gave up waiting for pattern",
		slog.String("handle", h.String()),
		slog.String("pattern", e.pattern.String()),
		slog.Any("reason", reason),
	)
	return false
}

// AwaitAll blocks until every expectation registered at the time of the call is satisfied or
// timeout elapses. With no registered expectations it returns true immediately.
func (r *Registry) AwaitAll(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.WaitAll(ctx)
}

// WaitAll is AwaitAll bounded by ctx instead of a timeout.
func (r *Registry) WaitAll(ctx context.Context) bool {
	r.mu.RLock()
	ids := slices.Sorted(maps.Keys(r.entries))
	pending := make([]*expectation, 0, len(ids))
	for _, id := range ids {
		pending = append(pending, r.entries[id])
	}
	r.mu.RUnlock()

	for i, e := range pending {
		if !r.wait(ctx, e) {
			reason := cause(ctx, e)
			r.logger.Log(ctx, giveUpLevel(reason),
				"gave up waiting for all patterns",
				slog.String("handle", Handle{id: ids[i]}.String()),
				slog.String("pattern", e.pattern.String()),
				slog.Int("total", len(pending)),
				slog.Any("reason", reason),
			)
			return false
		}
	}
	return true
}

func (r *Registry) wait(ctx context.Context, e *expectation) bool {
	select {
	case <-e.gate.Done():
		return true
	case <-e.removed:
	case <-ctx.Done():
	}
	return e.gate.Fired()
}

func cause(ctx context.Context, e *expectation) error {
	select {
	case <-e.removed:
		return errUnregistered
	default:
		return ctx.Err()
	}
}

// giveUpLevel reports missed patterns as warnings. Waits ended by unregistering are routine.
func giveUpLevel(reason error) slog.Level {
	if errors.Is(reason, errUnregistered) {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// ExpectAfter registers pattern, runs trigger, and waits up to timeout for the pattern to match.
// The registration always happens before trigger runs and is always removed before returning.
// A timeout is not an error: it is reported as false.
func (r *Registry) ExpectAfter(
	ctx context.Context,
	pattern *regexp.Regexp,
	timeout time.Duration,
	trigger func(context.Context) error,
) (bool, error) {
	h := r.Register(pattern)
	defer r.Unregister(h)

	if err := trigger(ctx); err != nil {
		return false, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.WaitOne(waitCtx, h), nil
}
