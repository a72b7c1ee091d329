package logstream

import (
	"io"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
)

type subscriber struct {
	id       uint64
	consumer Consumer
}

// Broadcaster delivers every published frame to all current subscribers, in publish order.
type Broadcaster struct {
	// deliverMu serializes Publish so all consumers observe one total order.
	deliverMu sync.Mutex
	seq       uint64

	mu     sync.RWMutex
	subs   []subscriber
	nextID uint64

	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster. A nil logger discards output.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Broadcaster{
		logger: logger.With(slog.String("logger", "logstream")),
	}
}

// Subscribe registers a consumer for all frames published from now on. The returned function
// removes the subscription and is safe to call more than once.
func (b *Broadcaster) Subscribe(c Consumer) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, consumer: c})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s subscriber) bool { return s.id == id })
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish copies data into a new frame and delivers it to every subscriber before returning.
func (b *Broadcaster) Publish(stream StreamType, data []byte) Frame {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.seq++
	frame := Frame{
		Seq:    b.seq,
		Stream: stream,
		Data:   slices.Clone(data),
	}

	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.safeDeliver(sub.consumer, frame)
	}
	return frame
}

// safeDeliver keeps one misbehaving consumer from starving the others.
func (b *Broadcaster) safeDeliver(c Consumer, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(
				"frame consumer panicked",
				slog.Uint64("seq", frame.Seq),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	c.OnFrame(frame)
}
