package logstream

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recorder) OnFrame(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Text())
	}
	return out
}

func TestBroadcasterOrderAndFanOut(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	var first, second recorder
	b.Subscribe(&first)
	b.Subscribe(&second)

	for i := range 100 {
		b.Publish(Stdout, []byte(fmt.Sprintf("line %d\n", i)))
	}

	require.Len(t, first.frames, 100)
	require.Equal(t, first.texts(), second.texts())
	for i, f := range first.frames {
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.Equal(t, second.frames[i].Seq, f.Seq)
	}
}

func TestBroadcasterConcurrentProducersKeepTotalOrder(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	var first, second recorder
	b.Subscribe(&first)
	b.Subscribe(&second)

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				b.Publish(Stderr, []byte(fmt.Sprintf("p%d-%d", p, i)))
			}
		}()
	}
	wg.Wait()

	require.Len(t, first.frames, 200)
	require.Equal(t, first.texts(), second.texts())
	for i := 1; i < len(first.frames); i++ {
		require.Less(t, first.frames[i-1].Seq, first.frames[i].Seq)
	}
}

func TestBroadcasterLateSubscriberSeesNoHistory(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	b.Publish(Stdout, []byte("before\n"))

	var r recorder
	b.Subscribe(&r)
	b.Publish(Stdout, []byte("after\n"))

	require.Equal(t, []string{"after\n"}, r.texts())
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	var r recorder
	unsubscribe := b.Subscribe(&r)
	require.Equal(t, 1, b.SubscriberCount())

	b.Publish(Stdout, []byte("one"))
	unsubscribe()
	unsubscribe()
	b.Publish(Stdout, []byte("two"))

	require.Equal(t, 0, b.SubscriberCount())
	require.Equal(t, []string{"one"}, r.texts())
}

func TestBroadcasterRecoversConsumerPanic(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	b.Subscribe(ConsumerFunc(func(Frame) { panic("boom") }))
	var r recorder
	b.Subscribe(&r)

	require.NotPanics(t, func() { b.Publish(Stdout, []byte("still delivered")) })
	require.Equal(t, []string{"still delivered"}, r.texts())
}

func TestFrameDataIsCopied(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	var r recorder
	b.Subscribe(&r)

	data := []byte("original")
	b.Publish(Stdout, data)
	copy(data, "mutated!")

	require.Equal(t, "original", r.frames[0].Text())
}

func TestLineWriter(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	var r recorder
	b.Subscribe(&r)
	w := NewLineWriter(b, Stdout)

	_, err := w.Write([]byte("Extension \"My Ext\" version 1.0 st"))
	require.NoError(t, err)
	require.Empty(t, r.texts())

	_, err = w.Write([]byte("arted successfully\nsecond\nthi"))
	require.NoError(t, err)
	require.Equal(t, []string{"Extension \"My Ext\" version 1.0 started successfully\n", "second\n"}, r.texts())

	w.Flush()
	w.Flush()
	require.Equal(t, []string{"Extension \"My Ext\" version 1.0 started successfully\n", "second\n", "thi"}, r.texts())
	for _, f := range r.frames {
		require.Equal(t, Stdout, f.Stream)
	}
}

func TestPrinter(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	b.Subscribe(p)

	b.Publish(Stdout, []byte("visible\n"))
	p.SetSilent(true)
	b.Publish(Stdout, []byte("hidden\n"))
	p.SetSilent(false)
	b.Publish(Stderr, []byte("visible again\n"))

	require.Equal(t, "visible\nvisible again\n", buf.String())
}
