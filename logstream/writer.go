package logstream

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
)

// LineWriter is an io.Writer that publishes one frame per complete line. Bytes after the last
// newline are held back until the line is completed or Flush is called.
type LineWriter struct {
	b      *Broadcaster
	stream StreamType

	mu  sync.Mutex
	buf []byte
}

// NewLineWriter returns a writer publishing to b as the given stream.
func NewLineWriter(b *Broadcaster, stream StreamType) *LineWriter {
	return &LineWriter{b: b, stream: stream}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.b.Publish(w.stream, w.buf[:i+1])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return len(p), nil
}

// Flush publishes any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.b.Publish(w.stream, w.buf)
		w.buf = nil
	}
}

// Printer echoes frames to a writer unless it is silenced.
type Printer struct {
	w      io.Writer
	mu     sync.Mutex
	silent atomic.Bool
}

// NewPrinter returns a consumer that copies every frame to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// SetSilent toggles printing. It may be called while frames are flowing.
func (p *Printer) SetSilent(silent bool) {
	p.silent.Store(silent)
}

func (p *Printer) OnFrame(frame Frame) {
	if p.silent.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.w.Write(frame.Data)
}
