// Package logstream fans the output of an observed process out to any number of consumers.
//
// A [Broadcaster] receives output chunks from a single producer, stamps each one with a sequence
// number and hands it to every subscribed [Consumer] in the same order. Delivery is synchronous:
// when [Broadcaster.Publish] returns, every consumer has seen the frame. Consumers that subscribe
// later never see earlier frames.
//
// [LineWriter] adapts a raw byte stream (for example a demultiplexed Docker log stream) into one
// frame per line, so a line is never split across two frames.
package logstream

import "fmt"

// StreamType identifies the output stream a frame was read from.
type StreamType uint8

const (
	Stdout StreamType = iota + 1
	Stderr
)

func (s StreamType) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", uint8(s))
	}
}

// Frame is an immutable chunk of process output.
type Frame struct {
	// Seq is assigned by the broadcaster and strictly increases across all streams.
	Seq    uint64
	Stream StreamType
	Data   []byte
}

// Text returns the frame content as a string.
func (f Frame) Text() string {
	return string(f.Data)
}

// Consumer receives frames from a [Broadcaster].
type Consumer interface {
	OnFrame(Frame)
}

// ConsumerFunc adapts a function to the [Consumer] interface.
type ConsumerFunc func(Frame)

func (f ConsumerFunc) OnFrame(frame Frame) { f(frame) }
