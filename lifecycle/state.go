package lifecycle

import "strconv"

// State is the outcome of a requested extension transition.
type State int

const (
	// Unknown means no transition was requested.
	Unknown State = iota
	// TransitionRequested means the marker mutation was attempted but not confirmed.
	TransitionRequested
	// Confirmed means the broker reported the transition.
	Confirmed
	// TimedOut means the broker did not report the transition in time.
	TimedOut
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case TransitionRequested:
		return "transition-requested"
	case Confirmed:
		return "confirmed"
	case TimedOut:
		return "timed-out"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}
