package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hivemq/hivemq-testcontainer/expect"
)

// LogStrategy waits until every configured pattern has matched a line of output.
type LogStrategy struct {
	patterns []string
	timeout  time.Duration
}

var _ Strategy = (*LogStrategy)(nil)

// ForLog returns a strategy that is satisfied once each pattern has matched some output produced
// after the strategy was armed. Patterns are matched with "." spanning newlines and need not match
// the whole line.
func ForLog(patterns ...string) *LogStrategy {
	return &LogStrategy{patterns: patterns}
}

// WithTimeout bounds the wait. Without it the wait is bounded only by the context.
func (s *LogStrategy) WithTimeout(d time.Duration) *LogStrategy {
	s.timeout = max(d, 0)
	return s
}

func (s *LogStrategy) Arm(reg *expect.Registry) (WaitFunc, func(), error) {
	if len(s.patterns) == 0 {
		return nil, nil, errors.New("log strategy needs at least one pattern")
	}
	handles := make([]expect.Handle, 0, len(s.patterns))
	release := func() {
		for _, h := range handles {
			reg.Unregister(h)
		}
	}
	for _, p := range s.patterns {
		h, err := reg.RegisterPattern(p)
		if err != nil {
			release()
			return nil, nil, err
		}
		handles = append(handles, h)
	}

	waitFn := func(ctx context.Context, _ Target) error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		for i, h := range handles {
			if !reg.WaitOne(ctx, h) {
				err := ctx.Err()
				if err == nil {
					err = errors.New("expectation released")
				}
				return fmt.Errorf("%w: output did not match %q: %w", ErrNotReady, s.patterns[i], err)
			}
		}
		return nil
	}
	return waitFn, release, nil
}
