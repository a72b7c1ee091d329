package wait

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hivemq/hivemq-testcontainer/expect"
)

// MultiStrategy succeeds once every child strategy succeeds.
type MultiStrategy struct {
	strategies []Strategy
}

var _ Strategy = (*MultiStrategy)(nil)

// All combines strategies. Children wait concurrently and the first failure cancels the others.
func All(strategies ...Strategy) *MultiStrategy {
	return &MultiStrategy{strategies: strategies}
}

func (m *MultiStrategy) Arm(reg *expect.Registry) (WaitFunc, func(), error) {
	waits := make([]WaitFunc, 0, len(m.strategies))
	releases := make([]func(), 0, len(m.strategies))
	release := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, s := range m.strategies {
		fn, rel, err := s.Arm(reg)
		if err != nil {
			release()
			return nil, nil, err
		}
		waits = append(waits, fn)
		releases = append(releases, rel)
	}

	waitFn := func(ctx context.Context, target Target) error {
		g, ctx := errgroup.WithContext(ctx)
		for _, fn := range waits {
			g.Go(func() error { return fn(ctx, target) })
		}
		return g.Wait()
	}
	return waitFn, release, nil
}
