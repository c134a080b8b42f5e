package schedule

import (
	"context"
	"time"

	"github.com/raulk/clock"
	"golang.org/x/xerrors"
)

// Periodic is a Job that calls a function every interval. A failing call is logged and
// retried on the next tick; the job only stops with an error once MaxFailures calls in
// a row have failed.
type Periodic struct {
	Name        string
	Interval    time.Duration
	MaxFailures int
	Func        func(context.Context) error
	Clock       clock.Clock
}

var _ Job = (*Periodic)(nil)

func (p *Periodic) Run(ctx context.Context) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(p.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := p.Func(ctx)
		if err == nil {
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failures++
		log.Warnw("periodic job failed", "name", p.Name, "failures", failures, "error", err)
		if p.MaxFailures > 0 && failures >= p.MaxFailures {
			return xerrors.Errorf("%s failed %d times in a row: %w", p.Name, failures, err)
		}
	}
}
