// Package wait polls conditions under deadlines.
package wait

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/xerrors"
)

// A CheckFunc returns true when the check has been passed and false if it has not.
type CheckFunc func(context.Context) (bool, error)

var errPending = xerrors.New("check pending")

// RepeatUntil calls c every period until it reports completion, returns an error or ctx
// is done. The first call is made immediately.
func RepeatUntil(ctx context.Context, period time.Duration, c CheckFunc) error {
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		done, err := c(ctx)
		switch {
		case err != nil:
			return backoff.Permanent(err)
		case !done:
			return errPending
		}
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(period), ctx))
}

// WithDeadline runs f with a context that expires after timeout. If f fails because that
// deadline passed, the error is replaced by timeoutErr. Cancellation of the parent
// context is returned unchanged.
func WithDeadline(ctx context.Context, timeout time.Duration, timeoutErr error, f func(context.Context) error) error {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := f(dctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if xerrors.Is(dctx.Err(), context.DeadlineExceeded) {
		return xerrors.Errorf("%w after %s: %v", timeoutErr, timeout, err)
	}
	return err
}
