package wait

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestRepeatUntilCompletes(t *testing.T) {
	calls := 0
	err := RepeatUntil(context.Background(), time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRepeatUntilReturnsCheckError(t *testing.T) {
	boom := xerrors.New("boom")
	err := RepeatUntil(context.Background(), time.Millisecond, func(context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWithDeadlineMapsTimeout(t *testing.T) {
	errTimeout := xerrors.New("timed out")
	err := WithDeadline(context.Background(), 20*time.Millisecond, errTimeout, func(ctx context.Context) error {
		return RepeatUntil(ctx, time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
	})
	assert.ErrorIs(t, err, errTimeout)
}

func TestWithDeadlineKeepsCancellation(t *testing.T) {
	errTimeout := xerrors.New("timed out")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithDeadline(ctx, time.Minute, errTimeout, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errTimeout)
}

func TestRepeatUntilStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RepeatUntil(ctx, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}
