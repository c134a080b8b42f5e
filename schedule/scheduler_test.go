package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/iota-community/sponsored-transactions-demo/schedule"
)

func newTestJob() *testJob {
	return &testJob{
		errChan: make(chan error),
		started: make(chan struct{}, 4),
		stopped: make(chan struct{}, 4),
	}
}

type testJob struct {
	// for causing the Run method to return an err
	errChan chan error
	// for blocking until the job is running
	started chan struct{}
	// for blocking until the job is stopped
	stopped chan struct{}
}

func (r *testJob) Run(ctx context.Context) error {
	r.started <- struct{}{}
	defer func() {
		r.stopped <- struct{}{}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case chanErr := <-r.errChan:
		return chanErr
	}
}

func runScheduler(ctx context.Context, s *schedule.Scheduler) chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	return done
}

func TestScheduler(t *testing.T) {
	t.Run("Scheduler List Jobs", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		tJob := newTestJob()

		s := schedule.NewScheduler(&schedule.JobConfig{
			Name: t.Name(),
			Job:  tJob,
		})
		done := runScheduler(ctx, s)

		// wait for it to start
		<-tJob.started

		jobs := s.Jobs()
		require.Len(t, jobs, 1)
		assert.True(t, jobs[0].Running)
		assert.Equal(t, schedule.JobID(1), jobs[0].ID)
		assert.Equal(t, t.Name(), jobs[0].Name)

		cancel()
		assert.Equal(t, context.Canceled, <-done)
		assert.False(t, s.Jobs()[0].Running)
		assert.Empty(t, s.Jobs()[0].Error)
	})

	t.Run("Job restarts on failure", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		tJob := newTestJob()

		s := schedule.NewScheduler(&schedule.JobConfig{
			Name:             t.Name(),
			Job:              tJob,
			RestartOnFailure: true,
		})
		done := runScheduler(ctx, s)
		<-tJob.started

		// cause the job to return an error
		tJob.errChan <- errors.New("FAIL")
		<-tJob.stopped
		<-tJob.started

		// the job should remain running
		jobs := s.Jobs()
		assert.True(t, jobs[0].Running)
		assert.Equal(t, "FAIL", jobs[0].Error)

		cancel()
		assert.Equal(t, context.Canceled, <-done)
	})

	t.Run("Job stays stopped without restart", func(t *testing.T) {
		tJob := newTestJob()
		s := schedule.NewScheduler(&schedule.JobConfig{
			Name: t.Name(),
			Job:  tJob,
		})
		done := runScheduler(context.Background(), s)
		<-tJob.started

		tJob.errChan <- errors.New("FAIL")
		assert.NoError(t, <-done)

		jobs := s.Jobs()
		assert.False(t, jobs[0].Running)
		assert.Equal(t, "FAIL", jobs[0].Error)
	})
}

// tickUntil advances clk one interval at a time until done yields a value.
func tickUntil(t *testing.T, clk *clock.Mock, interval time.Duration, done chan error) error {
	for i := 0; i < 200; i++ {
		clk.Add(interval)
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Millisecond):
		}
	}
	t.Fatal("periodic job did not finish")
	return nil
}

func TestPeriodic(t *testing.T) {
	t.Run("runs every interval", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		clk := clock.NewMock()
		var calls atomic.Int32

		p := &schedule.Periodic{
			Name:     "count",
			Interval: time.Second,
			Clock:    clk,
			Func: func(ctx context.Context) error {
				if calls.Inc() == 3 {
					cancel()
				}
				return nil
			},
		}
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		assert.Equal(t, context.Canceled, tickUntil(t, clk, time.Second, done))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("stops after consecutive failures", func(t *testing.T) {
		clk := clock.NewMock()
		var calls atomic.Int32
		boom := errors.New("boom")

		p := &schedule.Periodic{
			Name:        "fail",
			Interval:    time.Second,
			MaxFailures: 2,
			Clock:       clk,
			Func: func(ctx context.Context) error {
				calls.Inc()
				return boom
			},
		}
		done := make(chan error, 1)
		go func() { done <- p.Run(context.Background()) }()

		err := tickUntil(t, clk, time.Second, done)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int32(2), calls.Load())
	})
}
