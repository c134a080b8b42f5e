package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"

	"github.com/iota-community/sponsored-transactions-demo/metrics"
)

var log = logging.Logger("sponsor/schedule")

type Job interface {
	// Run starts running the job and blocks until the context is done or an error
	// occurs. Run may be called again after an error to retry the job so
	// implementations must ensure that Run resets any necessary state.
	Run(context.Context) error
}

type JobConfig struct {
	lk sync.Mutex
	id JobID

	running bool

	// errorMsg holds the error that last stopped the job.
	errorMsg string

	log *zap.SugaredLogger

	// Name is a human readable name for the job for use in logging and metrics
	Name string

	Job Job

	// RestartOnFailure controls whether the job should be restarted if it stops with an error.
	RestartOnFailure bool

	// RestartDelay is the amount of time to wait before restarting a failed job
	RestartDelay time.Duration
}

type JobID int

type JobResult struct {
	ID      JobID
	Name    string
	Error   string
	Running bool

	RestartOnFailure bool
	RestartDelay     time.Duration
}

// Scheduler runs a fixed set of background jobs for the lifetime of a context.
type Scheduler struct {
	jobs []*JobConfig
	wg   sync.WaitGroup
}

func NewScheduler(jobs ...*JobConfig) *Scheduler {
	s := &Scheduler{}
	for i, jc := range jobs {
		jc.id = JobID(i + 1)
		jc.log = log.With("id", jc.id, "name", jc.Name)
		s.jobs = append(s.jobs, jc)
	}
	return s
}

// Run starts every job and blocks until the context is done and all jobs have exited,
// or until all jobs have exited on their own.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Infow("starting scheduler", "jobs", len(s.jobs))
	for _, jc := range s.jobs {
		s.wg.Add(1)
		go func(jc *JobConfig) {
			defer s.wg.Done()
			s.execute(ctx, jc)
		}(jc)
	}
	s.wg.Wait()
	log.Info("all jobs complete, scheduler exiting")
	return ctx.Err()
}

func (s *Scheduler) Jobs() []JobResult {
	out := make([]JobResult, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.lk.Lock()
		out = append(out, JobResult{
			ID:               j.id,
			Name:             j.Name,
			Error:            j.errorMsg,
			Running:          j.running,
			RestartOnFailure: j.RestartOnFailure,
			RestartDelay:     j.RestartDelay,
		})
		j.lk.Unlock()
	}
	return out
}

func (s *Scheduler) execute(ctx context.Context, jc *JobConfig) {
	ctx = metrics.WithTagValue(ctx, metrics.Job, jc.Name)

	jc.lk.Lock()
	jc.running = true
	jc.lk.Unlock()

	defer func() {
		jc.lk.Lock()
		jc.running = false
		jc.lk.Unlock()
		jc.log.Info("job execution ended")
	}()

	doneFirstRun := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if doneFirstRun {
			jc.log.Infow("restarting job", "delay", jc.RestartDelay)
			if jc.RestartDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(jc.RestartDelay):
				}
			}
		} else {
			jc.log.Info("running job")
			doneFirstRun = true
		}

		metrics.RecordInc(ctx, metrics.JobStart)
		err := jc.Job.Run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			metrics.RecordInc(ctx, metrics.JobComplete)
			jc.log.Info("job exited cleanly")
			return
		}

		metrics.RecordInc(ctx, metrics.JobError)
		jc.log.Errorw("job exited with failure", "error", err.Error())
		jc.lk.Lock()
		jc.errorMsg = err.Error()
		jc.lk.Unlock()

		if !jc.RestartOnFailure {
			return
		}
	}
}
