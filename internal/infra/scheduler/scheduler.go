package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job is one periodic unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler periodically runs a Job, each run bounded by timeout.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	job      Job
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler runs job every interval. If interval <= 0 it defaults to 1 minute;
// a timeout <= 0 defaults to the interval.
func NewScheduler(interval, timeout time.Duration, job Job, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = interval
	}
	l := logger.With().Str("job", job.Name()).Logger()
	return &Scheduler{
		interval: interval,
		timeout:  timeout,
		job:      job,
		log:      &l,
		done:     make(chan struct{}),
	}
}

// Start begins the loop in a background goroutine; calling it twice has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunNow(s.ctx)
		}
	}
}

// RunNow executes the job once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	if err := s.job.Run(runCtx); err != nil {
		s.log.Error().Err(err).Dur("took", time.Since(start)).Msg("scheduled job failed")
		return
	}
	s.log.Debug().Dur("took", time.Since(start)).Msg("scheduled job finished")
}

// Stop cancels the loop and waits for it to finish. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
	s.log.Info().Msg("scheduler stopped")
}
