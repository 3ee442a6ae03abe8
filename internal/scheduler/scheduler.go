// Package scheduler triggers crawl cycles on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-health-crawler/internal/metrics"
)

// Job is one unit of scheduled work, typically a crawl cycle.
type Job func(ctx context.Context) error

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart controls whether a cycle fires immediately on Start.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

// Scheduler fires Job every interval. At most one job runs at a time; a
// tick that arrives while a job is running is skipped.
type Scheduler struct {
	interval   time.Duration
	job        Job
	logger     *zap.Logger
	runOnStart bool

	running atomic.Bool
	skipped atomic.Int64

	mu       sync.Mutex
	started  bool
	stopped  bool
	quit     chan struct{}
	loopDone chan struct{}
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New validates the interval and returns an idle Scheduler.
func New(interval time.Duration, job Job, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be > 0, got %s", interval)
	}
	if job == nil {
		return nil, errors.New("scheduler job is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		interval:   interval,
		job:        job,
		logger:     logger,
		runOnStart: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the ticker loop. Ticking stops when ctx is done or Stop is
// called; jobs run on a context that only Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	s.quit = make(chan struct{})
	s.loopDone = make(chan struct{})

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	go s.loop(ctx, jobCtx)
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Bool("run_on_start", s.runOnStart),
	)
	return nil
}

func (s *Scheduler) loop(ctx, jobCtx context.Context) {
	defer close(s.loopDone)
	if s.runOnStart {
		s.trigger(jobCtx)
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			s.trigger(jobCtx)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.ObserveSkippedCycle()
		s.logger.Warn("previous cycle still running, skipping tick")
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.running.Store(false)
		if err := s.job(ctx); err != nil {
			s.logger.Error("scheduled cycle failed", zap.Error(err))
		}
	}()
}

// Running reports whether a job is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Skipped returns how many ticks were dropped because a job was running.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

// Stop halts ticking and waits for the in-flight job until ctx is done. On
// expiry the job's context is canceled and ctx's error returned. Calling
// Stop more than once, or before Start, is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.quit)
	s.mu.Unlock()

	<-s.loopDone

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("scheduler stop timed out, abandoning in-flight cycle")
		return ctx.Err()
	}
}
