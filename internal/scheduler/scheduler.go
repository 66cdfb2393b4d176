// Package scheduler runs the periodic sweeps: missed alarms, overdue goals and ledger reconciliation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"goalstake-backend/internal/metrics"
)

const defaultJobTimeout = 55 * time.Second

type JobFunc func(ctx context.Context, now time.Time) error

type Scheduler struct {
	cron    *cron.Cron
	lease   Lease
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]JobFunc
	ctx  context.Context
	stop context.CancelFunc
}

type Option func(*Scheduler)

func WithLease(l Lease) Option {
	return func(s *Scheduler) { s.lease = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(log *zap.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Scheduler{
		lease:   localLease{},
		log:     log,
		now:     time.Now,
		timeout: defaultJobTimeout,
		jobs:    map[string]JobFunc{},
		ctx:     ctx,
		stop:    stop,
	}
	for _, opt := range opts {
		opt(s)
	}

	clog := cronLogger{log.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	return s
}

// Add registers fn under name on a cron spec ("@every 1m", "*/5 * * * *").
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}

	if _, err := s.cron.AddFunc(spec, func() { _ = s.RunOnce(s.ctx, name) }); err != nil {
		return fmt.Errorf("scheduler: job %q spec %q: %w", name, spec, err)
	}
	s.jobs[name] = fn
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stop()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

// RunOnce runs one tick of a job under the lease. A tick skipped because another replica holds
// the lease is not an error.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	release, acquired, err := s.lease.Acquire(ctx, name, s.timeout)
	if err != nil {
		s.log.Warn("scheduler lease failed", zap.String("job", name), zap.Error(err))
		metrics.RecordSchedulerRun(name, err)
		return err
	}
	if !acquired {
		s.log.Debug("scheduler tick held elsewhere", zap.String("job", name))
		return nil
	}
	defer release()

	started := time.Now()
	err = fn(ctx, s.now())
	metrics.RecordSchedulerRun(name, err)
	if err != nil {
		s.log.Error("scheduler job failed", zap.String("job", name), zap.Duration("took", time.Since(started)), zap.Error(err))
		return err
	}
	s.log.Debug("scheduler job done", zap.String("job", name), zap.Duration("took", time.Since(started)))
	return nil
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
