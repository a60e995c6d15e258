package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/vulnsync/internal/infra/redis"
	"github.com/openctemio/vulnsync/internal/metrics"
	"github.com/openctemio/vulnsync/pkg/domain/rule"
	"github.com/openctemio/vulnsync/pkg/domain/shared"
	"github.com/openctemio/vulnsync/pkg/logger"
)

// ErrRunInProgress is returned when a run is requested while one is going.
var ErrRunInProgress = errors.New("a run is already in progress")

// RunGuard serialises runs across replicas.
type RunGuard interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// SyncScheduler triggers SyncService runs on a cron schedule. A tick that
// fires while the previous run is still going is skipped.
type SyncScheduler struct {
	service *SyncService
	guard   RunGuard
	log     *logger.Logger
	cron    *cron.Cron

	optsMu sync.RWMutex
	opts   RunOptions

	last atomic.Pointer[RunReport]

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool

	// runMu is held for the duration of a run.
	runMu sync.Mutex
}

// NewSyncScheduler creates a scheduler for spec, a five-field cron
// expression or a descriptor such as "@hourly". guard may be nil.
func NewSyncScheduler(service *SyncService, spec string, opts RunOptions, guard RunGuard, log *logger.Logger) (*SyncScheduler, error) {
	s := &SyncScheduler{
		service: service,
		guard:   guard,
		opts:    opts,
		log:     log.With("service", "sync_scheduler"),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		s.cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the scheduler. It does not block.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("starting sync scheduler", "next_run", s.cron.Entries()[0].Schedule.Next(time.Now()))
	s.cron.Start()
}

// Stop stops scheduling, cancels a run in progress and waits for it to
// return or for ctx to expire.
func (s *SyncScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("stopping sync scheduler")
	stopped := s.cron.Stop()
	s.cancel()
	select {
	case <-stopped.Done():
		s.log.Info("sync scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("sync scheduler stop timed out")
	}
}

// SetOptions replaces the options used by subsequent runs.
func (s *SyncScheduler) SetOptions(opts RunOptions) {
	s.optsMu.Lock()
	s.opts = opts
	s.optsMu.Unlock()
}

// Reconfigure swaps the rule chain and run options together, so no run
// sees the new rules with the old options or the reverse.
func (s *SyncScheduler) Reconfigure(rules []*rule.Rule, opts RunOptions) {
	s.optsMu.Lock()
	defer s.optsMu.Unlock()
	s.service.SetRules(rules)
	s.opts = opts
}

// snapshot returns the rule chain and options for the next run.
func (s *SyncScheduler) snapshot() ([]*rule.Rule, RunOptions) {
	s.optsMu.RLock()
	defer s.optsMu.RUnlock()
	return s.service.Rules(), s.opts
}

// LastReport returns the report of the most recent run, or nil.
func (s *SyncScheduler) LastReport() *RunReport {
	return s.last.Load()
}

// RunNow performs a run immediately under the guard. Returns
// ErrRunInProgress if a run is already going in this process.
func (s *SyncScheduler) RunNow(ctx context.Context) (*RunReport, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()
	return s.run(ctx)
}

// Trigger starts a run in the background and returns immediately.
func (s *SyncScheduler) Trigger() error {
	if !s.runMu.TryLock() {
		return ErrRunInProgress
	}
	go func() {
		defer s.runMu.Unlock()
		_, err := s.run(s.ctx)
		s.logResult(err)
	}()
	return nil
}

func (s *SyncScheduler) run(ctx context.Context) (*RunReport, error) {
	var report *RunReport
	run := func(ctx context.Context) error {
		rules, opts := s.snapshot()
		var err error
		report, err = s.service.RunWith(ctx, rules, opts)
		if report != nil {
			s.last.Store(report)
		}
		return err
	}

	if s.guard == nil {
		err := run(ctx)
		return report, err
	}
	err := s.guard.Do(ctx, run)
	return report, err
}

func (s *SyncScheduler) tick() {
	_, err := s.RunNow(s.ctx)
	s.logResult(err)
}

func (s *SyncScheduler) logResult(err error) {
	switch {
	case err == nil:
	case errors.Is(err, redis.ErrLockHeld):
		metrics.RunsTotal.WithLabelValues("skipped").Inc()
		s.log.Info("run skipped, another replica holds the lock")
	case errors.Is(err, redis.ErrLockLost):
		s.log.Warn("run stopped, the run lock expired or was taken over", "error", err)
	case errors.Is(err, ErrRunInProgress):
		metrics.RunsTotal.WithLabelValues("skipped").Inc()
		s.log.Info("run skipped, previous run still going")
	case errors.Is(err, context.Canceled):
		s.log.Info("run cancelled")
	case shared.IsFatal(err):
		s.log.Warn("scheduled run aborted before writing, retrying on next tick", "error", err)
	default:
		// Already logged by the service; keep the scheduler alive.
		s.log.Debug("scheduled run failed", "error", err)
	}
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
