// Package scheduler drives the check loop: a one-second scan finds due
// targets and hands them to a bounded worker pool. A target is never
// checked concurrently with itself; slow checks delay only their own
// target.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/watchpost/watchpost/internal/config"
	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/internal/metrics"
	"github.com/watchpost/watchpost/pkg/models"
)

// TargetSource is the registry surface the scheduler needs.
type TargetSource interface {
	ListAll() map[string]*models.Target
	UpdateStatus(id string, result *models.CheckResult) *models.Transition
	KindCounts() map[models.TargetKind]int
}

// CheckExecutor runs one check for a target of any kind.
type CheckExecutor interface {
	Execute(ctx context.Context, target *models.Target) *models.CheckResult
}

// TransitionSink receives every state transition, alerting on edges.
type TransitionSink interface {
	Process(tr *models.Transition)
}

// ResultRecorder receives every raw check result for persistence.
type ResultRecorder interface {
	Record(target *models.Target, result *models.CheckResult)
}

// Scheduler owns the scan loop and the worker pool.
type Scheduler struct {
	cfg       config.MonitoringConfig
	targets   TargetSource
	executor  CheckExecutor
	sink      TransitionSink
	recorders []ResultRecorder
	metrics   *metrics.Metrics
	logger    *logging.Logger

	workers *WorkerPool

	inFlight map[string]bool
	flightMu sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.RWMutex
}

// NewScheduler wires the scan loop to its collaborators. recorders may
// be empty; sink may be nil when alerting is disabled.
func NewScheduler(cfg config.MonitoringConfig, targets TargetSource, executor CheckExecutor, sink TransitionSink, m *metrics.Metrics, logger *logging.Logger, recorders ...ResultRecorder) *Scheduler {
	if cfg.ScanTick <= 0 {
		cfg.ScanTick = time.Second
	}
	if cfg.ScanErrorBackoff <= 0 {
		cfg.ScanErrorBackoff = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.DefaultCheckInterval <= 0 {
		cfg.DefaultCheckInterval = 60
	}

	s := &Scheduler{
		cfg:       cfg,
		targets:   targets,
		executor:  executor,
		sink:      sink,
		recorders: recorders,
		metrics:   m,
		logger:    logger,
		inFlight:  make(map[string]bool),
		stopChan:  make(chan struct{}),
	}
	s.workers = NewWorkerPool(cfg.Workers, logger, m, s.processJob)
	return s
}

// Start launches the worker pool and the scan loop and returns
// immediately. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.logger.WithComponent(logging.ComponentScheduler).Info("Starting scheduler")

	// The job queue closes on Stop, so a restart needs a fresh pool.
	// Markers left behind by a forced shutdown are cleared too, or
	// their targets would never be scheduled again.
	s.stopChan = make(chan struct{})
	s.flightMu.Lock()
	s.inFlight = make(map[string]bool)
	s.flightMu.Unlock()
	s.workers = NewWorkerPool(s.cfg.Workers, s.logger, s.metrics, s.processJob)
	s.workers.Start(ctx)

	s.wg.Add(1)
	go s.scanLoop(ctx)

	s.running = true
	return nil
}

// Stop shuts the scheduler down, waiting up to the configured stop
// timeout for in-flight checks to drain.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.WithComponent(logging.ComponentScheduler).Info("Stopping scheduler")

	close(s.stopChan)
	s.workers.Stop(s.cfg.StopTimeout)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		s.running = false
		return fmt.Errorf("scheduler stop timed out after %s", s.cfg.StopTimeout)
	}

	s.running = false
	return nil
}

// IsRunning reports whether the scan loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Stats is a point-in-time snapshot of scheduler activity.
type Stats struct {
	Running       bool  `json:"running"`
	Targets       int   `json:"targets"`
	ActiveWorkers int   `json:"active_workers"`
	PendingJobs   int   `json:"pending_jobs"`
	ProcessedJobs int64 `json:"processed_jobs"`
}

// GetStats returns current scheduler statistics.
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Running:       s.running,
		Targets:       len(s.targets.ListAll()),
		ActiveWorkers: s.workers.ActiveWorkers(),
		PendingJobs:   s.workers.PendingJobs(),
		ProcessedJobs: s.workers.ProcessedJobs(),
	}
}

func (s *Scheduler) scanLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ScanTick)
	defer ticker.Stop()

	s.logger.WithComponent(logging.ComponentScheduler).Info("Scan loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.WithComponent(logging.ComponentScheduler).Info("Scan loop stopped by context")
			return
		case <-s.stopChan:
			s.logger.WithComponent(logging.ComponentScheduler).Info("Scan loop stopped by signal")
			return
		case now := <-ticker.C:
			if !s.scan(ctx, now) {
				// A failed scan must not spin the loop.
				select {
				case <-ctx.Done():
					return
				case <-s.stopChan:
					return
				case <-time.After(s.cfg.ScanErrorBackoff):
				}
			}
		}
	}
}

// scan dispatches every due target. It reports false when the scan
// itself blew up, which triggers the error backoff.
func (s *Scheduler) scan(ctx context.Context, now time.Time) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithComponent(logging.ComponentScheduler).
				WithFields(map[string]interface{}{"panic": r}).
				Error("Scan failed")
			ok = false
		}
	}()

	targets := s.targets.ListAll()
	if s.metrics != nil {
		counts := make(map[string]int)
		for kind, n := range s.targets.KindCounts() {
			counts[string(kind)] = n
		}
		s.metrics.UpdateTargetCounts(counts)
	}

	for id, target := range targets {
		if !s.isDue(target, now) {
			continue
		}
		if !s.markInFlight(id) {
			continue
		}

		job := &CheckJob{Target: target, ScheduledAt: now}
		if !s.workers.Submit(job) {
			s.clearInFlight(id)
			s.logger.WithComponent(logging.ComponentScheduler).
				WithFields(map[string]interface{}{"target_id": id}).
				Warn("Worker pool full, skipping check")
		}
	}
	return true
}

// isDue reports whether the target's interval has elapsed since its
// last completed check. A target that has never been checked is due
// immediately.
func (s *Scheduler) isDue(target *models.Target, now time.Time) bool {
	if target.Status.LastCheck == nil {
		return true
	}
	interval := target.CheckInterval
	if interval <= 0 {
		interval = s.cfg.DefaultCheckInterval
	}
	return !now.Before(target.Status.LastCheck.Add(time.Duration(interval) * time.Second))
}

func (s *Scheduler) markInFlight(id string) bool {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) clearInFlight(id string) {
	s.flightMu.Lock()
	delete(s.inFlight, id)
	s.flightMu.Unlock()
}
