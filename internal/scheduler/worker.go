package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/internal/metrics"
	"github.com/watchpost/watchpost/pkg/models"
)

// CheckJob is one scheduled check for a single target.
type CheckJob struct {
	Target      *models.Target
	ScheduledAt time.Time
}

// WorkerPool executes check jobs on a fixed number of goroutines.
type WorkerPool struct {
	size          int
	jobQueue      chan *CheckJob
	handler       func(ctx context.Context, job *CheckJob)
	logger        *logging.Logger
	metrics       *metrics.Metrics
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	processedJobs int64
	activeWorkers int32
}

// NewWorkerPool creates a pool of size workers with a 2x buffered queue.
func NewWorkerPool(size int, logger *logging.Logger, m *metrics.Metrics, handler func(ctx context.Context, job *CheckJob)) *WorkerPool {
	if size <= 0 {
		size = 5
	}
	return &WorkerPool{
		size:     size,
		jobQueue: make(chan *CheckJob, size*2),
		handler:  handler,
		logger:   logger,
		metrics:  m,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	ctx, wp.cancel = context.WithCancel(ctx)

	wp.logger.WithComponent(logging.ComponentScheduler).
		WithFields(map[string]interface{}{
			"worker_count": wp.size,
			"queue_size":   cap(wp.jobQueue),
		}).
		Info("Starting worker pool")

	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.runWorker(ctx, i)
	}
}

// Stop closes the queue and lets the workers drain it. In-flight checks
// keep their context alive until the timeout expires; only then is the
// context cancelled to force the remaining workers out.
func (wp *WorkerPool) Stop(timeout time.Duration) {
	wp.logger.WithComponent(logging.ComponentScheduler).Info("Stopping worker pool")

	close(wp.jobQueue)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		wp.logger.WithComponent(logging.ComponentScheduler).
			Warn("Worker pool drain timed out, cancelling in-flight checks")
		wp.cancel()
		<-done
	}
	wp.cancel()

	wp.logger.WithComponent(logging.ComponentScheduler).
		WithFields(map[string]interface{}{
			"processed_jobs": atomic.LoadInt64(&wp.processedJobs),
		}).
		Info("Worker pool stopped")
}

// Submit enqueues a job without blocking. It reports false when the
// queue is full.
func (wp *WorkerPool) Submit(job *CheckJob) bool {
	select {
	case wp.jobQueue <- job:
		return true
	default:
		return false
	}
}

// ActiveWorkers returns the number of workers currently running a job.
func (wp *WorkerPool) ActiveWorkers() int {
	return int(atomic.LoadInt32(&wp.activeWorkers))
}

// PendingJobs returns the number of queued jobs.
func (wp *WorkerPool) PendingJobs() int {
	return len(wp.jobQueue)
}

// ProcessedJobs returns the total number of completed jobs.
func (wp *WorkerPool) ProcessedJobs() int64 {
	return atomic.LoadInt64(&wp.processedJobs)
}

func (wp *WorkerPool) runWorker(ctx context.Context, id int) {
	defer wp.wg.Done()

	wp.logger.WithComponent(logging.ComponentScheduler).
		WithFields(map[string]interface{}{"worker_id": id}).
		Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-wp.jobQueue:
			if !ok {
				return
			}
			atomic.AddInt32(&wp.activeWorkers, 1)
			wp.handler(ctx, job)
			atomic.AddInt32(&wp.activeWorkers, -1)
			atomic.AddInt64(&wp.processedJobs, 1)
		}
	}
}

// processJob runs one check end to end: execute the strategy, advance
// the state machine, feed the alert gate, and record the result. The
// in-flight marker is held for the whole pipeline so the same target
// cannot overlap itself.
func (s *Scheduler) processJob(ctx context.Context, job *CheckJob) {
	target := job.Target
	defer s.clearInFlight(target.ID)

	if s.metrics != nil {
		s.metrics.IncInFlight()
		defer s.metrics.DecInFlight()
	}

	start := time.Now()
	result := s.executeChecked(ctx, target)
	duration := time.Since(start)

	if ctx.Err() != nil {
		// Shutdown cancelled the check mid-flight; the aborted result
		// says nothing about the target's health.
		return
	}

	tr := s.targets.UpdateStatus(target.ID, result)
	if tr == nil {
		// Target was removed while its check ran; drop the result.
		s.logger.WithComponent(logging.ComponentScheduler).
			WithFields(map[string]interface{}{"target_id": target.ID}).
			Debug("Discarding result for removed target")
		return
	}

	if s.sink != nil {
		s.sink.Process(tr)
	}
	for _, r := range s.recorders {
		r.Record(target, result)
	}

	if s.metrics != nil {
		s.metrics.RecordCheck(target.Name, string(target.Kind), string(result.Status), duration)
		s.metrics.SetTargetState(target.Name, string(target.Kind), target.Group, string(tr.Current), tr.Target.Status.Failures)
	}

	var checkErr error
	if msg, ok := result.Metrics["error"].(string); ok {
		checkErr = fmt.Errorf("%s", msg)
	}
	s.logger.TargetCheck(target.ID, target.Name, string(target.Kind), string(result.Status), duration, checkErr)
}

// executeChecked shields the pipeline from a panicking strategy; the
// panic becomes an error result and flows through the state machine
// like any other failure.
func (s *Scheduler) executeChecked(ctx context.Context, target *models.Target) (result *models.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithComponent(logging.ComponentScheduler).
				WithTarget(target.ID, target.Name, string(target.Kind)).
				WithFields(map[string]interface{}{"panic": r}).
				Error("Check panicked")
			result = models.ErrorResult(fmt.Sprintf("internal check failure: %v", r), nil)
		}
	}()

	return s.executor.Execute(ctx, target)
}
