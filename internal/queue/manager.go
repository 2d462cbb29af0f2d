// Package queue implements the in-process job queue: named queues with
// bounded worker pools, retry with exponential backoff, recurring jobs
// on cron schedules and bounded result retention.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"goldmap-platform/internal/models"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

// ProcessorFunc executes one job and reports how many items it handled
// plus any per-source failures the run tolerated.
type ProcessorFunc func(ctx context.Context, job *models.Job) (models.JobStats, error)

// exclusiveKeyer is implemented by payloads whose jobs must never run
// concurrently when they share a key.
type exclusiveKeyer interface {
	SourceKey() string
}

// Options tune the manager. Zero values fall back to defaults matching
// the production configuration.
type Options struct {
	Concurrency   int
	MaxAttempts   int
	BackoffDelay  time.Duration
	KeepCompleted int
	KeepFailed    int
	QueueSize     int
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffDelay <= 0 {
		opts.BackoffDelay = time.Second
	}
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = 100
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = 1000
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	return opts
}

// Manager owns the named queues and their worker pools.
type Manager struct {
	opts    Options
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	mu         sync.Mutex
	queues     map[string]*workQueue
	processors map[string]ProcessorFunc
	keyLocks   map[string]*sync.Mutex
	started    bool
	stopped    bool

	cron   *cron.Cron
	nextID atomic.Int64
	wg     sync.WaitGroup
}

// workQueue is one named queue and its counters.
type workQueue struct {
	name      string
	jobs      chan *models.Job
	waiting   atomic.Int64
	active    atomic.Int64
	completed *resultRing
	failed    *resultRing
}

// NewManager creates the manager with the standard queues registered.
func NewManager(opts Options, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Manager {
	m := &Manager{
		opts:       opts.withDefaults(),
		logger:     logger,
		metrics:    metricsCollector,
		queues:     make(map[string]*workQueue),
		processors: make(map[string]ProcessorFunc),
		keyLocks:   make(map[string]*sync.Mutex),
		cron:       cron.New(),
	}

	for _, name := range []string{
		models.QueueDataCollection,
		models.QueueDataProcessing,
		models.QueueSystemMaintenance,
	} {
		m.queues[name] = &workQueue{
			name:      name,
			jobs:      make(chan *models.Job, m.opts.QueueSize),
			completed: newResultRing(m.opts.KeepCompleted),
			failed:    newResultRing(m.opts.KeepFailed),
		}
	}

	return m
}

// RegisterProcessor binds a job type to its processor. Must be called
// before Start.
func (m *Manager) RegisterProcessor(jobType string, fn ProcessorFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processors[jobType] = fn
}

// Start launches the worker pools and the cron scheduler.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for _, q := range m.queues {
		for i := 0; i < m.opts.Concurrency; i++ {
			m.wg.Add(1)
			go m.worker(ctx, q)
		}
	}
	m.cron.Start()

	m.logger.Info(ctx, "[QUEUE_START] Queue manager started", logging.Fields{
		"queues":      len(m.queues),
		"concurrency": m.opts.Concurrency,
	})
}

// AddJob enqueues one job. Unknown queues and unregistered job types
// are rejected before the job is accepted.
func (m *Manager) AddJob(queue, jobType string, payload interface{}, opts *models.JobOptions) (*models.Job, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, fmt.Errorf("queue manager is shut down")
	}
	q, ok := m.queues[queue]
	if !ok {
		m.mu.Unlock()
		return nil, &models.ValidationError{Field: "queue", Value: queue, Message: "unknown queue"}
	}
	if _, ok := m.processors[jobType]; !ok {
		m.mu.Unlock()
		return nil, &models.ValidationError{Field: "type", Value: jobType, Message: "no processor registered for job type"}
	}
	m.mu.Unlock()

	maxAttempts := m.opts.MaxAttempts
	if opts != nil && opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}

	job := &models.Job{
		ID:          fmt.Sprintf("%s-%d", jobType, m.nextID.Add(1)),
		Queue:       queue,
		Type:        jobType,
		Payload:     payload,
		ScheduledAt: time.Now().UTC(),
		MaxAttempts: maxAttempts,
	}

	if err := m.enqueue(q, job); err != nil {
		return nil, err
	}

	m.logger.Debug(context.Background(), "[QUEUE_ADD] Job enqueued", logging.Fields{
		"job_id": job.ID,
		"queue":  queue,
		"type":   jobType,
	})

	return job, nil
}

// Schedule registers a recurring job on a cron spec. Every tick
// enqueues a fresh job with the given payload.
func (m *Manager) Schedule(spec, queue, jobType string, payload interface{}) (cron.EntryID, error) {
	m.mu.Lock()
	if _, ok := m.queues[queue]; !ok {
		m.mu.Unlock()
		return 0, &models.ValidationError{Field: "queue", Value: queue, Message: "unknown queue"}
	}
	m.mu.Unlock()

	id, err := m.cron.AddFunc(spec, func() {
		if _, err := m.AddJob(queue, jobType, payload, nil); err != nil {
			m.logger.Error(context.Background(), "[QUEUE_CRON_ERROR] Failed to enqueue scheduled job", logging.Fields{
				"queue": queue,
				"type":  jobType,
				"spec":  spec,
			}, err)
		}
	})
	if err != nil {
		return 0, &models.ValidationError{Field: "cron", Value: spec, Message: err.Error()}
	}

	m.logger.Info(context.Background(), "[QUEUE_SCHEDULE] Recurring job registered", logging.Fields{
		"queue": queue,
		"type":  jobType,
		"spec":  spec,
	})

	return id, nil
}

// Status returns the counters for one queue.
func (m *Manager) Status(queue string) (models.QueueStatus, error) {
	m.mu.Lock()
	q, ok := m.queues[queue]
	m.mu.Unlock()
	if !ok {
		return models.QueueStatus{}, &models.ValidationError{Field: "queue", Value: queue, Message: "unknown queue"}
	}

	return models.QueueStatus{
		Waiting:   int(q.waiting.Load()),
		Active:    int(q.active.Load()),
		Completed: q.completed.total(),
		Failed:    q.failed.total(),
	}, nil
}

// QueueNames lists the registered queue names.
func (m *Manager) QueueNames() []string {
	return []string{
		models.QueueDataCollection,
		models.QueueDataProcessing,
		models.QueueSystemMaintenance,
	}
}

// RecentFailures returns the retained failed results for one queue,
// newest last.
func (m *Manager) RecentFailures(queue string) ([]models.JobResult, error) {
	m.mu.Lock()
	q, ok := m.queues[queue]
	m.mu.Unlock()
	if !ok {
		return nil, &models.ValidationError{Field: "queue", Value: queue, Message: "unknown queue"}
	}
	return q.failed.snapshot(), nil
}

// RecentCompleted returns the retained completed results for one queue,
// newest last. Results of runs that lost individual sources carry those
// failures.
func (m *Manager) RecentCompleted(queue string) ([]models.JobResult, error) {
	m.mu.Lock()
	q, ok := m.queues[queue]
	m.mu.Unlock()
	if !ok {
		return nil, &models.ValidationError{Field: "queue", Value: queue, Message: "unknown queue"}
	}
	return q.completed.snapshot(), nil
}

// Shutdown stops intake, the cron scheduler and waits for in-flight
// jobs until the context expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	for _, q := range m.queues {
		close(q.jobs)
	}
	m.mu.Unlock()

	cronCtx := m.cron.Stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		<-cronCtx.Done()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info(context.Background(), "[QUEUE_STOP] Queue manager drained", logging.Fields{})
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown timed out: %w", ctx.Err())
	}
}

func (m *Manager) enqueue(q *workQueue, job *models.Job) error {
	select {
	case q.jobs <- job:
		q.waiting.Add(1)
		m.updateGauges(q)
		return nil
	default:
		return fmt.Errorf("queue %s is full", q.name)
	}
}

// worker consumes jobs until the queue channel closes or the context
// is cancelled.
func (m *Manager) worker(ctx context.Context, q *workQueue) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.waiting.Add(-1)
			m.runJob(ctx, q, job)
		}
	}
}

// runJob executes one attempt, retrying with exponential backoff while
// attempts remain. Jobs sharing an exclusion key are serialized.
func (m *Manager) runJob(ctx context.Context, q *workQueue, job *models.Job) {
	if keyer, ok := job.Payload.(exclusiveKeyer); ok {
		lock := m.lockForKey(keyer.SourceKey())
		lock.Lock()
		defer lock.Unlock()
	}

	q.active.Add(1)
	m.updateGauges(q)
	defer func() {
		q.active.Add(-1)
		m.updateGauges(q)
	}()

	ctx = logging.WithJobID(ctx, job.ID)
	job.Attempts++
	result := m.execute(ctx, job)

	m.metrics.JobDuration.WithLabelValues(q.name, job.Type).Observe(result.Duration.Seconds())

	if result.Success {
		q.completed.push(result)
		m.metrics.JobsCompletedTotal.WithLabelValues(q.name, job.Type).Inc()
		m.logger.Info(ctx, "[QUEUE_JOB_DONE] Job completed", logging.Fields{
			"job_id":          job.ID,
			"queue":           q.name,
			"type":            job.Type,
			"attempts":        job.Attempts,
			"items_processed": result.ItemsProcessed,
			"duration_ms":     result.Duration.Milliseconds(),
		})
		return
	}

	if job.Attempts < job.MaxAttempts {
		delay := m.backoff(job.Attempts)
		m.logger.Warn(ctx, "[QUEUE_JOB_RETRY] Job failed, scheduling retry", logging.Fields{
			"job_id":   job.ID,
			"queue":    q.name,
			"type":     job.Type,
			"attempts": job.Attempts,
			"delay_ms": delay.Milliseconds(),
			"error":    result.Error,
		})
		m.retryLater(q, job, delay)
		return
	}

	q.failed.push(result)
	m.metrics.JobsFailedTotal.WithLabelValues(q.name, job.Type).Inc()
	m.logger.Error(ctx, "[QUEUE_JOB_FAILED] Job exhausted all attempts", logging.Fields{
		"job_id":   job.ID,
		"queue":    q.name,
		"type":     job.Type,
		"attempts": job.Attempts,
	}, fmt.Errorf("%s", result.Error))
}

// execute runs the processor with panic containment. A panicking job
// becomes a failed result, never a dead worker.
func (m *Manager) execute(ctx context.Context, job *models.Job) (result models.JobResult) {
	result = models.JobResult{
		JobID:     job.ID,
		Type:      job.Type,
		StartTime: time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.EndTime = time.Now().UTC()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	m.mu.Lock()
	fn, ok := m.processors[job.Type]
	m.mu.Unlock()
	if !ok {
		result.Error = fmt.Sprintf("no processor registered for %s", job.Type)
		return result
	}

	stats, err := fn(ctx, job)
	result.ItemsProcessed = stats.ItemsProcessed
	result.Failures = stats.Failures
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	return result
}

// retryLater re-enqueues the job after the backoff delay, keeping its
// attempt count. A full or closed queue at retry time drops the job
// into the failed set.
func (m *Manager) retryLater(q *workQueue, job *models.Job, delay time.Duration) {
	m.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				// Send on closed channel during shutdown.
				q.failed.push(models.JobResult{
					JobID: job.ID,
					Type:  job.Type,
					Error: "retry dropped during shutdown",
				})
			}
		}()

		m.mu.Lock()
		stopped := m.stopped
		m.mu.Unlock()
		if stopped {
			q.failed.push(models.JobResult{
				JobID: job.ID,
				Type:  job.Type,
				Error: "retry dropped during shutdown",
			})
			return
		}

		if err := m.enqueue(q, job); err != nil {
			q.failed.push(models.JobResult{
				JobID: job.ID,
				Type:  job.Type,
				Error: err.Error(),
			})
		}
	})
}

// backoff doubles the base delay per prior attempt.
func (m *Manager) backoff(attempts int) time.Duration {
	delay := m.opts.BackoffDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

func (m *Manager) lockForKey(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.keyLocks[key] = lock
	}
	return lock
}

func (m *Manager) updateGauges(q *workQueue) {
	m.metrics.UpdateQueueGauges(q.name, int(q.waiting.Load()), int(q.active.Load()))
}
