package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"goldmap-platform/internal/models"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

// One collector per test binary; promauto registers globally.
var testMetrics = metrics.NewCollector("queue_test")

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("queue-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func testOptions() Options {
	return Options{
		Concurrency:  2,
		MaxAttempts:  3,
		BackoffDelay: 5 * time.Millisecond,
	}
}

func startManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m := NewManager(opts, testLogger(), testMetrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManager_RunsJob(t *testing.T) {
	m := startManager(t, testOptions())

	var processed atomic.Int64
	m.RegisterProcessor("count-items", func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		processed.Add(1)
		return models.JobStats{
			ItemsProcessed: 7,
			Failures:       []string{"usgs-deposit: Invalid typename"},
		}, nil
	})
	m.Start(context.Background())

	job, err := m.AddJob(models.QueueDataProcessing, "count-items", nil, nil)
	if err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if job.ID == "" || job.MaxAttempts != 3 {
		t.Errorf("job = %+v, want generated id and default max attempts", job)
	}

	waitFor(t, 2*time.Second, func() bool { return processed.Load() == 1 })

	status, err := m.Status(models.QueueDataProcessing)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Completed != 1 || status.Failed != 0 {
		t.Errorf("status = %+v, want 1 completed", status)
	}

	// The retained result carries both the item count and the
	// per-source failures the run tolerated.
	completed, err := m.RecentCompleted(models.QueueDataProcessing)
	if err != nil {
		t.Fatalf("RecentCompleted() error = %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("RecentCompleted() retained %d results, want 1", len(completed))
	}
	got := completed[0]
	if got.ItemsProcessed != 7 || !got.Success {
		t.Errorf("result = %+v, want 7 items on a successful result", got)
	}
	if len(got.Failures) != 1 || got.Failures[0] != "usgs-deposit: Invalid typename" {
		t.Errorf("result failures = %v, want the tolerated source failure retained", got.Failures)
	}
}

func TestManager_RejectsUnknownQueueAndType(t *testing.T) {
	m := startManager(t, testOptions())
	m.RegisterProcessor("known", func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		return models.JobStats{}, nil
	})
	m.Start(context.Background())

	if _, err := m.AddJob("no-such-queue", "known", nil, nil); err == nil {
		t.Error("AddJob() should reject unknown queues")
	}
	if _, err := m.AddJob(models.QueueDataCollection, "unregistered", nil, nil); err == nil {
		t.Error("AddJob() should reject job types without processors")
	}
}

func TestManager_RetriesWithBackoff(t *testing.T) {
	m := startManager(t, testOptions())

	var attempts atomic.Int64
	m.RegisterProcessor("flaky", func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		if attempts.Add(1) < 3 {
			return models.JobStats{}, errors.New("transient upstream error")
		}
		return models.JobStats{ItemsProcessed: 1}, nil
	})
	m.Start(context.Background())

	if _, err := m.AddJob(models.QueueDataCollection, "flaky", nil, nil); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return attempts.Load() == 3 })

	waitFor(t, 2*time.Second, func() bool {
		status, _ := m.Status(models.QueueDataCollection)
		return status.Completed == 1
	})
	status, _ := m.Status(models.QueueDataCollection)
	if status.Failed != 0 {
		t.Errorf("status = %+v, a job that succeeds within max attempts must not count as failed", status)
	}
}

func TestManager_ExhaustedJobLandsInFailedSet(t *testing.T) {
	m := startManager(t, testOptions())

	var attempts atomic.Int64
	m.RegisterProcessor("doomed", func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		attempts.Add(1)
		return models.JobStats{}, errors.New("permanent failure")
	})
	m.Start(context.Background())

	if _, err := m.AddJob(models.QueueDataCollection, "doomed", nil, nil); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		status, _ := m.Status(models.QueueDataCollection)
		return status.Failed == 1
	})

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want exactly max attempts (3)", got)
	}

	failures, err := m.RecentFailures(models.QueueDataCollection)
	if err != nil {
		t.Fatalf("RecentFailures() error = %v", err)
	}
	if len(failures) != 1 || failures[0].Error != "permanent failure" {
		t.Errorf("failures = %+v, want the terminal error retained", failures)
	}
}

func TestManager_PanicBecomesFailedResult(t *testing.T) {
	m := startManager(t, Options{Concurrency: 1, MaxAttempts: 1, BackoffDelay: time.Millisecond})

	m.RegisterProcessor("panics", func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		panic("boom")
	})
	m.RegisterProcessor("survivor", func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		return models.JobStats{ItemsProcessed: 1}, nil
	})
	m.Start(context.Background())

	if _, err := m.AddJob(models.QueueSystemMaintenance, "panics", nil, nil); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if _, err := m.AddJob(models.QueueSystemMaintenance, "survivor", nil, nil); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	// The worker must survive the panic and keep processing.
	waitFor(t, 5*time.Second, func() bool {
		status, _ := m.Status(models.QueueSystemMaintenance)
		return status.Completed == 1 && status.Failed == 1
	})

	failures, _ := m.RecentFailures(models.QueueSystemMaintenance)
	if len(failures) != 1 || failures[0].Error != "panic: boom" {
		t.Errorf("failures = %+v, want the panic captured", failures)
	}
}

type keyedPayload struct {
	key string
}

func (p keyedPayload) SourceKey() string { return p.key }

func TestManager_SerializesJobsSharingKey(t *testing.T) {
	m := startManager(t, Options{Concurrency: 4, MaxAttempts: 1, BackoffDelay: time.Millisecond})

	var mu sync.Mutex
	var running, maxRunning int
	var done atomic.Int64
	m.RegisterProcessor("keyed", func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		done.Add(1)
		return models.JobStats{}, nil
	})
	m.Start(context.Background())

	for i := 0; i < 4; i++ {
		if _, err := m.AddJob(models.QueueDataCollection, "keyed", keyedPayload{key: "usgs-mrds"}, nil); err != nil {
			t.Fatalf("AddJob() error = %v", err)
		}
	}

	waitFor(t, 5*time.Second, func() bool { return done.Load() == 4 })

	mu.Lock()
	defer mu.Unlock()
	if maxRunning != 1 {
		t.Errorf("max concurrent keyed jobs = %d, jobs sharing a key must be serialized", maxRunning)
	}
}

func TestManager_StatusUnknownQueue(t *testing.T) {
	m := startManager(t, testOptions())
	if _, err := m.Status("no-such-queue"); err == nil {
		t.Error("Status() should reject unknown queues")
	}
}

func TestManager_ShutdownDrainsInFlight(t *testing.T) {
	m := NewManager(Options{Concurrency: 1, MaxAttempts: 1}, testLogger(), testMetrics)

	started := make(chan struct{})
	var finished atomic.Bool
	m.RegisterProcessor("slow", func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return models.JobStats{ItemsProcessed: 1}, nil
	})
	m.Start(context.Background())

	if _, err := m.AddJob(models.QueueDataProcessing, "slow", nil, nil); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if !finished.Load() {
		t.Error("Shutdown() returned before the in-flight job finished")
	}
	if _, err := m.AddJob(models.QueueDataProcessing, "slow", nil, nil); err == nil {
		t.Error("AddJob() after shutdown should be rejected")
	}
}

func TestManager_ScheduleRejectsBadSpec(t *testing.T) {
	m := startManager(t, testOptions())
	m.RegisterProcessor("noop", func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		return models.JobStats{}, nil
	})

	if _, err := m.Schedule("not a cron spec", models.QueueDataCollection, "noop", nil); err == nil {
		t.Error("Schedule() should reject invalid cron specs")
	}
	if _, err := m.Schedule("0 3 * * *", "no-such-queue", "noop", nil); err == nil {
		t.Error("Schedule() should reject unknown queues")
	}
	if _, err := m.Schedule("0 3 * * *", models.QueueDataCollection, "noop", nil); err != nil {
		t.Errorf("Schedule() error = %v for a valid spec", err)
	}
}

func TestResultRing(t *testing.T) {
	ring := newResultRing(3)
	for i := 0; i < 5; i++ {
		ring.push(models.JobResult{JobID: fmt.Sprintf("job-%d", i)})
	}

	if ring.total() != 5 {
		t.Errorf("total() = %d, want lifetime count 5", ring.total())
	}

	got := ring.snapshot()
	if len(got) != 3 {
		t.Fatalf("snapshot() retained %d, want 3", len(got))
	}
	for i, want := range []string{"job-2", "job-3", "job-4"} {
		if got[i].JobID != want {
			t.Errorf("snapshot()[%d] = %s, want %s (oldest first)", i, got[i].JobID, want)
		}
	}
}
