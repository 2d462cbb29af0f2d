package models

import "time"

// Queue names, one per coarse job category.
const (
	QueueDataCollection    = "data-collection"
	QueueDataProcessing    = "data-processing"
	QueueSystemMaintenance = "system-maintenance"
)

// Job types dispatched by queue processors.
const (
	JobFetchMRDS       = "fetch-usgs-mrds"
	JobFetchDeposit    = "fetch-usgs-deposit"
	JobFetchAllSources = "fetch-all-sources"
	JobProcessGeoJSON  = "process-geojson"
	JobCleanupOldData  = "cleanup-old-data"
	JobOptimizeIndexes = "optimize-indexes"
)

// Job is one unit of queued work. Consumed exactly once by a worker and
// resolved to a terminal JobResult.
type Job struct {
	ID          string      `json:"id"`
	Queue       string      `json:"queue"`
	Type        string      `json:"type"`
	Payload     interface{} `json:"payload,omitempty"`
	ScheduledAt time.Time   `json:"scheduled_at"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
}

// JobResult is the terminal outcome of a job execution, retained for
// status queries and retry accounting. Failures lists per-source
// problems from runs that succeeded overall despite losing a source.
type JobResult struct {
	JobID          string        `json:"job_id"`
	Type           string        `json:"type"`
	Success        bool          `json:"success"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	ItemsProcessed int           `json:"items_processed"`
	Failures       []string      `json:"failures,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// JobStats is what a processor reports back into the retained
// JobResult.
type JobStats struct {
	ItemsProcessed int
	Failures       []string
}

// JobOptions tune retry behavior per job. Zero values fall back to the
// queue defaults.
type JobOptions struct {
	MaxAttempts  int           `json:"max_attempts,omitempty"`
	BackoffDelay time.Duration `json:"backoff_delay,omitempty"`
}

// IngestPayload is the payload carried by data-collection jobs.
type IngestPayload struct {
	Sources []string     `json:"sources"`
	BBox    *BoundingBox `json:"bbox,omitempty"`
}

// SourceKey returns the mutual-exclusion key for a collection job.
// Jobs sharing a key are never executed concurrently, preserving the
// replace-on-refresh invariant per data source.
func (p IngestPayload) SourceKey() string {
	if len(p.Sources) == 1 {
		return p.Sources[0]
	}
	return "all-sources"
}

// QueueStatus mirrors the per-queue counters exposed over HTTP.
type QueueStatus struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
