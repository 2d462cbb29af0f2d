package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"goldmap-platform/internal/models"
	"goldmap-platform/internal/services"
	"goldmap-platform/internal/wfs"
)

// ProcessGeoJSONPayload carries a submitted FeatureCollection for the
// data-processing queue.
type ProcessGeoJSONPayload struct {
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// CleanupPayload tunes the retention window of a cleanup job.
type CleanupPayload struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

// RegisterProcessors binds every job type to its service. Collection
// jobs carry models.IngestPayload, whose SourceKey serializes
// overlapping refreshes of the same source.
func RegisterProcessors(m *Manager, ingestion *services.IngestionService, maintenance *services.MaintenanceService) {
	m.RegisterProcessor(models.JobFetchMRDS, fetchProcessor(ingestion, "usgs-mrds"))
	m.RegisterProcessor(models.JobFetchDeposit, fetchProcessor(ingestion, "usgs-deposit"))
	m.RegisterProcessor(models.JobFetchAllSources, fetchProcessor(ingestion, ""))

	m.RegisterProcessor(models.JobProcessGeoJSON, func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		var payload ProcessGeoJSONPayload
		if err := decodePayload(job.Payload, &payload); err != nil {
			return models.JobStats{}, err
		}
		if payload.Source == "" {
			return models.JobStats{}, &models.ValidationError{Field: "source", Value: "", Message: "source name is required"}
		}

		features, err := wfs.ParseGeoJSON(payload.Data)
		if err != nil {
			return models.JobStats{}, err
		}
		persisted, err := ingestion.IngestFeatures(ctx, payload.Source, features)
		return models.JobStats{ItemsProcessed: persisted}, err
	})

	m.RegisterProcessor(models.JobCleanupOldData, func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		var payload CleanupPayload
		if job.Payload != nil {
			if err := decodePayload(job.Payload, &payload); err != nil {
				return models.JobStats{}, err
			}
		}
		deleted, err := maintenance.CleanupOldData(ctx, time.Duration(payload.RetentionDays)*24*time.Hour)
		return models.JobStats{ItemsProcessed: int(deleted)}, err
	})

	m.RegisterProcessor(models.JobOptimizeIndexes, func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		return models.JobStats{}, maintenance.OptimizeIndexes(ctx)
	})
}

// fetchProcessor builds a collection processor for one source, or for
// all sources when name is empty. The job payload may narrow the
// bounding box.
func fetchProcessor(ingestion *services.IngestionService, sourceName string) ProcessorFunc {
	return func(ctx context.Context, job *models.Job) (models.JobStats, error) {
		var payload models.IngestPayload
		if job.Payload != nil {
			if err := decodePayload(job.Payload, &payload); err != nil {
				return models.JobStats{}, err
			}
		}

		sources := payload.Sources
		if sourceName != "" {
			sources = []string{sourceName}
		}

		// Partial failures do not fail the job; the failed sources keep
		// their prior data and Run only errors when every source fails
		// or the write phase rolls back. The tolerated failures are
		// carried into the retained JobResult.
		result, err := ingestion.Run(ctx, sources, payload.BBox)
		if err != nil {
			return models.JobStats{}, err
		}

		stats := models.JobStats{ItemsProcessed: result.TotalLocations}
		for _, failure := range result.Failures {
			stats.Failures = append(stats.Failures, fmt.Sprintf("%s: %s", failure.Source, failure.Error))
		}
		return stats, nil
	}
}

// decodePayload converts the stored payload (a typed struct when
// enqueued in-process, a map when it arrived over HTTP) into dst.
func decodePayload(payload interface{}, dst interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("invalid job payload: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid job payload: %w", err)
	}
	return nil
}
