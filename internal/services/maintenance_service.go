package services

import (
	"context"
	"time"

	"goldmap-platform/internal/repository"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

// DefaultRetention is how long a location survives without its source
// refreshing it.
const DefaultRetention = 90 * 24 * time.Hour

// MaintenanceService runs the periodic housekeeping jobs
type MaintenanceService struct {
	repo    repository.LocationRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewMaintenanceService creates a new maintenance service
func NewMaintenanceService(repo repository.LocationRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *MaintenanceService {
	return &MaintenanceService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CleanupOldData deletes locations whose source has not refreshed them
// within the retention window.
func (s *MaintenanceService) CleanupOldData(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := time.Now().UTC().Add(-retention)

	deleted, err := s.repo.DeleteLocationsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	s.logger.Info(ctx, "[MAINT_CLEANUP] Stale locations cleaned up", logging.Fields{
		"retention_days": int(retention.Hours() / 24),
		"deleted":        deleted,
	})

	return deleted, nil
}

// OptimizeIndexes refreshes statistics and reclaims storage after the
// replace cycles have churned the tables.
func (s *MaintenanceService) OptimizeIndexes(ctx context.Context) error {
	timer := time.Now()
	if err := s.repo.OptimizeIndexes(ctx); err != nil {
		return err
	}

	s.logger.Info(ctx, "[MAINT_OPTIMIZE] Index optimization completed", logging.Fields{
		"duration_ms": time.Since(timer).Milliseconds(),
	})
	return nil
}
