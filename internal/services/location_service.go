package services

import (
	"context"

	"goldmap-platform/internal/models"
	"goldmap-platform/internal/repository"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

// LocationService handles read access to canonical locations
type LocationService struct {
	repo    repository.LocationRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewLocationService creates a new location service
func NewLocationService(repo repository.LocationRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *LocationService {
	return &LocationService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetLocations retrieves locations matching the filter. Limit defaults
// to 100 and is capped at 1000.
func (s *LocationService) GetLocations(ctx context.Context, filter repository.LocationFilter) ([]*models.CanonicalLocation, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	return s.repo.GetLocations(ctx, filter)
}

// GetLocation retrieves a single location by id
func (s *LocationService) GetLocation(ctx context.Context, id string) (*models.CanonicalLocation, error) {
	if id == "" {
		return nil, &models.ValidationError{
			Field:   "id",
			Value:   id,
			Message: "location id is required",
		}
	}
	return s.repo.GetLocation(ctx, id)
}

// ListDataSources retrieves all registered data sources
func (s *LocationService) ListDataSources(ctx context.Context) ([]*models.DataSource, error) {
	return s.repo.ListDataSources(ctx)
}

// SourceCounts returns the number of stored locations per source name
func (s *LocationService) SourceCounts(ctx context.Context) (map[string]int, error) {
	return s.repo.CountLocationsBySource(ctx)
}
