package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"goldmap-platform/internal/models"
	"goldmap-platform/internal/normalizer"
	"goldmap-platform/internal/repository"
	"goldmap-platform/internal/wfs"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

// RegisteredSource pairs a WFS client with the metadata persisted on
// its data_sources row.
type RegisteredSource struct {
	Client      wfs.Client
	Description string
	URL         string
}

// IngestionService orchestrates fetch, normalize and replace-on-refresh
// across the registered sources.
type IngestionService struct {
	repo    repository.LocationRepository
	sources []RegisteredSource
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// SourceFailure records one source that could not be refreshed during a
// run. The rest of the run is unaffected.
type SourceFailure struct {
	Source    string `json:"source"`
	Error     string `json:"error"`
	Transient bool   `json:"transient"`
}

// IngestionResult contains ingestion statistics for one run
type IngestionResult struct {
	TotalLocations int             `json:"total_locations"`
	BySource       map[string]int  `json:"by_source"`
	ByCategory     map[string]int  `json:"by_category"`
	Failures       []SourceFailure `json:"failures,omitempty"`
	Duration       time.Duration   `json:"duration"`
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.LocationRepository, sources []RegisteredSource, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		sources: sources,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// SourceNames lists the registered source names in registration order.
func (s *IngestionService) SourceNames() []string {
	names := make([]string, 0, len(s.sources))
	for _, src := range s.sources {
		names = append(names, src.Client.Name())
	}
	return names
}

// Run refreshes the named sources (all registered sources when the list
// is empty) inside the given bounding box. Fetch and normalize run
// concurrently per source and fail independently; the run as a whole
// fails only when every source does. The write phase begins only after
// every fetch has finished, in one transaction covering all successful
// sources: a write failure rolls back the entire run, never a subset.
func (s *IngestionService) Run(ctx context.Context, sourceNames []string, bbox *models.BoundingBox) (*IngestionResult, error) {
	startTime := time.Now()

	selected, err := s.selectSources(sourceNames)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "[INGEST_START] Starting ingestion run", logging.Fields{
		"sources": len(selected),
		"stage":   "INITIALIZATION",
	})

	outcomes := make([]sourceOutcome, len(selected))
	var wg sync.WaitGroup
	for i, src := range selected {
		wg.Add(1)
		go func(i int, src RegisteredSource) {
			defer wg.Done()
			outcomes[i] = s.fetchSource(ctx, src, bbox)
		}(i, src)
	}
	wg.Wait()

	result := &IngestionResult{
		BySource:   make(map[string]int, len(selected)),
		ByCategory: make(map[string]int),
	}

	batches := make([]repository.SourceBatch, 0, len(selected))
	for _, outcome := range outcomes {
		if outcome.err != nil {
			result.Failures = append(result.Failures, SourceFailure{
				Source:    outcome.name,
				Error:     outcome.err.Error(),
				Transient: models.IsTransient(outcome.err),
			})
			s.logger.Error(ctx, "[INGEST_SOURCE_ERROR] Source fetch failed", logging.Fields{
				"source": outcome.name,
				"stage":  "FETCHING",
			}, outcome.err)
			continue
		}
		batches = append(batches, repository.SourceBatch{
			DataSourceID: outcome.dataSourceID,
			Locations:    outcome.locations,
		})
	}

	if len(batches) == 0 {
		result.Duration = time.Since(startTime)
		s.metrics.IngestionDuration.Observe(result.Duration.Seconds())
		s.metrics.IngestionRunsTotal.WithLabelValues("failure").Inc()
		return result, fmt.Errorf("all %d sources failed: %s", len(selected), joinFailures(result.Failures))
	}

	if _, err := s.repo.ReplaceSourceLocations(ctx, batches); err != nil {
		result.Duration = time.Since(startTime)
		s.metrics.IngestionDuration.Observe(result.Duration.Seconds())
		s.metrics.IngestionRunsTotal.WithLabelValues("failure").Inc()
		s.logger.Error(ctx, "[INGEST_WRITE_ERROR] Write phase rolled back", logging.Fields{
			"sources": len(batches),
			"stage":   "WRITING",
		}, err)
		return result, err
	}

	for _, outcome := range outcomes {
		if outcome.err != nil {
			continue
		}
		result.TotalLocations += len(outcome.locations)
		result.BySource[outcome.name] = len(outcome.locations)
		for _, loc := range outcome.locations {
			result.ByCategory[loc.Category]++
		}
		s.metrics.LocationsPersistedTotal.WithLabelValues(outcome.name).Add(float64(len(outcome.locations)))
	}

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	outcome := "success"
	if len(result.Failures) > 0 {
		outcome = "partial"
	}
	s.metrics.IngestionRunsTotal.WithLabelValues(outcome).Inc()

	s.logger.Info(ctx, "[INGEST_COMPLETE] Ingestion run committed", logging.Fields{
		"total_locations":  result.TotalLocations,
		"sources_ok":       len(selected) - len(result.Failures),
		"sources_failed":   len(result.Failures),
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "COMPLETE",
	})

	return result, nil
}

// sourceOutcome is one source's fetch-phase result, held until the
// write phase.
type sourceOutcome struct {
	name         string
	dataSourceID string
	locations    []models.CanonicalLocation
	err          error
}

// fetchSource runs the read half of the pipeline for one source: upsert
// the data_sources row, fetch, normalize. No location rows are written
// here; the caller batches all successful sources into one transaction.
// The upsert happens first so the source row survives even when the
// fetch fails later.
func (s *IngestionService) fetchSource(ctx context.Context, src RegisteredSource, bbox *models.BoundingBox) sourceOutcome {
	name := src.Client.Name()

	dataSource := &models.DataSource{
		Name:        name,
		Description: src.Description,
		URL:         src.URL,
	}
	if err := s.repo.UpsertDataSource(ctx, dataSource); err != nil {
		return sourceOutcome{name: name, err: fmt.Errorf("upsert data source %s: %w", name, err)}
	}

	raw, err := src.Client.Fetch(ctx, bbox)
	if err != nil {
		return sourceOutcome{name: name, err: err}
	}

	locations := normalizer.NormalizeAll(raw, src.Client.Kind(), dataSource.ID)

	s.logger.Info(ctx, "[INGEST_SOURCE_FETCHED] Source fetched and normalized", logging.Fields{
		"source":     name,
		"fetched":    len(raw),
		"normalized": len(locations),
		"stage":      "NORMALIZING",
	})

	return sourceOutcome{
		name:         name,
		dataSourceID: dataSource.ID,
		locations:    locations,
	}
}

// IngestFeatures normalizes and persists pre-fetched raw features for
// one registered source, bypassing the WFS fetch. Used by the
// data-processing queue for submitted GeoJSON payloads.
func (s *IngestionService) IngestFeatures(ctx context.Context, sourceName string, raw []models.RawFeature) (int, error) {
	selected, err := s.selectSources([]string{sourceName})
	if err != nil {
		return 0, err
	}
	src := selected[0]

	dataSource := &models.DataSource{
		Name:        sourceName,
		Description: src.Description,
		URL:         src.URL,
	}
	if err := s.repo.UpsertDataSource(ctx, dataSource); err != nil {
		return 0, fmt.Errorf("upsert data source %s: %w", sourceName, err)
	}

	locations := normalizer.NormalizeAll(raw, src.Client.Kind(), dataSource.ID)
	persisted, err := s.repo.ReplaceSourceLocations(ctx, []repository.SourceBatch{
		{DataSourceID: dataSource.ID, Locations: locations},
	})
	if err != nil {
		return 0, err
	}

	s.metrics.LocationsPersistedTotal.WithLabelValues(sourceName).Add(float64(persisted))
	return persisted, nil
}

// selectSources resolves the requested names against the registered
// sources. An unknown name fails the whole request before any fetch.
func (s *IngestionService) selectSources(names []string) ([]RegisteredSource, error) {
	if len(names) == 0 {
		return s.sources, nil
	}

	byName := make(map[string]RegisteredSource, len(s.sources))
	for _, src := range s.sources {
		byName[src.Client.Name()] = src
	}

	selected := make([]RegisteredSource, 0, len(names))
	for _, name := range names {
		src, ok := byName[name]
		if !ok {
			return nil, &models.ValidationError{
				Field:   "source",
				Value:   name,
				Message: "unknown source name",
			}
		}
		selected = append(selected, src)
	}
	return selected, nil
}

func joinFailures(failures []SourceFailure) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = fmt.Sprintf("%s: %s", f.Source, f.Error)
	}
	return strings.Join(parts, "; ")
}
