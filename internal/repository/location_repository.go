package repository

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"goldmap-platform/internal/models"
	"goldmap-platform/pkg/database"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

// LocationRepository provides data access for canonical locations and
// their data sources.
type LocationRepository interface {
	// Data source operations
	UpsertDataSource(ctx context.Context, source *models.DataSource) error
	GetDataSourceByName(ctx context.Context, name string) (*models.DataSource, error)
	ListDataSources(ctx context.Context) ([]*models.DataSource, error)

	// Location operations
	ReplaceSourceLocations(ctx context.Context, batches []SourceBatch) (int, error)
	GetLocations(ctx context.Context, filter LocationFilter) ([]*models.CanonicalLocation, int, error)
	GetLocation(ctx context.Context, id string) (*models.CanonicalLocation, error)
	CountLocationsBySource(ctx context.Context) (map[string]int, error)

	// Maintenance operations
	DeleteLocationsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	OptimizeIndexes(ctx context.Context) error

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// SourceBatch is one source's freshly normalized rows, replacing every
// prior row owned by that data source.
type SourceBatch struct {
	DataSourceID string
	Locations    []models.CanonicalLocation
}

// LocationFilter defines filters for querying locations
type LocationFilter struct {
	BBox        *models.BoundingBox
	Category    *string
	Subcategory *string
	SourceName  *string
	Limit       int
	Offset      int
}

// locationRepository implements LocationRepository
type locationRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	builder sq.StatementBuilderType
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) LocationRepository {
	return &locationRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// UpsertDataSource creates the data source on first sight and refreshes
// its URL and config in place on later runs. The row is never deleted
// by the ingestion path.
func (r *locationRepository) UpsertDataSource(ctx context.Context, source *models.DataSource) error {
	query := `
		INSERT INTO data_sources (name, description, url, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			url = EXCLUDED.url,
			config = EXCLUDED.config,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.DB().QueryRowContext(ctx, query,
		source.Name,
		source.Description,
		source.URL,
		source.Config,
	).Scan(&source.ID, &source.CreatedAt, &source.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert data source: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_UPSERT_SOURCE] Data source upserted", logging.Fields{
		"name": source.Name,
		"id":   source.ID,
	})

	return nil
}

// GetDataSourceByName retrieves a data source by its unique name
func (r *locationRepository) GetDataSourceByName(ctx context.Context, name string) (*models.DataSource, error) {
	query := `
		SELECT id, name, description, url, config, created_at, updated_at
		FROM data_sources
		WHERE name = $1
	`

	var source models.DataSource
	err := r.db.GetContext(ctx, "get_data_source", &source, query, name)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "data_source",
			ID:       name,
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}

	return &source, nil
}

// ListDataSources retrieves all registered data sources
func (r *locationRepository) ListDataSources(ctx context.Context) ([]*models.DataSource, error) {
	query := `
		SELECT id, name, description, url, config, created_at, updated_at
		FROM data_sources
		ORDER BY name
	`

	var sources []*models.DataSource
	err := r.db.SelectContext(ctx, "list_data_sources", &sources, query)

	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}

	return sources, nil
}

// ReplaceSourceLocations replaces every location owned by each batch's
// data source, all inside one transaction: any failure rolls back the
// entire run and no source ends up partially replaced. A transaction
// scoped advisory lock per source serializes overlapping refreshes, so
// readers see either the full old set or the full new set, never a mix
// or an empty window. Locks are taken in key order so two concurrent
// multi-source runs cannot deadlock.
func (r *locationRepository) ReplaceSourceLocations(ctx context.Context, batches []SourceBatch) (int, error) {
	timer := time.Now()
	total := 0
	defer func() {
		duration := time.Since(timer)
		r.logger.Debug(ctx, "[REPO_REPLACE] Replace-on-refresh completed", logging.Fields{
			"sources":     len(batches),
			"count":       total,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	ordered := append([]SourceBatch(nil), batches...)
	sort.Slice(ordered, func(i, j int) bool {
		return sourceLockKey(ordered[i].DataSourceID) < sourceLockKey(ordered[j].DataSourceID)
	})

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, &models.TransactionError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	for _, batch := range ordered {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", sourceLockKey(batch.DataSourceID)); err != nil {
			return 0, &models.TransactionError{Op: "advisory_lock", Err: err}
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO geo_locations (
			name, category, subcategory, location, properties,
			data_source_id, source_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326), $6, $7, $8, NOW(), NOW())
	`)
	if err != nil {
		return 0, &models.TransactionError{Op: "prepare_insert", Err: err}
	}
	defer stmt.Close()

	for _, batch := range ordered {
		if _, err := tx.ExecContext(ctx, "DELETE FROM geo_locations WHERE data_source_id = $1", batch.DataSourceID); err != nil {
			return 0, &models.TransactionError{Op: "delete_stale", Err: err}
		}

		for _, loc := range batch.Locations {
			_, err := stmt.ExecContext(ctx,
				loc.Name,
				loc.Category,
				loc.Subcategory,
				loc.Longitude,
				loc.Latitude,
				loc.Properties,
				batch.DataSourceID,
				loc.SourceID,
			)
			if err != nil {
				return 0, &models.TransactionError{Op: "insert_location", Err: err}
			}
		}
		total += len(batch.Locations)
	}

	if err := tx.Commit(); err != nil {
		total = 0
		return 0, &models.TransactionError{Op: "commit", Err: err}
	}

	return total, nil
}

// GetLocations retrieves locations with spatial and attribute filtering
// plus pagination. The bbox filter uses the spatial index via ST_Within
// against an envelope in EPSG:4326.
func (r *locationRepository) GetLocations(ctx context.Context, filter LocationFilter) ([]*models.CanonicalLocation, int, error) {
	base := r.builder.
		Select(
			"l.id", "l.name", "l.category", "l.subcategory",
			"ST_X(l.location) AS longitude", "ST_Y(l.location) AS latitude",
			"l.properties", "l.data_source_id", "l.source_id",
			"l.created_at", "l.updated_at",
		).
		From("geo_locations l")

	if filter.BBox != nil {
		if err := filter.BBox.Validate(); err != nil {
			return nil, 0, err
		}
		base = base.Where(
			"ST_Within(l.location, ST_MakeEnvelope(?, ?, ?, ?, 4326))",
			filter.BBox.MinLon, filter.BBox.MinLat, filter.BBox.MaxLon, filter.BBox.MaxLat,
		)
	}
	if filter.Category != nil {
		base = base.Where(sq.Eq{"l.category": *filter.Category})
	}
	if filter.Subcategory != nil {
		base = base.Where(sq.Eq{"l.subcategory": *filter.Subcategory})
	}
	if filter.SourceName != nil {
		base = base.
			Join("data_sources ds ON ds.id = l.data_source_id").
			Where(sq.Eq{"ds.name": *filter.SourceName})
	}

	countQuery, countArgs, err := r.builder.
		Select("COUNT(*)").
		FromSelect(base, "count_query").
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var totalCount int
	if err := r.db.GetContext(ctx, "count_locations", &totalCount, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to count locations: %w", err)
	}

	query, args, err := base.
		OrderBy("l.name", "l.id").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build locations query: %w", err)
	}

	var locations []*models.CanonicalLocation
	if err := r.db.SelectContext(ctx, "get_locations", &locations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get locations: %w", err)
	}

	return locations, totalCount, nil
}

// GetLocation retrieves one location by id
func (r *locationRepository) GetLocation(ctx context.Context, id string) (*models.CanonicalLocation, error) {
	query := `
		SELECT id, name, category, subcategory,
		       ST_X(location) AS longitude, ST_Y(location) AS latitude,
		       properties, data_source_id, source_id, created_at, updated_at
		FROM geo_locations
		WHERE id = $1
	`

	var loc models.CanonicalLocation
	err := r.db.GetContext(ctx, "get_location", &loc, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "location",
			ID:       id,
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}

	return &loc, nil
}

// CountLocationsBySource returns the number of locations held per data
// source name.
func (r *locationRepository) CountLocationsBySource(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT ds.name AS name, COUNT(l.id) AS count
		FROM data_sources ds
		LEFT JOIN geo_locations l ON l.data_source_id = ds.id
		GROUP BY ds.name
	`

	var rows []struct {
		Name  string `db:"name"`
		Count int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, "count_by_source", &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count locations by source: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Name] = row.Count
	}
	return counts, nil
}

// DeleteLocationsOlderThan removes locations not refreshed since the
// cutoff. Replace-on-refresh rewrites updated_at on every run, so only
// records from sources that stopped refreshing qualify.
func (r *locationRepository) DeleteLocationsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "cleanup_old_locations",
		"DELETE FROM geo_locations WHERE updated_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old locations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	r.logger.Info(ctx, "[REPO_CLEANUP] Old locations removed", logging.Fields{
		"cutoff":  cutoff.Format(time.RFC3339),
		"deleted": deleted,
	})

	return deleted, nil
}

// OptimizeIndexes refreshes planner statistics and reclaims space after
// bulk replace cycles.
func (r *locationRepository) OptimizeIndexes(ctx context.Context) error {
	for _, stmt := range []string{
		"VACUUM ANALYZE geo_locations",
		"VACUUM ANALYZE data_sources",
	} {
		if _, err := r.db.ExecContext(ctx, "optimize_indexes", stmt); err != nil {
			return fmt.Errorf("failed to optimize: %w", err)
		}
	}
	return nil
}

// HealthCheck performs a repository health check
func (r *locationRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// sourceLockKey maps a data source id onto the advisory lock keyspace.
func sourceLockKey(dataSourceID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(dataSourceID))
	return int64(h.Sum64())
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
