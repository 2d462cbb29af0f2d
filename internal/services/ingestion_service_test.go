package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"goldmap-platform/internal/models"
	"goldmap-platform/internal/repository"
	"goldmap-platform/internal/wfs"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

// One collector per test binary; promauto registers globally.
var testMetrics = metrics.NewCollector("services_test")

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("services-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

// fakeClient is a canned wfs.Client.
type fakeClient struct {
	name     string
	kind     models.SourceKind
	features []models.RawFeature
	err      error
}

func (c *fakeClient) Name() string            { return c.name }
func (c *fakeClient) Kind() models.SourceKind { return c.kind }
func (c *fakeClient) Fetch(ctx context.Context, bbox *models.BoundingBox) ([]models.RawFeature, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.features, nil
}

// fakeRepository keeps locations in memory with replace semantics
// matching the real repository.
type fakeRepository struct {
	mu         sync.Mutex
	sources    map[string]*models.DataSource
	locations  map[string][]models.CanonicalLocation
	replaceErr map[string]error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		sources:    make(map[string]*models.DataSource),
		locations:  make(map[string][]models.CanonicalLocation),
		replaceErr: make(map[string]error),
	}
}

func (r *fakeRepository) UpsertDataSource(ctx context.Context, source *models.DataSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sources[source.Name]; ok {
		source.ID = existing.ID
		existing.URL = source.URL
		return nil
	}
	source.ID = "ds-" + source.Name
	copied := *source
	r.sources[source.Name] = &copied
	return nil
}

func (r *fakeRepository) GetDataSourceByName(ctx context.Context, name string) (*models.DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src, ok := r.sources[name]; ok {
		return src, nil
	}
	return nil, &repository.NotFoundError{Resource: "data_source", ID: name}
}

func (r *fakeRepository) ListDataSources(ctx context.Context) ([]*models.DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sources := make([]*models.DataSource, 0, len(r.sources))
	for _, src := range r.sources {
		sources = append(sources, src)
	}
	return sources, nil
}

// ReplaceSourceLocations mirrors the real repository's transaction
// semantics: any failing batch aborts the whole call and nothing is
// stored.
func (r *fakeRepository) ReplaceSourceLocations(ctx context.Context, batches []repository.SourceBatch) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, batch := range batches {
		if err := r.replaceErr[batch.DataSourceID]; err != nil {
			return 0, err
		}
	}
	total := 0
	for _, batch := range batches {
		r.locations[batch.DataSourceID] = append([]models.CanonicalLocation(nil), batch.Locations...)
		total += len(batch.Locations)
	}
	return total, nil
}

func (r *fakeRepository) GetLocations(ctx context.Context, filter repository.LocationFilter) ([]*models.CanonicalLocation, int, error) {
	return nil, 0, nil
}

func (r *fakeRepository) GetLocation(ctx context.Context, id string) (*models.CanonicalLocation, error) {
	return nil, &repository.NotFoundError{Resource: "location", ID: id}
}

func (r *fakeRepository) CountLocationsBySource(ctx context.Context) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for name, src := range r.sources {
		counts[name] = len(r.locations[src.ID])
	}
	return counts, nil
}

func (r *fakeRepository) DeleteLocationsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeRepository) OptimizeIndexes(ctx context.Context) error { return nil }
func (r *fakeRepository) HealthCheck(ctx context.Context) error    { return nil }

func (r *fakeRepository) stored(dataSourceID string) []models.CanonicalLocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locations[dataSourceID]
}

func mrdsFeatures() []models.RawFeature {
	return []models.RawFeature{
		{
			Geometry: models.Point{Lon: -123.1, Lat: 40.9},
			Properties: map[string]interface{}{
				"id":       "10310300",
				"name":     "Black Bear Mine",
				"dep_type": "Au-Ag Quartz Vein",
				"commod1":  "Gold, Silver",
			},
		},
		{
			Geometry:   models.Point{Lon: -122.8, Lat: 41.1},
			Properties: map[string]interface{}{"id": "200", "name": "Second Site"},
		},
	}
}

func newService(repo repository.LocationRepository, clients ...wfs.Client) *IngestionService {
	sources := make([]RegisteredSource, len(clients))
	for i, c := range clients {
		sources[i] = RegisteredSource{
			Client:      c,
			Description: "test source",
			URL:         "https://example.invalid/wfs/" + c.Name(),
		}
	}
	return NewIngestionService(repo, sources, testLogger(), testMetrics)
}

func TestIngestionService_Run(t *testing.T) {
	repo := newFakeRepository()
	svc := newService(repo,
		&fakeClient{name: "usgs-mrds", kind: models.SourceKindMRDS, features: mrdsFeatures()},
		&fakeClient{name: "usgs-deposit", kind: models.SourceKindDeposit, features: []models.RawFeature{
			{Geometry: models.Point{Lon: -122.5, Lat: 41.2}, Properties: map[string]interface{}{"dep_id": "D1", "site_name": "Placer Claim", "deposit_type": "Placer"}},
		}},
	)

	result, err := svc.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.TotalLocations != 3 {
		t.Errorf("TotalLocations = %d, want 3", result.TotalLocations)
	}
	if result.BySource["usgs-mrds"] != 2 || result.BySource["usgs-deposit"] != 1 {
		t.Errorf("BySource = %v, want mrds=2 deposit=1", result.BySource)
	}
	if result.ByCategory["mineral_deposit"] != 2 || result.ByCategory["deposit"] != 1 {
		t.Errorf("ByCategory = %v, want mineral_deposit=2 deposit=1", result.ByCategory)
	}
	if len(result.Failures) != 0 {
		t.Errorf("Failures = %v, want none", result.Failures)
	}

	stored := repo.stored("ds-usgs-mrds")
	if len(stored) != 2 {
		t.Fatalf("stored %d mrds locations, want 2", len(stored))
	}
	first := stored[0]
	if first.Name != "Black Bear Mine" || first.Category != "mineral_deposit" || first.Subcategory != "Au-Ag Quartz Vein" {
		t.Errorf("normalized record = %+v", first)
	}
	if first.SourceID == nil || *first.SourceID != "10310300" {
		t.Errorf("SourceID = %v, want 10310300", first.SourceID)
	}
	if first.DataSourceID != "ds-usgs-mrds" {
		t.Errorf("DataSourceID = %q, want ds-usgs-mrds", first.DataSourceID)
	}
}

func TestIngestionService_RunIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	svc := newService(repo, &fakeClient{name: "usgs-mrds", kind: models.SourceKindMRDS, features: mrdsFeatures()})

	for i := 0; i < 2; i++ {
		if _, err := svc.Run(context.Background(), nil, nil); err != nil {
			t.Fatalf("Run() #%d error = %v", i+1, err)
		}
	}

	// Replace semantics: the second run must not accumulate duplicates.
	if got := len(repo.stored("ds-usgs-mrds")); got != 2 {
		t.Errorf("stored %d locations after two runs, want 2", got)
	}
}

func TestIngestionService_PartialFailure(t *testing.T) {
	repo := newFakeRepository()
	svc := newService(repo,
		&fakeClient{name: "usgs-mrds", kind: models.SourceKindMRDS, features: mrdsFeatures()},
		&fakeClient{name: "usgs-deposit", kind: models.SourceKindDeposit, err: &models.ServiceError{Source: "usgs-deposit", Message: "Invalid typename"}},
	)

	result, err := svc.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v, one healthy source should keep the run alive", err)
	}

	if result.BySource["usgs-mrds"] != 2 {
		t.Errorf("healthy source persisted %d, want 2", result.BySource["usgs-mrds"])
	}
	if len(result.Failures) != 1 {
		t.Fatalf("Failures = %v, want exactly one", result.Failures)
	}
	failure := result.Failures[0]
	if failure.Source != "usgs-deposit" || !failure.Transient {
		t.Errorf("failure = %+v, want transient usgs-deposit", failure)
	}
}

func TestIngestionService_FailedSourceKeepsPriorData(t *testing.T) {
	repo := newFakeRepository()
	healthy := &fakeClient{name: "usgs-deposit", kind: models.SourceKindDeposit, features: []models.RawFeature{
		{Geometry: models.Point{Lon: -122.5, Lat: 41.2}, Properties: map[string]interface{}{"site_name": "Placer Claim"}},
	}}
	svc := newService(repo, healthy)

	if _, err := svc.Run(context.Background(), nil, nil); err != nil {
		t.Fatalf("seeding run error = %v", err)
	}

	// The source turns unhealthy; its prior data must stay untouched.
	healthy.err = &models.FetchError{Source: "usgs-deposit", URL: "https://example.invalid", Err: context.DeadlineExceeded}
	if _, err := svc.Run(context.Background(), nil, nil); err == nil {
		t.Fatal("Run() with the only source failing should return an error")
	}

	if got := len(repo.stored("ds-usgs-deposit")); got != 1 {
		t.Errorf("stored %d locations after failed refresh, want the prior 1", got)
	}
}

func TestIngestionService_WriteFailureAbortsRun(t *testing.T) {
	repo := newFakeRepository()
	svc := newService(repo,
		&fakeClient{name: "usgs-mrds", kind: models.SourceKindMRDS, features: mrdsFeatures()},
		&fakeClient{name: "usgs-deposit", kind: models.SourceKindDeposit, features: []models.RawFeature{
			{Geometry: models.Point{Lon: -122.5, Lat: 41.2}, Properties: map[string]interface{}{"site_name": "Placer Claim"}},
		}},
	)

	if _, err := svc.Run(context.Background(), nil, nil); err != nil {
		t.Fatalf("seeding run error = %v", err)
	}

	// One source's delete+insert fails during the write phase. The
	// whole run must roll back: no source commits, every source keeps
	// its data from the seeding run.
	repo.replaceErr["ds-usgs-deposit"] = &models.TransactionError{Op: "insert_location", Err: context.DeadlineExceeded}
	result, err := svc.Run(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("Run() with a write-phase failure must return an error")
	}
	if _, ok := err.(*models.TransactionError); !ok {
		t.Errorf("error type = %T, want *models.TransactionError", err)
	}
	if result == nil {
		t.Fatal("Run() should still return the run summary on a write abort")
	}
	if result.TotalLocations != 0 || len(result.BySource) != 0 {
		t.Errorf("result = %+v, an aborted run must not report persisted locations", result)
	}

	if got := len(repo.stored("ds-usgs-mrds")); got != 2 {
		t.Errorf("stored %d mrds locations after aborted run, want the prior 2", got)
	}
	if got := len(repo.stored("ds-usgs-deposit")); got != 1 {
		t.Errorf("stored %d deposit locations after aborted run, want the prior 1", got)
	}
}

func TestIngestionService_AllSourcesFail(t *testing.T) {
	repo := newFakeRepository()
	svc := newService(repo,
		&fakeClient{name: "usgs-mrds", kind: models.SourceKindMRDS, err: &models.ServiceError{Source: "usgs-mrds", Message: "down"}},
		&fakeClient{name: "usgs-deposit", kind: models.SourceKindDeposit, err: &models.ServiceError{Source: "usgs-deposit", Message: "down"}},
	)

	result, err := svc.Run(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("Run() should fail when every source fails")
	}
	if result == nil || len(result.Failures) != 2 {
		t.Fatalf("result = %+v, want both failures reported", result)
	}
}

func TestIngestionService_SelectSources(t *testing.T) {
	repo := newFakeRepository()
	mrds := &fakeClient{name: "usgs-mrds", kind: models.SourceKindMRDS, features: mrdsFeatures()}
	deposit := &fakeClient{name: "usgs-deposit", kind: models.SourceKindDeposit}
	svc := newService(repo, mrds, deposit)

	result, err := svc.Run(context.Background(), []string{"usgs-mrds"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, ok := result.BySource["usgs-deposit"]; ok {
		t.Error("unselected source should not be refreshed")
	}

	_, err = svc.Run(context.Background(), []string{"no-such-source"}, nil)
	if err == nil {
		t.Fatal("Run() should reject unknown source names")
	}
	if _, ok := err.(*models.ValidationError); !ok {
		t.Errorf("error type = %T, want *models.ValidationError", err)
	}
}
