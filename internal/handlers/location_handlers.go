package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"goldmap-platform/internal/models"
	"goldmap-platform/internal/repository"
	"goldmap-platform/internal/services"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

// LocationHandler handles the location read API and health checks
type LocationHandler struct {
	locationService *services.LocationService
	repo            repository.LocationRepository
	logger          *logging.StructuredLogger
	metrics         *metrics.Collector
}

// NewLocationHandler creates a new location handler
func NewLocationHandler(
	locationService *services.LocationService,
	repo repository.LocationRepository,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *LocationHandler {
	return &LocationHandler{
		locationService: locationService,
		repo:            repo,
		logger:          logger,
		metrics:         metricsCollector,
	}
}

// GetLocations handles GET /api/locations
func (h *LocationHandler) GetLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/locations").Observe(duration.Seconds())
	}()

	page, limit, offset := parsePagination(r)

	filter := repository.LocationFilter{
		Limit:  limit,
		Offset: offset,
	}

	if bboxStr := r.URL.Query().Get("bbox"); bboxStr != "" {
		bbox, err := models.ParseBoundingBox(bboxStr)
		if err != nil {
			sendError(w, r, h.metrics, err.Error(), http.StatusBadRequest)
			return
		}
		filter.BBox = &bbox
	}
	if category := r.URL.Query().Get("category"); category != "" {
		filter.Category = &category
	}
	if subcategory := r.URL.Query().Get("subcategory"); subcategory != "" {
		filter.Subcategory = &subcategory
	}
	if source := r.URL.Query().Get("source"); source != "" {
		filter.SourceName = &source
	}

	locations, total, err := h.locationService.GetLocations(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_LOCATIONS_ERROR] Failed to get locations", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/locations")
		sendError(w, r, h.metrics, "failed to retrieve locations", statusForError(err))
		return
	}

	totalPages := (total + limit - 1) / limit

	response := PaginatedResponse{
		Data:       locations,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}

	h.metrics.RecordAPIRequest("/api/locations", "GET", "200")
	sendJSON(w, response, http.StatusOK)
}

// GetLocation handles GET /api/locations/{id}
func (h *LocationHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	location, err := h.locationService.GetLocation(ctx, id)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error(ctx, "[API_GET_LOCATION_ERROR] Failed to get location", logging.Fields{
				"id": id,
			}, err)
			h.metrics.RecordAPIError("internal_error", "/api/locations/{id}")
			sendError(w, r, h.metrics, "failed to retrieve location", status)
			return
		}
		sendError(w, r, h.metrics, err.Error(), status)
		return
	}

	h.metrics.RecordAPIRequest("/api/locations/{id}", "GET", "200")
	sendJSON(w, location, http.StatusOK)
}

// GetSources handles GET /api/sources
func (h *LocationHandler) GetSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sources, err := h.locationService.ListDataSources(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_SOURCES_ERROR] Failed to list data sources", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/sources")
		sendError(w, r, h.metrics, "failed to retrieve data sources", http.StatusInternalServerError)
		return
	}

	counts, err := h.locationService.SourceCounts(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_SOURCES_ERROR] Failed to count locations", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/sources")
		sendError(w, r, h.metrics, "failed to count locations", http.StatusInternalServerError)
		return
	}

	type sourceSummary struct {
		*models.DataSource
		LocationCount int `json:"location_count"`
	}

	summaries := make([]sourceSummary, 0, len(sources))
	for _, src := range sources {
		summaries = append(summaries, sourceSummary{
			DataSource:    src,
			LocationCount: counts[src.Name],
		})
	}

	h.metrics.RecordAPIRequest("/api/sources", "GET", "200")
	sendJSON(w, summaries, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *LocationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.repo.HealthCheck(ctx); err != nil {
		status["status"] = "unhealthy"
		status["database"] = err.Error()
		sendJSON(w, status, http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	sendJSON(w, status, http.StatusOK)
}

// RegisterRoutes registers all location API routes
func (h *LocationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/locations", h.GetLocations).Methods("GET")
	router.HandleFunc("/api/locations/{id}", h.GetLocation).Methods("GET")
	router.HandleFunc("/api/sources", h.GetSources).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
