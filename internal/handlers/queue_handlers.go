package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"goldmap-platform/internal/models"
	"goldmap-platform/internal/queue"
	"goldmap-platform/internal/services"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

// QueueHandler handles the ingestion trigger, job submission and queue
// introspection
type QueueHandler struct {
	manager   *queue.Manager
	ingestion *services.IngestionService
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(manager *queue.Manager, ingestion *services.IngestionService, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *QueueHandler {
	return &QueueHandler{
		manager:   manager,
		ingestion: ingestion,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// AddJobRequest is the body of POST /api/queues/{name}/jobs
type AddJobRequest struct {
	Type    string             `json:"type"`
	Payload interface{}        `json:"payload,omitempty"`
	Options *models.JobOptions `json:"options,omitempty"`
}

// ScheduleRequest is the body of POST /api/queues/{name}/schedule
type ScheduleRequest struct {
	Cron    string      `json:"cron"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// IngestResponse is the stats summary returned by the trigger endpoint.
// Failures lists the sources a partial run lost; Error is set when the
// run as a whole failed.
type IngestResponse struct {
	TotalLocations int                      `json:"total_locations"`
	BySource       map[string]int           `json:"by_source"`
	ByCategory     map[string]int           `json:"by_category"`
	BBox           string                   `json:"bbox,omitempty"`
	Failures       []services.SourceFailure `json:"failures,omitempty"`
	DurationMS     int64                    `json:"duration_ms"`
	Error          string                   `json:"error,omitempty"`
}

// TriggerIngest handles POST /api/ingest/{sourceSet}. The sourceSet is
// a configured source name or "all". The orchestrator runs inline and
// the response is the run's stats summary, listing any failed sources.
func (h *QueueHandler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sourceSet := mux.Vars(r)["sourceSet"]

	var sources []string
	if sourceSet != "all" {
		sources = []string{sourceSet}
	}

	var bbox *models.BoundingBox
	if bboxStr := r.URL.Query().Get("bbox"); bboxStr != "" {
		parsed, err := models.ParseBoundingBox(bboxStr)
		if err != nil {
			sendError(w, r, h.metrics, err.Error(), http.StatusBadRequest)
			return
		}
		bbox = &parsed
	}

	result, err := h.ingestion.Run(ctx, sources, bbox)
	if err != nil {
		h.logger.Error(ctx, "[API_INGEST_ERROR] Ingestion run failed", logging.Fields{
			"source_set": sourceSet,
		}, err)
		if result == nil {
			sendError(w, r, h.metrics, err.Error(), statusForError(err))
			return
		}

		// Every source failed, or the write phase rolled the run back.
		// The summary still lists each source's failure reason.
		status := http.StatusBadGateway
		var txErr *models.TransactionError
		if errors.As(err, &txErr) {
			status = http.StatusInternalServerError
		}
		resp := newIngestResponse(result, bbox)
		resp.Error = err.Error()
		h.metrics.RecordAPIRequest("/api/ingest/{sourceSet}", "POST", strconv.Itoa(status))
		sendJSON(w, resp, status)
		return
	}

	h.logger.Info(ctx, "[API_INGEST] Ingestion run completed", logging.Fields{
		"source_set":      sourceSet,
		"total_locations": result.TotalLocations,
		"sources_failed":  len(result.Failures),
	})

	h.metrics.RecordAPIRequest("/api/ingest/{sourceSet}", "POST", "200")
	sendJSON(w, newIngestResponse(result, bbox), http.StatusOK)
}

func newIngestResponse(result *services.IngestionResult, bbox *models.BoundingBox) IngestResponse {
	resp := IngestResponse{
		TotalLocations: result.TotalLocations,
		BySource:       result.BySource,
		ByCategory:     result.ByCategory,
		Failures:       result.Failures,
		DurationMS:     result.Duration.Milliseconds(),
	}
	if bbox != nil {
		resp.BBox = bbox.String()
	}
	return resp
}

// AddJob handles POST /api/queues/{name}/jobs
func (h *QueueHandler) AddJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queueName := mux.Vars(r)["name"]

	var req AddJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, r, h.metrics, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		sendError(w, r, h.metrics, "job type is required", http.StatusBadRequest)
		return
	}

	job, err := h.manager.AddJob(queueName, req.Type, req.Payload, req.Options)
	if err != nil {
		sendError(w, r, h.metrics, err.Error(), statusForError(err))
		return
	}

	h.logger.Info(ctx, "[API_ADD_JOB] Job enqueued via API", logging.Fields{
		"job_id": job.ID,
		"queue":  queueName,
		"type":   req.Type,
	})

	h.metrics.RecordAPIRequest("/api/queues/{name}/jobs", "POST", "202")
	sendJSON(w, job, http.StatusAccepted)
}

// Schedule handles POST /api/queues/{name}/schedule
func (h *QueueHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queueName := mux.Vars(r)["name"]

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, r, h.metrics, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Cron == "" || req.Type == "" {
		sendError(w, r, h.metrics, "cron and type are required", http.StatusBadRequest)
		return
	}

	entryID, err := h.manager.Schedule(req.Cron, queueName, req.Type, req.Payload)
	if err != nil {
		sendError(w, r, h.metrics, err.Error(), statusForError(err))
		return
	}

	h.logger.Info(ctx, "[API_SCHEDULE] Recurring job registered via API", logging.Fields{
		"queue": queueName,
		"type":  req.Type,
		"cron":  req.Cron,
	})

	h.metrics.RecordAPIRequest("/api/queues/{name}/schedule", "POST", "201")
	sendJSON(w, map[string]interface{}{
		"entry_id": entryID,
		"queue":    queueName,
		"type":     req.Type,
		"cron":     req.Cron,
	}, http.StatusCreated)
}

// GetStatus handles GET /api/queues/{name}/status
func (h *QueueHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["name"]

	status, err := h.manager.Status(queueName)
	if err != nil {
		sendError(w, r, h.metrics, err.Error(), statusForError(err))
		return
	}

	h.metrics.RecordAPIRequest("/api/queues/{name}/status", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"queue":  queueName,
		"counts": status,
	}, http.StatusOK)
}

// GetQueues handles GET /api/queues
func (h *QueueHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	statuses := make(map[string]models.QueueStatus)
	for _, name := range h.manager.QueueNames() {
		status, err := h.manager.Status(name)
		if err != nil {
			sendError(w, r, h.metrics, err.Error(), http.StatusInternalServerError)
			return
		}
		statuses[name] = status
	}

	h.metrics.RecordAPIRequest("/api/queues", "GET", "200")
	sendJSON(w, statuses, http.StatusOK)
}

// GetResults handles GET /api/queues/{name}/results, exposing the
// retained job results for operator inspection.
func (h *QueueHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["name"]

	completed, err := h.manager.RecentCompleted(queueName)
	if err != nil {
		sendError(w, r, h.metrics, err.Error(), statusForError(err))
		return
	}
	failed, err := h.manager.RecentFailures(queueName)
	if err != nil {
		sendError(w, r, h.metrics, err.Error(), statusForError(err))
		return
	}

	h.metrics.RecordAPIRequest("/api/queues/{name}/results", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"queue":     queueName,
		"completed": completed,
		"failed":    failed,
	}, http.StatusOK)
}

// RegisterRoutes registers all queue API routes
func (h *QueueHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/ingest/{sourceSet}", h.TriggerIngest).Methods("POST")
	router.HandleFunc("/api/queues", h.GetQueues).Methods("GET")
	router.HandleFunc("/api/queues/{name}/jobs", h.AddJob).Methods("POST")
	router.HandleFunc("/api/queues/{name}/schedule", h.Schedule).Methods("POST")
	router.HandleFunc("/api/queues/{name}/status", h.GetStatus).Methods("GET")
	router.HandleFunc("/api/queues/{name}/results", h.GetResults).Methods("GET")
}
