package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"goldmap-platform/internal/models"
	"goldmap-platform/internal/repository"
	"goldmap-platform/pkg/metrics"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, r *http.Request, m *metrics.Collector, message string, statusCode int) {
	m.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	sendJSON(w, response, statusCode)
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch err.(type) {
	case *models.ValidationError:
		return http.StatusBadRequest
	case *repository.NotFoundError:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// parsePagination reads page/limit query parameters with the API-wide
// defaults and cap.
func parsePagination(r *http.Request) (page, limit, offset int) {
	page = 1
	limit = 100

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	return page, limit, (page - 1) * limit
}
