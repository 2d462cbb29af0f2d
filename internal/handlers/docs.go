package handlers

import (
	"encoding/json"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the GoldMap Platform API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	bboxParam := map[string]interface{}{
		"name":        "bbox",
		"in":          "query",
		"description": "Bounding box as minLon,minLat,maxLon,maxLat in decimal degrees",
		"required":    false,
		"schema":      map[string]string{"type": "string", "example": "-124.407182,40.071180,-122.393331,41.740961"},
	}

	locationSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":             map[string]string{"type": "string", "format": "uuid"},
			"name":           map[string]string{"type": "string"},
			"category":       map[string]string{"type": "string", "example": "mineral_deposit"},
			"subcategory":    map[string]string{"type": "string", "example": "Au-Ag Quartz Vein"},
			"longitude":      map[string]string{"type": "number", "format": "double"},
			"latitude":       map[string]string{"type": "number", "format": "double"},
			"properties":     map[string]string{"type": "object"},
			"data_source_id": map[string]string{"type": "string", "format": "uuid"},
			"source_id":      map[string]string{"type": "string"},
			"created_at":     map[string]string{"type": "string", "format": "date-time"},
			"updated_at":     map[string]string{"type": "string", "format": "date-time"},
		},
	}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "GoldMap Platform API",
			"description": "Geospatial ingestion platform pulling mineral deposit and mining claim data from USGS WFS services into a spatially indexed store",
			"version":     "1.0.0",
			"contact": map[string]string{
				"name": "GoldMap Platform Team",
			},
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/locations": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Query locations",
					"description": "Retrieve canonical locations with spatial and attribute filtering plus pagination",
					"parameters": []map[string]interface{}{
						bboxParam,
						{
							"name":        "category",
							"in":          "query",
							"description": "Filter by canonical category",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
						{
							"name":        "subcategory",
							"in":          "query",
							"description": "Filter by subcategory",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
						{
							"name":        "source",
							"in":          "query",
							"description": "Filter by data source name",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
						{
							"name":        "page",
							"in":          "query",
							"description": "Page number (default: 1)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 1},
						},
						{
							"name":        "limit",
							"in":          "query",
							"description": "Records per page (default: 100, max: 1000)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 100},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Successful response",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"data":        map[string]interface{}{"type": "array", "items": locationSchema},
											"total":       map[string]string{"type": "integer"},
											"page":        map[string]string{"type": "integer"},
											"limit":       map[string]string{"type": "integer"},
											"total_pages": map[string]string{"type": "integer"},
										},
									},
								},
							},
						},
						"400": map[string]interface{}{"description": "Invalid bounding box or filter"},
					},
				},
			},
			"/api/locations/{id}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Get one location",
					"parameters": []map[string]interface{}{
						{
							"name":     "id",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "string", "format": "uuid"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Successful response",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{"schema": locationSchema},
							},
						},
						"404": map[string]interface{}{"description": "Location not found"},
					},
				},
			},
			"/api/sources": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "List data sources",
					"description": "Registered upstream services and their stored location counts",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Successful response"},
					},
				},
			},
			"/api/ingest/{sourceSet}": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Trigger an ingestion run",
					"description": "Runs the orchestrator for one source or all sources and returns the run's stats summary, listing any sources that failed",
					"parameters": []map[string]interface{}{
						{
							"name":        "sourceSet",
							"in":          "path",
							"description": "Source name (e.g. usgs-mrds) or 'all'",
							"required":    true,
							"schema":      map[string]string{"type": "string"},
						},
						bboxParam,
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Run committed; summary lists any tolerated source failures"},
						"400": map[string]interface{}{"description": "Unknown source or invalid bounding box"},
						"500": map[string]interface{}{"description": "Write phase rolled back; no data changed"},
						"502": map[string]interface{}{"description": "Every source failed; per-source errors listed"},
					},
				},
			},
			"/api/queues": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Status of every queue",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Successful response"},
					},
				},
			},
			"/api/queues/{name}/jobs": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Enqueue a job",
					"parameters": []map[string]interface{}{
						{
							"name":     "name",
							"in":       "path",
							"required": true,
							"schema": map[string]interface{}{
								"type": "string",
								"enum": []string{"data-collection", "data-processing", "system-maintenance"},
							},
						},
					},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type":     "object",
									"required": []string{"type"},
									"properties": map[string]interface{}{
										"type":    map[string]string{"type": "string", "example": "fetch-all-sources"},
										"payload": map[string]string{"type": "object"},
										"options": map[string]interface{}{
											"type": "object",
											"properties": map[string]interface{}{
												"max_attempts": map[string]string{"type": "integer"},
											},
										},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"202": map[string]interface{}{"description": "Job enqueued"},
						"400": map[string]interface{}{"description": "Unknown queue or job type"},
					},
				},
			},
			"/api/queues/{name}/schedule": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Register a recurring job",
					"description": "Enqueues a fresh job on every tick of the cron spec",
					"parameters": []map[string]interface{}{
						{
							"name":     "name",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "string"},
						},
					},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type":     "object",
									"required": []string{"cron", "type"},
									"properties": map[string]interface{}{
										"cron":    map[string]string{"type": "string", "example": "0 3 * * *"},
										"type":    map[string]string{"type": "string"},
										"payload": map[string]string{"type": "object"},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"201": map[string]interface{}{"description": "Schedule registered"},
						"400": map[string]interface{}{"description": "Invalid cron spec, queue, or type"},
					},
				},
			},
			"/api/queues/{name}/status": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Status of one queue",
					"parameters": []map[string]interface{}{
						{
							"name":     "name",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "string"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Successful response",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"queue": map[string]string{"type": "string"},
											"counts": map[string]interface{}{
												"type": "object",
												"properties": map[string]interface{}{
													"waiting":   map[string]string{"type": "integer"},
													"active":    map[string]string{"type": "integer"},
													"completed": map[string]string{"type": "integer"},
													"failed":    map[string]string{"type": "integer"},
												},
											},
										},
									},
								},
							},
						},
						"400": map[string]interface{}{"description": "Unknown queue"},
					},
				},
			},
			"/api/queues/{name}/results": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Retained results of one queue",
					"description": "Most recent completed and failed job results, oldest first",
					"parameters": []map[string]interface{}{
						{
							"name":     "name",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "string"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Successful response"},
						"400": map[string]interface{}{"description": "Unknown queue"},
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Health check",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Service and database healthy"},
						"503": map[string]interface{}{"description": "Database unreachable"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
