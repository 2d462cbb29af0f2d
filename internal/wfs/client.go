package wfs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"goldmap-platform/internal/models"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

// Source is the typed configuration for one WFS endpoint.
type Source struct {
	Name        string
	Kind        models.SourceKind
	BaseURL     string
	TypeName    string
	Version     string
	SRSName     string
	MaxFeatures int
	Timeout     time.Duration
	DefaultBBox models.BoundingBox
}

// Client fetches raw features from one upstream WFS service.
type Client interface {
	Name() string
	Kind() models.SourceKind
	Fetch(ctx context.Context, bbox *models.BoundingBox) ([]models.RawFeature, error)
}

// HTTPClient implements Client over HTTP for any configured source.
// Source variation (MRDS vs deposit) is handled by configuration, not
// by one type per source.
type HTTPClient struct {
	source  Source
	client  *http.Client
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewHTTPClient wires an HTTP client for one source. Zero-value source
// fields fall back to WFS 1.0.0 / EPSG:4326 defaults.
func NewHTTPClient(source Source, httpClient *http.Client, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *HTTPClient {
	if source.Version == "" {
		source.Version = "1.0.0"
	}
	if source.SRSName == "" {
		source.SRSName = "EPSG:4326"
	}
	if source.MaxFeatures <= 0 {
		source.MaxFeatures = 100
	}
	if source.Timeout <= 0 {
		source.Timeout = 60 * time.Second
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: source.Timeout}
	}

	return &HTTPClient{
		source:  source,
		client:  httpClient,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Name returns the configured source name.
func (c *HTTPClient) Name() string {
	return c.source.Name
}

// Kind returns the source kind used for normalization.
func (c *HTTPClient) Kind() models.SourceKind {
	return c.source.Kind
}

// FormatBBox validates the supplied box and formats it in lon/lat order
// at 6-decimal precision. An invalid box is replaced by the source's
// configured default, never clamped.
func (c *HTTPClient) FormatBBox(bbox *models.BoundingBox) string {
	effective := c.source.DefaultBBox
	if bbox != nil {
		if err := bbox.Validate(); err != nil {
			c.logger.Warn(context.Background(), "[WFS_BBOX_INVALID] Invalid bounding box, using source default", logging.Fields{
				"source":  c.source.Name,
				"bbox":    bbox.String(),
				"default": c.source.DefaultBBox.String(),
				"reason":  err.Error(),
			})
		} else {
			effective = *bbox
		}
	}
	return effective.String()
}

// Fetch issues a GetFeature request and parses the response body,
// trying JSON first, then GML. An embedded ServiceExceptionReport is a
// hard failure regardless of HTTP status.
func (c *HTTPClient) Fetch(ctx context.Context, bbox *models.BoundingBox) ([]models.RawFeature, error) {
	body, err := c.request(ctx, "GetFeature", bbox)
	if err != nil {
		return nil, err
	}

	if msg, found := extractServiceException(body); found {
		c.metrics.RecordFetchError(c.source.Name, "service_error")
		return nil, &models.ServiceError{Source: c.source.Name, Message: msg}
	}

	if features, ok := parseGeoJSON(body); ok {
		c.metrics.FeaturesFetched.WithLabelValues(c.source.Name).Add(float64(len(features)))
		return features, nil
	}

	features, dropped, err := parseGML(body, c.diagnostic)
	if err != nil {
		c.metrics.RecordFetchError(c.source.Name, "parse_error")
		return nil, &models.ParseError{Source: c.source.Name, Reason: err.Error()}
	}

	c.metrics.FeaturesFetched.WithLabelValues(c.source.Name).Add(float64(len(features)))
	if dropped > 0 {
		c.metrics.FeaturesDropped.WithLabelValues(c.source.Name).Add(float64(dropped))
	}

	return features, nil
}

// DescribeFeatureType fetches the schema document for the configured
// feature type.
func (c *HTTPClient) DescribeFeatureType(ctx context.Context) (string, error) {
	body, err := c.request(ctx, "DescribeFeatureType", nil)
	if err != nil {
		return "", err
	}
	if msg, found := extractServiceException(body); found {
		return "", &models.ServiceError{Source: c.source.Name, Message: msg}
	}
	return string(body), nil
}

// request performs one WFS operation and returns the raw body.
func (c *HTTPClient) request(ctx context.Context, operation string, bbox *models.BoundingBox) ([]byte, error) {
	reqURL, err := c.buildURL(operation, bbox)
	if err != nil {
		return nil, &models.FetchError{Source: c.source.Name, URL: c.source.BaseURL, Err: err}
	}

	c.logger.Debug(ctx, "[WFS_REQUEST] Issuing WFS request", logging.Fields{
		"source":    c.source.Name,
		"operation": operation,
		"url":       reqURL,
	})

	ctx, cancel := context.WithTimeout(ctx, c.source.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &models.FetchError{Source: c.source.Name, URL: reqURL, Err: err}
	}
	req.Header.Set("Accept", "application/xml, application/json")

	timer := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordFetchError(c.source.Name, "network_error")
		return nil, &models.FetchError{Source: c.source.Name, URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	c.metrics.FetchDuration.WithLabelValues(c.source.Name).Observe(time.Since(timer).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordFetchError(c.source.Name, "network_error")
		return nil, &models.FetchError{Source: c.source.Name, URL: reqURL, Err: err}
	}

	// Exception reports arrive with any status, so the body check in
	// Fetch runs before this status check gets to reject the response.
	if resp.StatusCode >= 400 {
		if msg, found := extractServiceException(body); found {
			c.metrics.RecordFetchError(c.source.Name, "service_error")
			return nil, &models.ServiceError{Source: c.source.Name, Message: msg}
		}
		c.metrics.RecordFetchError(c.source.Name, "http_error")
		return nil, &models.FetchError{
			Source: c.source.Name,
			URL:    reqURL,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	return body, nil
}

// buildURL assembles the query string for a WFS operation. GetFeature
// carries typeName/srsName/maxFeatures/bbox; DescribeFeatureType only
// the base parameters plus typeName.
func (c *HTTPClient) buildURL(operation string, bbox *models.BoundingBox) (string, error) {
	u, err := url.Parse(c.source.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.source.BaseURL, err)
	}

	params := u.Query()
	params.Set("service", "WFS")
	params.Set("version", c.source.Version)
	params.Set("request", operation)
	params.Set("typeName", c.source.TypeName)

	if operation == "GetFeature" {
		params.Set("srsName", c.source.SRSName)
		params.Set("maxFeatures", strconv.Itoa(c.source.MaxFeatures))
		params.Set("bbox", c.FormatBBox(bbox))
	}

	u.RawQuery = params.Encode()
	return u.String(), nil
}

// diagnostic logs a dropped feature, identifying the record by its id
// and name fields when present.
func (c *HTTPClient) diagnostic(id, name string) {
	c.logger.Warn(context.Background(), "[WFS_FEATURE_DROPPED] No valid coordinates found, dropping feature", logging.Fields{
		"source": c.source.Name,
		"id":     id,
		"name":   name,
	})
}
