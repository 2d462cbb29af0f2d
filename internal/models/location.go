package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourceKind identifies which upstream WFS schema a source speaks.
type SourceKind string

const (
	SourceKindMRDS    SourceKind = "mrds"
	SourceKindDeposit SourceKind = "deposit"
)

// Category returns the canonical category assigned to every record of
// this source kind. Category is a property of the source, not of the
// individual record.
func (k SourceKind) Category() string {
	switch k {
	case SourceKindMRDS:
		return "mineral_deposit"
	case SourceKindDeposit:
		return "deposit"
	default:
		return "unknown"
	}
}

// BoundingBox is a geographic rectangle in decimal degrees.
type BoundingBox struct {
	MinLon float64 `json:"min_lon" yaml:"minLon"`
	MinLat float64 `json:"min_lat" yaml:"minLat"`
	MaxLon float64 `json:"max_lon" yaml:"maxLon"`
	MaxLat float64 `json:"max_lat" yaml:"maxLat"`
}

// Validate checks axis ranges and min<=max ordering.
func (b BoundingBox) Validate() error {
	if b.MinLon < -180 || b.MinLon > 180 || b.MaxLon < -180 || b.MaxLon > 180 {
		return &ValidationError{
			Field:   "bbox",
			Value:   b.String(),
			Message: "longitude out of range [-180, 180]",
		}
	}
	if b.MinLat < -90 || b.MinLat > 90 || b.MaxLat < -90 || b.MaxLat > 90 {
		return &ValidationError{
			Field:   "bbox",
			Value:   b.String(),
			Message: "latitude out of range [-90, 90]",
		}
	}
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return &ValidationError{
			Field:   "bbox",
			Value:   b.String(),
			Message: "min coordinate greater than max coordinate",
		}
	}
	return nil
}

// String formats the box in WFS 1.0.0 order (lon/lat) at 6-decimal precision.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBoundingBox parses "minLon,minLat,maxLon,maxLat". The parsed box
// is validated before being returned.
func ParseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, &ValidationError{
			Field:   "bbox",
			Value:   s,
			Message: "expected 4 comma-separated values",
		}
	}

	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, &ValidationError{
				Field:   "bbox",
				Value:   s,
				Message: fmt.Sprintf("value %q is not a number", p),
			}
		}
		vals[i] = v
	}

	box := BoundingBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if err := box.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return box, nil
}

// Point is a lon/lat pair in EPSG:4326.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// InRange reports whether the pair is a plausible lon/lat coordinate.
func (p Point) InRange() bool {
	return p.Lon >= -180 && p.Lon <= 180 && p.Lat >= -90 && p.Lat <= 90
}

// RawFeature is a single geometry+properties record as returned by one
// source, before normalization. The property schema varies per source.
type RawFeature struct {
	Geometry   Point
	Properties map[string]interface{}
}

// PropertyMap is an open JSON bag stored as jsonb.
type PropertyMap map[string]interface{}

// Value implements driver.Valuer for jsonb columns.
func (p PropertyMap) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for jsonb columns.
func (p *PropertyMap) Scan(src interface{}) error {
	if src == nil {
		*p = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into PropertyMap", src)
	}

	return json.Unmarshal(data, p)
}

// CanonicalLocation is the unified, source-independent persisted record.
type CanonicalLocation struct {
	ID           string      `json:"id" db:"id"`
	Name         string      `json:"name" db:"name"`
	Category     string      `json:"category" db:"category"`
	Subcategory  string      `json:"subcategory" db:"subcategory"`
	Longitude    float64     `json:"longitude" db:"longitude"`
	Latitude     float64     `json:"latitude" db:"latitude"`
	Properties   PropertyMap `json:"properties,omitempty" db:"properties"`
	DataSourceID string      `json:"data_source_id" db:"data_source_id"`
	SourceID     *string     `json:"source_id,omitempty" db:"source_id"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// DataSource identifies one upstream service an ingestion run pulls
// from. Created on first run, URL refreshed in place, never deleted by
// the ingestion path.
type DataSource struct {
	ID          string      `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description" db:"description"`
	URL         string      `json:"url" db:"url"`
	Config      PropertyMap `json:"config,omitempty" db:"config"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}
