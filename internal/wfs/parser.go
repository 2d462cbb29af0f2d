package wfs

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"goldmap-platform/internal/models"
)

var (
	serviceExceptionRe = regexp.MustCompile(`(?s)<ServiceException[^>]*>(.*?)</ServiceException>`)
	coordSplitRe       = regexp.MustCompile(`[,\s]+`)
)

// extractServiceException detects an embedded WFS exception report.
// Services return these with HTTP 200, so status codes cannot be
// trusted.
func extractServiceException(body []byte) (string, bool) {
	if !bytes.Contains(body, []byte("ServiceExceptionReport")) {
		return "", false
	}
	if m := serviceExceptionRe.FindSubmatch(body); m != nil {
		return strings.TrimSpace(string(m[1])), true
	}
	return "Unknown WFS service error", true
}

// geoJSONCollection is the subset of a GeoJSON FeatureCollection the
// ingester consumes.
type geoJSONCollection struct {
	Type     string `json:"type"`
	Features []struct {
		Type     string `json:"type"`
		Geometry struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]interface{} `json:"properties"`
	} `json:"features"`
}

// ParseGML reads a stored GML FeatureCollection body outside the fetch
// path. Dropped features are counted but not reported individually.
func ParseGML(body []byte) ([]models.RawFeature, int, error) {
	features, dropped, err := parseGML(body, nil)
	if err != nil {
		return nil, 0, &models.ParseError{Source: "gml", Reason: err.Error()}
	}
	return features, dropped, nil
}

// ParseGeoJSON reads a standalone GeoJSON FeatureCollection, as
// submitted to the data-processing queue. Unlike the fetch path there
// is no GML fallback.
func ParseGeoJSON(body []byte) ([]models.RawFeature, error) {
	features, ok := parseGeoJSON(body)
	if !ok {
		return nil, &models.ParseError{Source: "geojson", Reason: "body is not a GeoJSON FeatureCollection"}
	}
	return features, nil
}

// parseGeoJSON attempts to read the body as a GeoJSON FeatureCollection.
// Returns ok=false when the body is not JSON of the expected shape, so
// the caller can fall through to the GML parser.
func parseGeoJSON(body []byte) ([]models.RawFeature, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var collection geoJSONCollection
	if err := json.Unmarshal(trimmed, &collection); err != nil {
		return nil, false
	}
	if collection.Type != "FeatureCollection" {
		return nil, false
	}

	features := make([]models.RawFeature, 0, len(collection.Features))
	for _, f := range collection.Features {
		if f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
			continue
		}
		point := models.Point{Lon: f.Geometry.Coordinates[0], Lat: f.Geometry.Coordinates[1]}
		if !point.InRange() {
			continue
		}

		props := normalizeKeys(f.Properties)
		features = append(features, models.RawFeature{Geometry: point, Properties: props})
	}

	return features, true
}

// xmlNode is a generic element tree for namespace-agnostic GML walking.
// Upstream services have shipped several namespace prefixes over the
// years (gml:, ms:, none), so matching is done on local names only.
type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

func (n *xmlNode) local() string {
	return n.XMLName.Local
}

// child returns the first direct child whose local name matches.
func (n *xmlNode) child(local string) *xmlNode {
	for i := range n.Nodes {
		if strings.EqualFold(n.Nodes[i].local(), local) {
			return &n.Nodes[i]
		}
	}
	return nil
}

// find walks the subtree depth-first for the first element with the
// given local name.
func (n *xmlNode) find(local string) *xmlNode {
	for i := range n.Nodes {
		if strings.EqualFold(n.Nodes[i].local(), local) {
			return &n.Nodes[i]
		}
		if found := n.Nodes[i].find(local); found != nil {
			return found
		}
	}
	return nil
}

func (n *xmlNode) text() string {
	return strings.TrimSpace(n.Content)
}

// parseGML reads a wfs:FeatureCollection body. Zero feature members is
// an empty result, not an error. Features whose geometry cannot be
// recovered by any strategy are dropped and reported through onDrop.
func parseGML(body []byte, onDrop func(id, name string)) ([]models.RawFeature, int, error) {
	var root xmlNode
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, 0, fmt.Errorf("not a well-formed XML document: %w", err)
	}

	collection := &root
	if !strings.EqualFold(collection.local(), "FeatureCollection") {
		if collection = root.find("FeatureCollection"); collection == nil {
			return nil, 0, fmt.Errorf("no FeatureCollection element in response")
		}
	}

	var features []models.RawFeature
	dropped := 0
	for i := range collection.Nodes {
		member := &collection.Nodes[i]
		if !strings.EqualFold(member.local(), "featureMember") {
			continue
		}

		// The feature element is the single child of the member
		// (e.g. ms:mrds, points).
		if len(member.Nodes) == 0 {
			continue
		}
		feature := &member.Nodes[0]

		point, ok := extractCoordinates(feature)
		if !ok {
			dropped++
			if onDrop != nil {
				onDrop(scalarField(feature, "ID", "DEP_ID"), scalarField(feature, "NAME", "SITE_NAME"))
			}
			continue
		}

		features = append(features, models.RawFeature{
			Geometry:   point,
			Properties: extractProperties(feature),
		})
	}

	return features, dropped, nil
}

// Coordinate extraction strategies, tried in order:
//  1. gml:Point/gml:coordinates (or gml:pos) text
//  2. direct LAT/LONG scalar fields and their historical variants
//  3. nested geometry/Point/coordinates path
//
// The first strategy producing a finite in-range pair wins.
func extractCoordinates(feature *xmlNode) (models.Point, bool) {
	if point := feature.child("Point"); point != nil {
		if p, ok := pointFromNode(point); ok {
			return p, true
		}
	}

	if p, ok := latLongFields(feature); ok {
		return p, true
	}

	if geom := feature.child("geometry"); geom != nil {
		if point := geom.find("Point"); point != nil {
			if p, ok := pointFromNode(point); ok {
				return p, true
			}
		}
	}

	return models.Point{}, false
}

func pointFromNode(point *xmlNode) (models.Point, bool) {
	for _, tag := range []string{"coordinates", "pos"} {
		if coords := point.child(tag); coords != nil {
			if p, ok := parseCoordinatePair(coords.text()); ok {
				return p, true
			}
		}
	}
	return models.Point{}, false
}

// parseCoordinatePair splits on comma or whitespace and disambiguates
// axis order: a pair is accepted as lon/lat when it fits that range,
// or swapped when only the reverse fits.
func parseCoordinatePair(s string) (models.Point, bool) {
	parts := coordSplitRe.Split(strings.TrimSpace(s), -1)
	if len(parts) < 2 {
		return models.Point{}, false
	}

	x, errX := strconv.ParseFloat(parts[0], 64)
	y, errY := strconv.ParseFloat(parts[1], 64)
	if errX != nil || errY != nil || math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return models.Point{}, false
	}

	if math.Abs(x) <= 180 && math.Abs(y) <= 90 {
		return models.Point{Lon: x, Lat: y}, true
	}
	if math.Abs(x) <= 90 && math.Abs(y) <= 180 {
		return models.Point{Lon: y, Lat: x}, true
	}
	return models.Point{}, false
}

var (
	latFieldNames = []string{"LAT", "LATITUDE"}
	lonFieldNames = []string{"LONG", "LON", "LONGITUDE"}
)

func latLongFields(feature *xmlNode) (models.Point, bool) {
	var lat, lon *float64

	for _, name := range latFieldNames {
		if node := feature.child(name); node != nil {
			if v, err := strconv.ParseFloat(node.text(), 64); err == nil && math.Abs(v) <= 90 {
				lat = &v
				break
			}
		}
	}
	for _, name := range lonFieldNames {
		if node := feature.child(name); node != nil {
			if v, err := strconv.ParseFloat(node.text(), 64); err == nil && math.Abs(v) <= 180 {
				lon = &v
				break
			}
		}
	}

	if lat != nil && lon != nil {
		return models.Point{Lon: *lon, Lat: *lat}, true
	}
	return models.Point{}, false
}

// geometryElements are element names that carry geometry rather than
// scalar properties.
var geometryElements = map[string]bool{
	"point":       true,
	"geometry":    true,
	"boundedby":   true,
	"coordinates": true,
	"pos":         true,
	"msgeometry":  true,
}

// extractProperties copies every scalar child field of the feature
// element into a lowercase-keyed bag. Unrecognized fields are retained
// rather than discarded; field promotion happens in the normalizer.
func extractProperties(feature *xmlNode) map[string]interface{} {
	props := make(map[string]interface{})
	for i := range feature.Nodes {
		node := &feature.Nodes[i]
		name := strings.ToLower(node.local())
		if geometryElements[name] {
			continue
		}
		if len(node.Nodes) > 0 {
			// Nested structure without geometry meaning; flatten one
			// level to keep the data.
			for j := range node.Nodes {
				inner := &node.Nodes[j]
				if text := inner.text(); text != "" {
					props[name+"_"+strings.ToLower(inner.local())] = text
				}
			}
			continue
		}
		if text := node.text(); text != "" {
			props[name] = text
		}
	}
	return props
}

// normalizeKeys lowercases property names so both historical upstream
// naming conventions (DEP_TYPE vs dep_type) land on one key.
func normalizeKeys(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

// scalarField returns the first non-empty of the named scalar fields,
// case-insensitively, for diagnostics.
func scalarField(feature *xmlNode, names ...string) string {
	for _, name := range names {
		if node := feature.child(name); node != nil {
			if text := node.text(); text != "" {
				return text
			}
		}
	}
	return "unknown"
}
