// Package normalizer maps source-specific raw features onto the
// canonical location schema. Normalization is a pure function: no I/O,
// no shared state, identical input yields identical output.
package normalizer

import (
	"fmt"

	"goldmap-platform/internal/models"
)

// subcategoryFields lists, per source kind, the property fields probed
// in order for a subcategory value. Partial upstream data must never
// produce an empty subcategory.
var subcategoryFields = map[models.SourceKind][]string{
	models.SourceKindMRDS:    {"site_type", "dep_type"},
	models.SourceKindDeposit: {"site_type", "deposit_type", "dep_type"},
}

// nameFields lists the property fields probed in order for a display
// name, covering both historical upstream naming conventions.
var nameFields = []string{"name", "site_name", "ftr_name"}

// idFields lists the property fields probed in order for the upstream
// record identifier.
var idFields = []string{"id", "dep_id"}

// Normalize converts one raw feature into a canonical location owned by
// dataSourceID. Category is a property of the source kind, not inferred
// per record.
func Normalize(raw models.RawFeature, kind models.SourceKind, dataSourceID string) models.CanonicalLocation {
	props := make(models.PropertyMap, len(raw.Properties)+3)
	for k, v := range raw.Properties {
		props[k] = v
	}

	// Promote fields served to generic detail views, keeping the full
	// bag for source-specific ones.
	if v := firstNonEmpty(raw.Properties, "dep_type", "deposit_type"); v != "" {
		props["depositType"] = v
	}
	if v := firstNonEmpty(raw.Properties, "commod1", "commodities", "commodity"); v != "" {
		props["commodities"] = v
	}
	if v := firstNonEmpty(raw.Properties, "dev_status", "development_status"); v != "" {
		props["developmentStatus"] = v
	}

	return models.CanonicalLocation{
		Name:         locationName(raw.Properties),
		Category:     kind.Category(),
		Subcategory:  subcategory(raw.Properties, kind),
		Longitude:    raw.Geometry.Lon,
		Latitude:     raw.Geometry.Lat,
		Properties:   props,
		DataSourceID: dataSourceID,
		SourceID:     sourceID(raw.Properties),
	}
}

// NormalizeAll maps a batch of raw features for one source.
func NormalizeAll(raw []models.RawFeature, kind models.SourceKind, dataSourceID string) []models.CanonicalLocation {
	locations := make([]models.CanonicalLocation, 0, len(raw))
	for _, feature := range raw {
		locations = append(locations, Normalize(feature, kind, dataSourceID))
	}
	return locations
}

func locationName(props map[string]interface{}) string {
	if name := firstNonEmpty(props, nameFields...); name != "" {
		return name
	}
	return "Unknown"
}

func subcategory(props map[string]interface{}, kind models.SourceKind) string {
	fields, ok := subcategoryFields[kind]
	if !ok {
		fields = []string{"site_type", "dep_type"}
	}
	if v := firstNonEmpty(props, fields...); v != "" {
		return v
	}
	return "unknown"
}

// sourceID returns the upstream identifier coerced to string, or nil
// when the remote schema has none. Identifiers are never invented.
func sourceID(props map[string]interface{}) *string {
	for _, field := range idFields {
		v, ok := props[field]
		if !ok || v == nil {
			continue
		}
		s := stringify(v)
		if s != "" {
			return &s
		}
	}
	return nil
}

func firstNonEmpty(props map[string]interface{}, fields ...string) string {
	for _, field := range fields {
		if v, ok := props[field]; ok && v != nil {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		// JSON numbers decode as float64; integral identifiers must
		// not pick up a trailing ".000000".
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case int, int64:
		return fmt.Sprintf("%d", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
