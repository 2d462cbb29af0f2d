package wfs

import (
	"testing"
)

func TestParseCoordinatePair(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLon float64
		wantLat float64
		wantOK  bool
	}{
		{name: "comma separated lon lat", input: "-123.1,40.9", wantLon: -123.1, wantLat: 40.9, wantOK: true},
		{name: "space separated", input: "-123.1 40.9", wantLon: -123.1, wantLat: 40.9, wantOK: true},
		{name: "swapped axis order detected", input: "40.9,-123.1", wantLon: -123.1, wantLat: 40.9, wantOK: true},
		{name: "duplicated pair uses first", input: "-123.1,40.9 -123.1,40.9", wantLon: -123.1, wantLat: 40.9, wantOK: true},
		{name: "both out of range", input: "500,400", wantOK: false},
		{name: "not numbers", input: "abc,def", wantOK: false},
		{name: "single value", input: "-123.1", wantOK: false},
		{name: "empty", input: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseCoordinatePair(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("parseCoordinatePair(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && (got.Lon != tt.wantLon || got.Lat != tt.wantLat) {
				t.Errorf("parseCoordinatePair(%q) = (%v, %v), want (%v, %v)",
					tt.input, got.Lon, got.Lat, tt.wantLon, tt.wantLat)
			}
		})
	}
}

func TestParseGML_StrategyPrecedence(t *testing.T) {
	// Both a gml:Point and a conflicting LAT/LONG pair: the GML point
	// must win.
	const fixture = `<?xml version="1.0"?>
<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs" xmlns:gml="http://www.opengis.net/gml" xmlns:ms="http://mapserver.gis.umn.edu/mapserver">
  <gml:featureMember>
    <ms:mrds>
      <gml:Point><gml:coordinates>-123.1,40.9</gml:coordinates></gml:Point>
      <ms:LAT>33.000000</ms:LAT>
      <ms:LONG>-111.000000</ms:LONG>
      <ms:NAME>Conflicted</ms:NAME>
    </ms:mrds>
  </gml:featureMember>
</wfs:FeatureCollection>`

	features, dropped, err := parseGML([]byte(fixture), nil)
	if err != nil {
		t.Fatalf("parseGML() error = %v", err)
	}
	if dropped != 0 || len(features) != 1 {
		t.Fatalf("parseGML() = %d features %d dropped, want 1/0", len(features), dropped)
	}
	if features[0].Geometry.Lon != -123.1 || features[0].Geometry.Lat != 40.9 {
		t.Errorf("geometry = (%v, %v), GML point should beat LAT/LONG fields",
			features[0].Geometry.Lon, features[0].Geometry.Lat)
	}
}

func TestParseGML_LatLongFallback(t *testing.T) {
	const fixture = `<?xml version="1.0"?>
<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs" xmlns:ms="http://mapserver.gis.umn.edu/mapserver">
  <gml:featureMember xmlns:gml="http://www.opengis.net/gml">
    <ms:mrds>
      <ms:LAT>40.900000</ms:LAT>
      <ms:LONG>-123.100000</ms:LONG>
      <ms:NAME>Fields Only</ms:NAME>
    </ms:mrds>
  </gml:featureMember>
</wfs:FeatureCollection>`

	features, _, err := parseGML([]byte(fixture), nil)
	if err != nil {
		t.Fatalf("parseGML() error = %v", err)
	}
	if len(features) != 1 {
		t.Fatalf("parseGML() = %d features, want 1", len(features))
	}
	if features[0].Geometry.Lon != -123.1 || features[0].Geometry.Lat != 40.9 {
		t.Errorf("geometry = (%v, %v), want (-123.1, 40.9)", features[0].Geometry.Lon, features[0].Geometry.Lat)
	}
}

func TestParseGML_NestedGeometryFallback(t *testing.T) {
	const fixture = `<?xml version="1.0"?>
<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs" xmlns:ms="http://mapserver.gis.umn.edu/mapserver">
  <gml:featureMember xmlns:gml="http://www.opengis.net/gml">
    <ms:points>
      <ms:geometry>
        <ms:Point><ms:coordinates>-122.5 41.2</ms:coordinates></ms:Point>
      </ms:geometry>
      <ms:NAME>Nested</ms:NAME>
    </ms:points>
  </gml:featureMember>
</wfs:FeatureCollection>`

	features, _, err := parseGML([]byte(fixture), nil)
	if err != nil {
		t.Fatalf("parseGML() error = %v", err)
	}
	if len(features) != 1 {
		t.Fatalf("parseGML() = %d features, want 1", len(features))
	}
	if features[0].Geometry.Lon != -122.5 || features[0].Geometry.Lat != 41.2 {
		t.Errorf("geometry = (%v, %v), want (-122.5, 41.2)", features[0].Geometry.Lon, features[0].Geometry.Lat)
	}
}

func TestParseGML_DropsUnrecoverableGeometry(t *testing.T) {
	const fixture = `<?xml version="1.0"?>
<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs" xmlns:ms="http://mapserver.gis.umn.edu/mapserver">
  <gml:featureMember xmlns:gml="http://www.opengis.net/gml">
    <ms:mrds>
      <ms:ID>42</ms:ID>
      <ms:NAME>No Coordinates</ms:NAME>
      <ms:LAT>not-a-number</ms:LAT>
    </ms:mrds>
  </gml:featureMember>
  <gml:featureMember xmlns:gml="http://www.opengis.net/gml">
    <ms:mrds>
      <gml:Point><gml:coordinates>-123.1,40.9</gml:coordinates></gml:Point>
      <ms:NAME>Kept</ms:NAME>
    </ms:mrds>
  </gml:featureMember>
</wfs:FeatureCollection>`

	var droppedID, droppedName string
	features, dropped, err := parseGML([]byte(fixture), func(id, name string) {
		droppedID, droppedName = id, name
	})
	if err != nil {
		t.Fatalf("parseGML() error = %v", err)
	}

	if len(features) != 1 {
		t.Fatalf("parseGML() = %d features, want 1 (bad geometry dropped, never fabricated)", len(features))
	}
	if features[0].Properties["name"] != "Kept" {
		t.Errorf("surviving feature = %v, want Kept", features[0].Properties["name"])
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if droppedID != "42" || droppedName != "No Coordinates" {
		t.Errorf("diagnostic identified (%q, %q), want (42, No Coordinates)", droppedID, droppedName)
	}
}

func TestExtractServiceException(t *testing.T) {
	msg, found := extractServiceException([]byte(serviceExceptionFixture))
	if !found {
		t.Fatal("extractServiceException() should detect the report")
	}
	if msg == "" {
		t.Error("extracted message should not be empty")
	}

	if _, found := extractServiceException([]byte(mrdsFixture)); found {
		t.Error("extractServiceException() false positive on a normal response")
	}
}

func TestParseGeoJSON_NotJSON(t *testing.T) {
	if _, ok := parseGeoJSON([]byte(mrdsFixture)); ok {
		t.Error("parseGeoJSON() should reject XML bodies")
	}
	if _, ok := parseGeoJSON([]byte(`{"type": "something-else"}`)); ok {
		t.Error("parseGeoJSON() should reject non-FeatureCollection JSON")
	}
}
