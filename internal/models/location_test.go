package models

import (
	"strings"
	"testing"
)

func TestBoundingBox_Validate(t *testing.T) {
	tests := []struct {
		name    string
		box     BoundingBox
		wantErr bool
	}{
		{
			name: "valid northern california box",
			box:  BoundingBox{MinLon: -124.4, MinLat: 40.07, MaxLon: -122.39, MaxLat: 41.74},
		},
		{
			name: "valid degenerate box",
			box:  BoundingBox{MinLon: 10, MinLat: 10, MaxLon: 10, MaxLat: 10},
		},
		{
			name:    "longitude out of range",
			box:     BoundingBox{MinLon: -190, MinLat: 40, MaxLon: -122, MaxLat: 41},
			wantErr: true,
		},
		{
			name:    "latitude out of range",
			box:     BoundingBox{MinLon: -124, MinLat: -95, MaxLon: -122, MaxLat: 41},
			wantErr: true,
		},
		{
			name:    "min longitude greater than max",
			box:     BoundingBox{MinLon: -122, MinLat: 40, MaxLon: -124, MaxLat: 41},
			wantErr: true,
		},
		{
			name:    "min latitude greater than max",
			box:     BoundingBox{MinLon: -124, MinLat: 42, MaxLon: -122, MaxLat: 41},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.box.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if _, ok := err.(*ValidationError); !ok {
					t.Errorf("Validate() error type = %T, want *ValidationError", err)
				}
			}
		})
	}
}

func TestBoundingBox_StringRoundTrip(t *testing.T) {
	boxes := []BoundingBox{
		{MinLon: -124.407182, MinLat: 40.071180, MaxLon: -122.393331, MaxLat: 41.740961},
		{MinLon: -180, MinLat: -90, MaxLon: 180, MaxLat: 90},
		{MinLon: 0, MinLat: 0, MaxLon: 0.000001, MaxLat: 0.000001},
	}

	for _, box := range boxes {
		s := box.String()

		if got := len(strings.Split(s, ",")); got != 4 {
			t.Fatalf("String() = %q, want 4 comma-separated values", s)
		}

		parsed, err := ParseBoundingBox(s)
		if err != nil {
			t.Fatalf("ParseBoundingBox(%q) error = %v", s, err)
		}
		if parsed != box {
			t.Errorf("round trip mismatch: got %+v, want %+v", parsed, box)
		}
		if parsed.String() != s {
			t.Errorf("second format = %q, want %q", parsed.String(), s)
		}
	}
}

func TestParseBoundingBox_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "too few values", input: "-124.4,40.07,-122.39"},
		{name: "not a number", input: "-124.4,40.07,abc,41.74"},
		{name: "out of range", input: "-200,40.07,-122.39,41.74"},
		{name: "inverted", input: "-122.39,40.07,-124.4,41.74"},
		{name: "empty", input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseBoundingBox(tt.input); err == nil {
				t.Errorf("ParseBoundingBox(%q) expected error", tt.input)
			}
		})
	}
}

func TestSourceKind_Category(t *testing.T) {
	if got := SourceKindMRDS.Category(); got != "mineral_deposit" {
		t.Errorf("mrds category = %q, want mineral_deposit", got)
	}
	if got := SourceKindDeposit.Category(); got != "deposit" {
		t.Errorf("deposit category = %q, want deposit", got)
	}
	if got := SourceKind("bogus").Category(); got != "unknown" {
		t.Errorf("unrecognized kind category = %q, want unknown", got)
	}
}

func TestPropertyMap_ScanValue(t *testing.T) {
	original := PropertyMap{"dep_type": "Au-Ag Quartz Vein", "gda_id": float64(12)}

	raw, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var scanned PropertyMap
	if err := scanned.Scan(raw); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if scanned["dep_type"] != "Au-Ag Quartz Vein" {
		t.Errorf("dep_type = %v, want Au-Ag Quartz Vein", scanned["dep_type"])
	}
	if scanned["gda_id"] != float64(12) {
		t.Errorf("gda_id = %v, want 12", scanned["gda_id"])
	}

	var nilMap PropertyMap
	if err := nilMap.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if nilMap != nil {
		t.Errorf("Scan(nil) should leave map nil")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "fetch error", err: &FetchError{Source: "usgs-mrds"}, want: true},
		{name: "service error", err: &ServiceError{Source: "usgs-mrds", Message: "bad typeName"}, want: true},
		{name: "parse error", err: &ParseError{Source: "usgs-mrds", Reason: "truncated"}, want: false},
		{name: "validation error", err: &ValidationError{Field: "bbox"}, want: false},
		{name: "transaction error", err: &TransactionError{Op: "insert"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}
