package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Geometry represents a parcel boundary as a normalized MultiPolygon.
// Coordinates are stored in GeoJSON order: [polygons][rings][points][lon,lat],
// SRID 4326 (WGS84). Provider responses deliver either Polygon or
// MultiPolygon; a Polygon is lifted into a single-element MultiPolygon at
// parse time so the rest of the code never branches on geometry type.
type Geometry struct {
	Coordinates [][][][2]float64
	SRID        int
}

// Valid reports whether the geometry carries at least one ring with enough
// points to form a polygon. Records failing this check are skipped during
// render sync rather than aborting the batch.
func (g Geometry) Valid() bool {
	if len(g.Coordinates) == 0 {
		return false
	}
	for _, poly := range g.Coordinates {
		if len(poly) == 0 || len(poly[0]) < 3 {
			return false
		}
	}
	return true
}

// Centroid returns the average of the outer-ring vertices across all
// polygons. This matches where the provider map placed text labels; a true
// area-weighted centroid is not needed for label positioning.
func (g Geometry) Centroid() (lon, lat float64) {
	var n int
	for _, poly := range g.Coordinates {
		if len(poly) == 0 {
			continue
		}
		for _, pt := range poly[0] {
			lon += pt[0]
			lat += pt[1]
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return lon / float64(n), lat / float64(n)
}

// geomEnvelope is the GeoJSON geometry wire shape used for both directions.
type geomEnvelope struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// UnmarshalJSON parses a GeoJSON Polygon or MultiPolygon geometry.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var env geomEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to unmarshal geometry: %w", err)
	}

	switch env.Type {
	case "Polygon":
		var coords [][][2]float64
		if err := json.Unmarshal(env.Coordinates, &coords); err != nil {
			return fmt.Errorf("failed to unmarshal polygon coordinates: %w", err)
		}
		g.Coordinates = [][][][2]float64{coords}
	case "MultiPolygon":
		var coords [][][][2]float64
		if err := json.Unmarshal(env.Coordinates, &coords); err != nil {
			return fmt.Errorf("failed to unmarshal multipolygon coordinates: %w", err)
		}
		g.Coordinates = coords
	default:
		return fmt.Errorf("expected Polygon or MultiPolygon type, got %q", env.Type)
	}

	g.SRID = 4326
	return nil
}

// MarshalJSON emits GeoJSON. A single-polygon geometry is written back as a
// Polygon so round-tripped session snapshots stay byte-compatible with what
// the provider returned.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if len(g.Coordinates) == 1 {
		return json.Marshal(struct {
			Type        string         `json:"type"`
			Coordinates [][][2]float64 `json:"coordinates"`
		}{
			Type:        "Polygon",
			Coordinates: g.Coordinates[0],
		})
	}
	return json.Marshal(struct {
		Type        string           `json:"type"`
		Coordinates [][][][2]float64 `json:"coordinates"`
	}{
		Type:        "MultiPolygon",
		Coordinates: g.Coordinates,
	})
}

// Scan implements sql.Scanner for reading geometry stored as GeoJSON text.
func (g *Geometry) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan Geometry: expected []byte or string, got %T", value)
	}

	return g.UnmarshalJSON(bytes)
}

// Value implements driver.Valuer for writing geometry as GeoJSON text.
func (g Geometry) Value() (driver.Value, error) {
	if len(g.Coordinates) == 0 {
		return nil, nil
	}

	geoJSON, err := g.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal geometry to GeoJSON: %w", err)
	}

	return string(geoJSON), nil
}
