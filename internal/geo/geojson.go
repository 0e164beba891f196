// Package geo handles GeoJSON data structures, payload validation and summaries.
package geo

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// TypeFeatureCollection is the only accepted top-level GeoJSON type.
const TypeFeatureCollection = "FeatureCollection"

// FeatureCollection represents a collection of geographic features.
// It follows the standard GeoJSON structure.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature represents a single geographic feature with geometry and properties.
type Feature struct {
	ID         any            `json:"id,omitempty"`
	Properties map[string]any `json:"properties"`
	Geometry   *Geometry      `json:"geometry"`
	Type       string         `json:"type"`
}

// GeometryType returns the feature geometry type or an empty string.
func (f Feature) GeometryType() string {
	if f.Geometry == nil {
		return ""
	}
	return f.Geometry.Type
}

// Geometry keeps the geometry type and the original JSON object as received.
// Coordinates are not interpreted here, so every GeoJSON geometry kind
// (including GeometryCollection) passes through untouched.
type Geometry struct {
	Type string
	raw  json.RawMessage
}

// NewGeometry builds a geometry from its type and raw GeoJSON object.
// An empty raw value produces a geometry that serializes to {"type": typ}.
func NewGeometry(typ string, raw json.RawMessage) *Geometry {
	return &Geometry{Type: typ, raw: raw}
}

// Raw returns the compacted GeoJSON object of the geometry.
func (g *Geometry) Raw() json.RawMessage {
	if g == nil {
		return nil
	}
	if len(g.raw) == 0 {
		data, _ := json.Marshal(map[string]string{"type": g.Type})
		return data
	}
	return g.raw
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return eris.Wrap(err, "geometry: decode")
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return eris.Wrap(err, "geometry: compact")
	}

	g.Type = head.Type
	g.raw = buf.Bytes()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (g Geometry) MarshalJSON() ([]byte, error) {
	return g.Raw(), nil
}
