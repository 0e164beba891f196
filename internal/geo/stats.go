package geo

import (
	"strconv"
	"strings"
)

// GeometryCount is the number of features sharing one geometry type.
type GeometryCount struct {
	Type  string `json:"type" yaml:"type"`
	Count int    `json:"count" yaml:"count"`
}

// Summary is an immutable snapshot of statistics over a FeatureCollection.
// ByGeometryType keeps the order in which each type was first seen.
type Summary struct {
	Bounds         *Bounds         `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	ByGeometryType []GeometryCount `json:"by_geometry_type" yaml:"by_geometry_type"`
	TotalFeatures  int             `json:"total_features" yaml:"total_features"`
}

// Summarize walks the features once and counts them per geometry type.
// The collection is expected to have passed Validate.
func Summarize(fc *FeatureCollection) Summary {
	if fc == nil {
		return Summary{ByGeometryType: []GeometryCount{}}
	}

	s := Summary{
		TotalFeatures:  len(fc.Features),
		ByGeometryType: []GeometryCount{},
	}
	index := make(map[string]int)
	bb := newBoundsBuilder()

	for _, f := range fc.Features {
		t := f.GeometryType()
		if i, ok := index[t]; ok {
			s.ByGeometryType[i].Count++
		} else {
			index[t] = len(s.ByGeometryType)
			s.ByGeometryType = append(s.ByGeometryType, GeometryCount{Type: t, Count: 1})
		}
		bb.add(f.Geometry)
	}

	s.Bounds = bb.result()
	return s
}

// Count returns the number of features with the given geometry type.
func (s Summary) Count(geometryType string) int {
	for _, c := range s.ByGeometryType {
		if c.Type == geometryType {
			return c.Count
		}
	}
	return 0
}

// String renders the one-line panel text, e.g.
// "Type: FeatureCollection | Features: 3 | Point: 2, LineString: 1".
// The per-type breakdown is only shown when more than one type is present.
func (s Summary) String() string {
	var sb strings.Builder
	sb.WriteString("Type: ")
	sb.WriteString(TypeFeatureCollection)
	sb.WriteString(" | Features: ")
	sb.WriteString(strconv.Itoa(s.TotalFeatures))

	if len(s.ByGeometryType) > 1 {
		sb.WriteString(" | ")
		for i, c := range s.ByGeometryType {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(c.Type)
			sb.WriteString(": ")
			sb.WriteString(strconv.Itoa(c.Count))
		}
	}

	return sb.String()
}
