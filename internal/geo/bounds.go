package geo

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Bounds is the lon/lat envelope of a set of geometries.
type Bounds struct {
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
}

type boundsBuilder struct {
	b     Bounds
	empty bool
}

func newBoundsBuilder() *boundsBuilder {
	return &boundsBuilder{
		b: Bounds{
			MinLon: math.Inf(1),
			MinLat: math.Inf(1),
			MaxLon: math.Inf(-1),
			MaxLat: math.Inf(-1),
		},
		empty: true,
	}
}

// add decodes a raw GeoJSON geometry and extends the envelope with it.
// Geometries go-geom cannot decode are ignored.
func (bb *boundsBuilder) add(g *Geometry) {
	if g == nil {
		return
	}

	var t geom.T
	if err := geojson.Unmarshal(g.Raw(), &t); err != nil || t == nil {
		return
	}

	gb := t.Bounds()
	if gb == nil || gb.IsEmpty() {
		return
	}

	bb.b.MinLon = math.Min(bb.b.MinLon, gb.Min(0))
	bb.b.MinLat = math.Min(bb.b.MinLat, gb.Min(1))
	bb.b.MaxLon = math.Max(bb.b.MaxLon, gb.Max(0))
	bb.b.MaxLat = math.Max(bb.b.MaxLat, gb.Max(1))
	bb.empty = false
}

func (bb *boundsBuilder) result() *Bounds {
	if bb.empty {
		return nil
	}
	b := bb.b
	return &b
}
