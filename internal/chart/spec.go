// Package chart maps filtered rows to a renderer-independent scatter chart
// description and renders it with go-echarts or gonum/plot.
package chart

import (
	"github.com/banshee-data/exodash/internal/exoplanet"
)

// Axis names the row field plotted on an axis.
type Axis struct {
	Field string `json:"field"`
	Label string `json:"label"`
}

// Point is one plotted row.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color"`
}

// Spec describes a scatter plot: axis mapping, colour channel and the points
// in draw order. It carries no rendering details.
type Spec struct {
	Title      string `json:"title"`
	X          Axis   `json:"x"`
	Y          Axis   `json:"y"`
	ColorField string `json:"color_field"`
	// Points are in filtered-row order. Never nil.
	Points []Point `json:"points"`
	// Revision is assigned by the publisher; zero for a freshly built spec.
	Revision uint64 `json:"revision"`
	// Filter echoes the control values that produced the points, if known.
	Filter *exoplanet.FilterState `json:"filter,omitempty"`
}

// Title shown above the chart.
const Title = "Planet Temperature ~ Distance from the Star"

// Build maps rows to a spec with x = planet temperature, y = semi-major axis
// and a discrete colour keyed by row id. No sorting, binning or aggregation
// is applied. Zero rows yield a valid empty spec.
func Build(rows []exoplanet.Row) Spec {
	points := make([]Point, 0, len(rows))
	for _, r := range rows {
		points = append(points, Point{
			X:     r.PlanetTemperature,
			Y:     r.SemiMajorAxis,
			Color: r.RowID,
		})
	}
	return Spec{
		Title:      Title,
		X:          Axis{Field: "planetTemperature", Label: "Planet temperature (K)"},
		Y:          Axis{Field: "semiMajorAxis", Label: "Semi-major axis (AU)"},
		ColorField: "rowId",
		Points:     points,
	}
}

// Empty reports whether the spec has no points.
func (s Spec) Empty() bool { return len(s.Points) == 0 }

// Series groups point indices by colour key, in order of first appearance.
// Within a group the original point order is kept.
type Series struct {
	Key    string
	Points []Point
}

// GroupByColor splits the points into one series per colour key.
func (s Spec) GroupByColor() []Series {
	index := make(map[string]int)
	var out []Series
	for _, p := range s.Points {
		i, ok := index[p.Color]
		if !ok {
			i = len(out)
			index[p.Color] = i
			out = append(out, Series{Key: p.Color})
		}
		out[i].Points = append(out[i].Points, p)
	}
	return out
}
