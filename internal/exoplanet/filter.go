package exoplanet

import (
	"fmt"
	"math"
)

// RadiusRange bounds the planet radius. Both ends are exclusive.
type RadiusRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether Min < r < Max. A swapped range contains nothing.
func (rr RadiusRange) Contains(r float64) bool {
	return r > rr.Min && r < rr.Max
}

// Validate rejects non-finite bounds. Min > Max is valid and matches nothing.
func (rr RadiusRange) Validate() error {
	if math.IsNaN(rr.Min) || math.IsInf(rr.Min, 0) {
		return fmt.Errorf("radius min must be finite, got %v", rr.Min)
	}
	if math.IsNaN(rr.Max) || math.IsInf(rr.Max, 0) {
		return fmt.Errorf("radius max must be finite, got %v", rr.Max)
	}
	return nil
}

// FilterState is the pair of control values driving the chart.
type FilterState struct {
	Radius    RadiusRange `json:"radius"`
	StarSizes Selection   `json:"star_sizes"`
}

// DefaultFilterState returns radius (5, 50) with small and similar stars selected.
func DefaultFilterState() FilterState {
	return FilterState{
		Radius:    RadiusRange{Min: 5, Max: 50},
		StarSizes: NewSelection(Small, Similar),
	}
}

// Clone returns a copy that shares no maps with fs.
func (fs FilterState) Clone() FilterState {
	return FilterState{Radius: fs.Radius, StarSizes: fs.StarSizes.Clone()}
}

// Matches reports whether a row passes the filter.
func (fs FilterState) Matches(r Row) bool {
	return fs.Radius.Contains(r.PlanetRadius) && fs.StarSizes.Contains(r.StarSize)
}

// Filter returns, in table order, the rows whose planet radius lies strictly
// inside radius and whose star size is selected. An empty selection or a
// swapped range yields an empty, non-nil slice.
func Filter(t *Table, radius RadiusRange, sizes Selection) []Row {
	fs := FilterState{Radius: radius, StarSizes: sizes}
	out := make([]Row, 0)
	if len(sizes) == 0 || radius.Min >= radius.Max {
		return out
	}
	for i := 0; i < t.Len(); i++ {
		if fs.Matches(t.rows[i]) {
			out = append(out, t.rows[i])
		}
	}
	return out
}
