package exoplanet

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ColumnSummary holds descriptive statistics of one numeric column.
type ColumnSummary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	Q1     float64 `json:"q1"`
	Q3     float64 `json:"q3"`
}

// Summary describes a loaded table for the dataset endpoint and debug pages.
type Summary struct {
	Meta         Meta             `json:"meta"`
	Rows         int              `json:"rows"`
	ByStarSize   map[StarSize]int `json:"by_star_size"`
	PlanetRadius ColumnSummary    `json:"planet_radius"`
	StarRadius   ColumnSummary    `json:"star_radius"`
}

// Summarize computes per-class counts and column statistics.
func Summarize(t *Table) Summary {
	s := Summary{
		Meta:       t.Meta(),
		Rows:       t.Len(),
		ByStarSize: make(map[StarSize]int),
	}
	starRadii := make([]float64, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		r := t.rows[i]
		s.ByStarSize[r.StarSize]++
		starRadii = append(starRadii, r.StarRadius)
	}
	s.PlanetRadius = summarizeColumn(t.PlanetRadii())
	s.StarRadius = summarizeColumn(starRadii)
	return s
}

// RadiusBounds returns the smallest and largest planet radius in the table.
// ok is false for an empty table.
func RadiusBounds(t *Table) (lo, hi float64, ok bool) {
	radii := t.PlanetRadii()
	if len(radii) == 0 {
		return 0, 0, false
	}
	return floats.Min(radii), floats.Max(radii), true
}

func summarizeColumn(x []float64) ColumnSummary {
	cs := ColumnSummary{Count: len(x)}
	if len(x) == 0 {
		return cs
	}
	cs.Min = floats.Min(x)
	cs.Max = floats.Max(x)
	if len(x) > 1 {
		cs.Mean, cs.StdDev = stat.MeanStdDev(x, nil)
	} else {
		cs.Mean = x[0]
	}

	// stats sorts a copy, x keeps row order
	if m, err := stats.Median(x); err == nil {
		cs.Median = m
	}
	if q, err := stats.Quartile(x); err == nil {
		cs.Q1, cs.Q3 = q.Q1, q.Q3
	}
	// JSON has no NaN; short columns leave quartiles undefined
	cs.StdDev = finiteOrZero(cs.StdDev)
	cs.Median = finiteOrZero(cs.Median)
	cs.Q1 = finiteOrZero(cs.Q1)
	cs.Q3 = finiteOrZero(cs.Q3)
	return cs
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
