// Package exoplanet holds the in-memory candidate table and the pure
// operations over it: star-size bucketing, row filtering and summaries.
package exoplanet

import "time"

// Row is one exoplanet-candidate observation using semantic field names.
// Provider-specific names never reach this package.
type Row struct {
	RowID             string   `json:"row_id"`
	OrbitalPeriodDays float64  `json:"orbital_period_days"`
	PlanetRadius      float64  `json:"planet_radius"`
	StarRadius        float64  `json:"star_radius"`
	PlanetTemperature float64  `json:"planet_temperature"`
	SemiMajorAxis     float64  `json:"semi_major_axis"`
	StarSize          StarSize `json:"star_size"`
}

// Meta describes where a table came from and what the loader dropped.
type Meta struct {
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
	// Fetched is the number of elements in the response array.
	Fetched int `json:"fetched"`
	// Skipped counts malformed elements rejected by the loader.
	Skipped int `json:"skipped"`
	// Excluded counts rows dropped for a non-positive orbital period.
	Excluded int `json:"excluded"`
}

// Table is an ordered, read-only snapshot of rows. Once built it is never
// mutated, so it can be shared by pointer between goroutines without locks.
type Table struct {
	rows []Row
	meta Meta
}

// NewTable copies rows into a new table.
func NewTable(rows []Row, meta Meta) *Table {
	cp := make([]Row, len(rows))
	copy(cp, rows)
	return &Table{rows: cp, meta: meta}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Rows returns a copy of all rows in load order.
func (t *Table) Rows() []Row {
	if t == nil {
		return nil
	}
	cp := make([]Row, len(t.rows))
	copy(cp, t.rows)
	return cp
}

// Meta returns the load metadata.
func (t *Table) Meta() Meta {
	if t == nil {
		return Meta{}
	}
	return t.meta
}

// PlanetRadii returns the planet radius column in row order.
func (t *Table) PlanetRadii() []float64 {
	out := make([]float64, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		out = append(out, t.rows[i].PlanetRadius)
	}
	return out
}
