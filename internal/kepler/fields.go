// Package kepler loads exoplanet candidates from the Kepler JSON API and maps
// provider field names onto the semantic names used by the exoplanet package.
package kepler

import (
	"fmt"
	"sort"
)

// Field is a semantic row field.
type Field string

const (
	FieldOrbitalPeriod     Field = "orbitalPeriodDays"
	FieldPlanetRadius      Field = "planetRadius"
	FieldStarRadius        Field = "starRadius"
	FieldPlanetTemperature Field = "planetTemperature"
	FieldSemiMajorAxis     Field = "semiMajorAxis"
	FieldRowID             Field = "rowId"
)

// Fields lists every semantic field the loader requires.
var Fields = []Field{
	FieldOrbitalPeriod,
	FieldPlanetRadius,
	FieldStarRadius,
	FieldPlanetTemperature,
	FieldSemiMajorAxis,
	FieldRowID,
}

// FieldMap maps semantic fields to flattened provider paths (dotted for
// nested objects, e.g. "koi.RPLANET").
type FieldMap map[Field]string

// DefaultFieldMap returns the asterank Kepler provider names.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		FieldOrbitalPeriod:     "PER",
		FieldPlanetRadius:      "RPLANET",
		FieldStarRadius:        "RSTAR",
		FieldPlanetTemperature: "TPLANET",
		FieldSemiMajorAxis:     "A",
		FieldRowID:             "ROW",
	}
}

// WithOverrides returns a copy of m with provider paths replaced from
// overrides, keyed by semantic name. Unknown semantic names are an error.
func (m FieldMap) WithOverrides(overrides map[string]string) (FieldMap, error) {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !knownField(Field(k)) {
			return nil, fmt.Errorf("unknown field %q", k)
		}
		if overrides[k] == "" {
			return nil, fmt.Errorf("empty provider path for field %q", k)
		}
		out[Field(k)] = overrides[k]
	}
	return out, nil
}

// Validate checks that every semantic field has a provider path.
func (m FieldMap) Validate() error {
	for _, f := range Fields {
		if m[f] == "" {
			return fmt.Errorf("no provider path for field %q", f)
		}
	}
	return nil
}

func knownField(f Field) bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}
