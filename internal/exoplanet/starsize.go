package exoplanet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// StarSize is the star-size class derived from the star radius.
type StarSize string

const (
	Small   StarSize = "small"
	Similar StarSize = "similar"
	Bigger  StarSize = "bigger"

	// Unclassified marks a star radius outside every bucket. It is not a
	// selectable label and never matches a selection.
	Unclassified StarSize = "unclassified"
)

var (
	// ErrUnknownStarSize is returned when a label is not one of the bucket labels.
	ErrUnknownStarSize = errors.New("unknown star size")
	// ErrInvalidBuckets is returned by NewBuckets for malformed edges or labels.
	ErrInvalidBuckets = errors.New("invalid bucket edges")
)

// StarSizes lists the selectable labels in display order.
var StarSizes = []StarSize{Small, Similar, Bigger}

// ParseStarSize converts a label to a StarSize. Only selectable labels are accepted.
func ParseStarSize(s string) (StarSize, error) {
	switch StarSize(strings.ToLower(strings.TrimSpace(s))) {
	case Small:
		return Small, nil
	case Similar:
		return Similar, nil
	case Bigger:
		return Bigger, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStarSize, s)
}

// Buckets partitions a continuous value into labelled classes.
// Bucket i covers [Edges[i], Edges[i+1]); the last bucket also includes its
// upper edge.
type Buckets struct {
	edges  []float64
	labels []StarSize
}

// DefaultBuckets returns the star radius buckets [0, 0.8, 1.2, 100] mapped to
// small, similar and bigger (radii in solar units).
func DefaultBuckets() Buckets {
	b, err := NewBuckets([]float64{0, 0.8, 1.2, 100}, StarSizes)
	if err != nil {
		panic(err)
	}
	return b
}

// NewBuckets validates edges and labels. Edges must be finite and strictly
// ascending with exactly one more edge than labels.
func NewBuckets(edges []float64, labels []StarSize) (Buckets, error) {
	if len(labels) == 0 {
		return Buckets{}, fmt.Errorf("%w: no labels", ErrInvalidBuckets)
	}
	if len(edges) != len(labels)+1 {
		return Buckets{}, fmt.Errorf("%w: %d edges for %d labels", ErrInvalidBuckets, len(edges), len(labels))
	}
	for i, e := range edges {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return Buckets{}, fmt.Errorf("%w: edge %d is not finite", ErrInvalidBuckets, i)
		}
		if i > 0 && e <= edges[i-1] {
			return Buckets{}, fmt.Errorf("%w: edges not strictly ascending at %d", ErrInvalidBuckets, i)
		}
	}
	for _, l := range labels {
		if l == Unclassified || l == "" {
			return Buckets{}, fmt.Errorf("%w: reserved label %q", ErrInvalidBuckets, l)
		}
	}
	b := Buckets{
		edges:  append([]float64(nil), edges...),
		labels: append([]StarSize(nil), labels...),
	}
	return b, nil
}

// Edges returns a copy of the bucket edges.
func (b Buckets) Edges() []float64 { return append([]float64(nil), b.edges...) }

// Labels returns a copy of the bucket labels.
func (b Buckets) Labels() []StarSize { return append([]StarSize(nil), b.labels...) }

// Classify returns the label of the bucket containing v, or Unclassified.
func (b Buckets) Classify(v float64) StarSize {
	n := len(b.labels)
	if n == 0 || math.IsNaN(v) {
		return Unclassified
	}
	if v < b.edges[0] || v > b.edges[n] {
		return Unclassified
	}
	if v == b.edges[n] {
		return b.labels[n-1]
	}
	// first edge strictly greater than v closes the bucket
	i := sort.Search(len(b.edges), func(i int) bool { return b.edges[i] > v })
	return b.labels[i-1]
}

// DeriveStarSize returns a new table whose rows carry the class of their star
// radius. The input table is left untouched.
func DeriveStarSize(t *Table, b Buckets) *Table {
	rows := t.Rows()
	for i := range rows {
		rows[i].StarSize = b.Classify(rows[i].StarRadius)
	}
	return &Table{rows: rows, meta: t.Meta()}
}

// Selection is a set of star-size labels.
type Selection map[StarSize]struct{}

// NewSelection builds a selection from labels.
func NewSelection(sizes ...StarSize) Selection {
	s := make(Selection, len(sizes))
	for _, size := range sizes {
		s[size] = struct{}{}
	}
	return s
}

// ParseSelection builds a selection from raw labels, rejecting unknown ones.
func ParseSelection(labels []string) (Selection, error) {
	s := make(Selection, len(labels))
	for _, l := range labels {
		size, err := ParseStarSize(l)
		if err != nil {
			return nil, err
		}
		s[size] = struct{}{}
	}
	return s, nil
}

// Contains reports whether size is selected. Unclassified is never selected.
func (s Selection) Contains(size StarSize) bool {
	if size == Unclassified {
		return false
	}
	_, ok := s[size]
	return ok
}

// Labels returns the selected labels, selectable ones first in display order.
func (s Selection) Labels() []StarSize {
	out := make([]StarSize, 0, len(s))
	for _, size := range StarSizes {
		if _, ok := s[size]; ok {
			out = append(out, size)
		}
	}
	var rest []StarSize
	for size := range s {
		if size != Small && size != Similar && size != Bigger {
			rest = append(rest, size)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

// Clone returns an independent copy.
func (s Selection) Clone() Selection {
	cp := make(Selection, len(s))
	for k := range s {
		cp[k] = struct{}{}
	}
	return cp
}

func (s Selection) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Labels())
}

func (s *Selection) UnmarshalJSON(data []byte) error {
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return err
	}
	sel, err := ParseSelection(labels)
	if err != nil {
		return err
	}
	*s = sel
	return nil
}
