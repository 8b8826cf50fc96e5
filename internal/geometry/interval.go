// Package geometry computes lengths, overlaps, coverage ratios and
// intersection-over-union for half-open integer intervals over the same text.
package geometry

import "github.com/rotisserie/eris"

// ErrDegenerate is returned when an interval has non-positive length.
var ErrDegenerate = eris.New("geometry: degenerate interval")

// Interval is the half-open range [Start, End).
type Interval struct {
	Start int
	End   int
}

// New returns the interval [start, end).
func New(start, end int) Interval {
	return Interval{Start: start, End: end}
}

// Len returns End - Start. It is non-positive for degenerate intervals.
func (i Interval) Len() int {
	return i.End - i.Start
}

// Valid reports whether the interval has positive length.
func (i Interval) Valid() bool {
	return i.End > i.Start
}

// Validate returns ErrDegenerate for intervals with non-positive length.
func (i Interval) Validate() error {
	if !i.Valid() {
		return eris.Wrapf(ErrDegenerate, "[%d, %d)", i.Start, i.End)
	}
	return nil
}

// Envelope returns the smallest interval containing both a and b.
func Envelope(a, b Interval) Interval {
	return Interval{Start: min(a.Start, b.Start), End: max(a.End, b.End)}
}

// Overlap returns the length of the intersection of a and b, or 0 when they
// are disjoint.
func Overlap(a, b Interval) int {
	return max(0, min(a.End, b.End)-max(a.Start, b.Start))
}

// Union returns the length of the combined envelope of a and b. This is the
// extent from the earliest start to the latest end, not len(a)+len(b)-overlap.
func Union(a, b Interval) int {
	return max(a.End, b.End) - min(a.Start, b.Start)
}

// Coverage returns the fraction of a covered by b. Both intervals must be
// valid; zero overlap yields 0 without dividing.
func Coverage(a, b Interval) float64 {
	ov := Overlap(a, b)
	if ov == 0 || !a.Valid() {
		return 0
	}
	return float64(ov) / float64(a.Len())
}

// IoU returns Overlap(a, b) / Union(a, b), or 0 when the intervals do not
// overlap.
func IoU(a, b Interval) float64 {
	ov := Overlap(a, b)
	if ov == 0 {
		return 0
	}
	return float64(ov) / float64(Union(a, b))
}

// Coverages is the dual coverage of a (span, chunk) pair.
type Coverages struct {
	Overlap int
	Span    float64
	Chunk   float64
}

// Dual computes both coverage ratios of span and chunk in one pass. ok is
// false when either interval is degenerate or they do not overlap.
func Dual(span, chunk Interval) (Coverages, bool) {
	if !span.Valid() || !chunk.Valid() {
		return Coverages{}, false
	}
	ov := Overlap(span, chunk)
	if ov == 0 {
		return Coverages{}, false
	}
	return Coverages{
		Overlap: ov,
		Span:    float64(ov) / float64(span.Len()),
		Chunk:   float64(ov) / float64(chunk.Len()),
	}, true
}
