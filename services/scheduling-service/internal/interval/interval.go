package interval

import (
	"slices"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
)

// Interval is a half-open range [Start, End) of UTC instants.
type Interval struct {
	Start time.Time
	End   time.Time
}

// New validates and normalizes an interval to UTC. Empty or inverted ranges are rejected.
func New(start, end time.Time) (Interval, error) {
	if start.IsZero() || end.IsZero() {
		return Interval{}, errs.Invalid("interval", "start and end are required")
	}
	if !end.After(start) {
		return Interval{}, errs.Invalid("interval", "end must be after start")
	}
	return Interval{Start: start.UTC(), End: end.UTC()}, nil
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Overlaps reports whether a and b share at least one instant.
// Abutting intervals ([a,b) and [b,c)) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Contains reports whether inner lies entirely within outer.
func Contains(outer, inner Interval) bool {
	return !inner.Start.Before(outer.Start) && !inner.End.After(outer.End)
}

// OverlapsAny reports whether iv overlaps any member of set.
func OverlapsAny(iv Interval, set []Interval) bool {
	for _, s := range set {
		if Overlaps(iv, s) {
			return true
		}
	}
	return false
}

// Coalesce returns a sorted copy of in where overlapping and adjacent intervals are merged.
func Coalesce(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := slices.Clone(in)
	slices.SortFunc(sorted, func(a, b Interval) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})

	merged := make([]Interval, 0, len(sorted))
	for _, cur := range sorted {
		if !cur.End.After(cur.Start) {
			continue
		}
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

// Subtract removes every portion of busy from free. The result is ordered and non-overlapping;
// a free interval with a busy interval strictly inside it is split in two.
func Subtract(free, busy []Interval) []Interval {
	free = Coalesce(free)
	busy = Coalesce(busy)
	if len(busy) == 0 {
		return free
	}

	var out []Interval
	j := 0
	for _, f := range free {
		cursor := f.Start
		// busy is sorted; skip blocks that end before this free interval starts.
		for j < len(busy) && !busy[j].End.After(f.Start) {
			j++
		}
		for k := j; k < len(busy) && busy[k].Start.Before(f.End); k++ {
			b := busy[k]
			if b.Start.After(cursor) {
				out = append(out, Interval{Start: cursor, End: b.Start})
			}
			if b.End.After(cursor) {
				cursor = b.End
			}
		}
		if f.End.After(cursor) {
			out = append(out, Interval{Start: cursor, End: f.End})
		}
	}
	return out
}

// Intersect returns the instants present in both a and b.
func Intersect(a, b []Interval) []Interval {
	a = Coalesce(a)
	b = Coalesce(b)

	var out []Interval
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := maxTime(a[i].Start, b[j].Start)
		end := minTime(a[i].End, b[j].End)
		if end.After(start) {
			out = append(out, Interval{Start: start, End: end})
		}
		if a[i].End.Before(b[j].End) {
			i++
		} else {
			j++
		}
	}
	return out
}

// Span returns the smallest interval covering every member of in.
func Span(in []Interval) (Interval, bool) {
	if len(in) == 0 {
		return Interval{}, false
	}
	out := in[0]
	for _, iv := range in[1:] {
		out.Start = minTime(out.Start, iv.Start)
		out.End = maxTime(out.End, iv.End)
	}
	return out, true
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
