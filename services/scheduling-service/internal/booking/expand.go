package booking

import (
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

// Expand turns a validated request into its concrete occurrences, ordered by occurrence
// index (week-major, then anchor).
//
// Weeks and anchors are added on the mentor's wall clock in loc, so a lesson booked for
// 18:00 local stays at 18:00 local after a DST change. Only the duration is absolute.
func Expand(req model.BookingRequest, loc *time.Location) []interval.Interval {
	if loc == nil {
		loc = time.UTC
	}
	base := req.Start.In(loc)
	duration := time.Duration(req.DurationMinutes) * time.Minute

	out := make([]interval.Interval, 0, req.Weeks*len(req.Anchors))
	for w := 0; w < req.Weeks; w++ {
		for _, anchor := range req.Anchors {
			days := int(anchor / (24 * time.Hour))
			minutes := int((anchor % (24 * time.Hour)) / time.Minute)
			start := time.Date(
				base.Year(), base.Month(), base.Day()+7*w+days,
				base.Hour(), base.Minute()+minutes, 0, 0, loc,
			).UTC()
			out = append(out, interval.Interval{Start: start, End: start.Add(duration)})
		}
	}
	return out
}

// checkSelfOverlap rejects expansions whose own occurrences collide. Anchor validation
// rules this out on a fixed-offset clock; a DST shift between weeks can still squeeze a
// late-week anchor into the next week's first occurrence.
func checkSelfOverlap(occs []interval.Interval) error {
	for i := 1; i < len(occs); i++ {
		if interval.Overlaps(occs[i-1], occs[i]) {
			return errs.Invalid("anchors", "occurrences overlap each other")
		}
	}
	return nil
}
