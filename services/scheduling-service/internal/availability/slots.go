package availability

import (
	"iter"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/interval"
)

// AvailableSlots yields slot start times inside available where a booking of length duration fits.
//
// Starts are laid on a step grid anchored at each interval's start. When the latest start that
// still fits (End - duration) is off the grid it is yielded as well, so a 50 minute lesson on a
// 30 minute grid inside 09:00-17:00 ends with 16:10. Starts before notBefore are skipped.
// available must be coalesced; output is ascending with no duplicates.
func AvailableSlots(available []interval.Interval, duration, step time.Duration, notBefore time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if duration <= 0 || step <= 0 {
			return
		}
		var last time.Time
		emit := func(t time.Time) bool {
			if t.Before(notBefore) {
				return true
			}
			if !last.IsZero() && !t.After(last) {
				return true
			}
			last = t
			return yield(t)
		}

		for _, win := range available {
			latest := win.End.Add(-duration)
			if latest.Before(win.Start) {
				continue
			}
			t := win.Start
			for ; !t.After(latest); t = t.Add(step) {
				if !emit(t) {
					return
				}
			}
			if !emit(latest) {
				return
			}
		}
	}
}
