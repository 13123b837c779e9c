package availability

import (
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

// Project materializes a mentor's weekly rules into UTC intervals clipped to [from, to).
//
// Every local calendar date touching the window is visited, so a rule on a local date that
// straddles a UTC date boundary is still found. Start and end wall-clock times are converted
// independently with the offset in effect at each, which makes intervals crossing a DST change
// an hour shorter or longer in UTC.
func Project(s model.Schedule, from, to time.Time) ([]interval.Interval, error) {
	if !to.After(from) || len(s.Rules) == 0 {
		return nil, nil
	}
	loc, err := s.Location()
	if err != nil {
		return nil, err
	}

	byDay := make(map[time.Weekday][]model.WeeklyRule, 7)
	for _, r := range s.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		byDay[time.Weekday(r.Weekday)] = append(byDay[time.Weekday(r.Weekday)], r)
	}

	first := from.In(loc)
	last := to.In(loc)
	// Noon always exists on the local clock; midnight does not in every zone.
	day := time.Date(first.Year(), first.Month(), first.Day()-1, 12, 0, 0, 0, loc)
	stop := time.Date(last.Year(), last.Month(), last.Day()+1, 12, 0, 0, 0, loc)

	var out []interval.Interval
	for ; !day.After(stop); day = time.Date(day.Year(), day.Month(), day.Day()+1, 12, 0, 0, 0, loc) {
		for _, r := range byDay[day.Weekday()] {
			start := wallClock(day, r.StartMinute, loc).UTC()
			end := wallClock(day, r.EndMinute, loc).UTC()
			if !end.After(start) {
				continue
			}
			out = append(out, interval.Interval{Start: start, End: end})
		}
	}

	window := []interval.Interval{{Start: from.UTC(), End: to.UTC()}}
	return interval.Intersect(interval.Coalesce(out), window), nil
}

func wallClock(day time.Time, minute int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, loc)
}
