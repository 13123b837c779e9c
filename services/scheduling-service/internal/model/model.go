package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/interval"
)

const MinutesPerDay = 24 * 60

// WeeklyRule is a recurring availability window on the mentor's local wall clock.
// Weekday follows time.Weekday (0 = Sunday). EndMinute may be 1440 (local midnight).
type WeeklyRule struct {
	MentorID    string
	Weekday     int
	StartMinute int
	EndMinute   int
}

func (r WeeklyRule) Validate() error {
	if r.Weekday < 0 || r.Weekday > 6 {
		return errs.Invalid("weekday", "must be between 0 and 6")
	}
	if r.StartMinute < 0 || r.StartMinute >= MinutesPerDay {
		return errs.Invalid("start_time", "must be within the day")
	}
	if r.EndMinute <= 0 || r.EndMinute > MinutesPerDay {
		return errs.Invalid("end_time", "must be within the day")
	}
	if r.StartMinute >= r.EndMinute {
		return errs.Invalid("end_time", "must be after start_time")
	}
	return nil
}

// Schedule is everything the projection needs for one mentor.
type Schedule struct {
	MentorID string
	Timezone string
	Rules    []WeeklyRule
}

func (s Schedule) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errs.Invalid("timezone", fmt.Sprintf("unknown zone %q", tz))
	}
	return loc, nil
}

// Validate checks the timezone and every rule.
func (s Schedule) Validate() error {
	if _, err := s.Location(); err != nil {
		return err
	}
	for _, r := range s.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type TimeBlock struct {
	ID        string
	MentorID  string
	Start     time.Time
	End       time.Time
	Reason    string
	CreatedAt time.Time
}

func (b TimeBlock) Interval() interval.Interval {
	return interval.Interval{Start: b.Start, End: b.End}
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// Occupies reports whether a commitment in this status blocks its interval.
func (s Status) Occupies() bool {
	return s == StatusPending || s == StatusConfirmed
}

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return s, nil
	default:
		return "", errs.Invalid("status", fmt.Sprintf("unknown status %q", raw))
	}
}

type Frequency string

const (
	FrequencyOnce         Frequency = "ONCE"
	FrequencyWeekly       Frequency = "WEEKLY"
	FrequencyTwiceWeekly  Frequency = "TWICE_WEEKLY"
	FrequencyThriceWeekly Frequency = "THRICE_WEEKLY"
)

// PerWeek is the number of occurrences the frequency produces in each week.
func (f Frequency) PerWeek() int {
	switch f {
	case FrequencyTwiceWeekly:
		return 2
	case FrequencyThriceWeekly:
		return 3
	default:
		return 1
	}
}

func ParseFrequency(raw string) (Frequency, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return FrequencyOnce, nil
	}
	switch f := Frequency(raw); f {
	case FrequencyOnce, FrequencyWeekly, FrequencyTwiceWeekly, FrequencyThriceWeekly:
		return f, nil
	default:
		return "", errs.Invalid("frequency", fmt.Sprintf("unknown frequency %q", raw))
	}
}

type Commitment struct {
	ID                string
	MentorID          string
	LearnerID         string
	Start             time.Time
	End               time.Time
	DurationMinutes   int
	Status            Status
	RecurrenceGroupID string
	Frequency         Frequency
	OccurrenceIndex   int
	CreatedAt         time.Time
	CancelledAt       *time.Time
	CancelReason      string
}

func (c Commitment) Interval() interval.Interval {
	return interval.Interval{Start: c.Start, End: c.End}
}
