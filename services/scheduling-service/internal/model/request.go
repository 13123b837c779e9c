package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
)

const (
	week     = 7 * 24 * time.Hour
	MaxWeeks = 52
)

// BookingRequest is the transient input of the booking orchestrator.
// Anchors are per-week offsets from Start, required for multi-weekly frequencies
// and agreed upstream between mentor and learner.
type BookingRequest struct {
	MentorID        string
	LearnerID       string
	Start           time.Time
	DurationMinutes int
	Frequency       Frequency
	Weeks           int
	Anchors         []time.Duration
}

func (r *BookingRequest) Normalize(defaultWeeks int) {
	r.MentorID = strings.TrimSpace(r.MentorID)
	r.LearnerID = strings.TrimSpace(r.LearnerID)
	r.Start = r.Start.UTC()
	if r.Frequency == "" {
		r.Frequency = FrequencyOnce
	}
	if r.Frequency == FrequencyOnce {
		r.Weeks = 1
	} else if r.Weeks <= 0 {
		r.Weeks = defaultWeeks
	}
	if len(r.Anchors) == 0 && r.Frequency.PerWeek() == 1 {
		r.Anchors = []time.Duration{0}
	}
}

func (r BookingRequest) Validate() error {
	if r.MentorID == "" {
		return errs.Invalid("mentor_id", "is required")
	}
	if r.LearnerID == "" {
		return errs.Invalid("learner_id", "is required")
	}
	if r.Start.IsZero() {
		return errs.Invalid("start_time", "is required")
	}
	if !r.Start.Truncate(time.Minute).Equal(r.Start) {
		return errs.Invalid("start_time", "must be on a whole minute")
	}
	if r.DurationMinutes <= 0 || r.DurationMinutes > MinutesPerDay {
		return errs.Invalid("duration_minutes", "must be between 1 and 1440")
	}
	if r.Weeks <= 0 || r.Weeks > MaxWeeks {
		return errs.Invalid("weeks", "must be between 1 and 52")
	}
	if _, err := ParseFrequency(string(r.Frequency)); err != nil {
		return err
	}

	want := r.Frequency.PerWeek()
	if len(r.Anchors) != want {
		return errs.Invalid("anchors", fmt.Sprintf("frequency %s requires %d anchor(s)", r.Frequency, want))
	}
	if r.Anchors[0] != 0 {
		return errs.Invalid("anchors", "first anchor must be 0")
	}
	for i, a := range r.Anchors {
		if a%time.Minute != 0 {
			return errs.Invalid("anchors", "must be whole minutes")
		}
		if a < 0 || a >= week {
			return errs.Invalid("anchors", "must fall within one week of start_time")
		}
		if i > 0 && a < r.Anchors[i-1]+time.Duration(r.DurationMinutes)*time.Minute {
			return errs.Invalid("anchors", "must be increasing and leave room for each occurrence")
		}
	}
	if last := r.Anchors[len(r.Anchors)-1]; last+time.Duration(r.DurationMinutes)*time.Minute > week {
		return errs.Invalid("anchors", "last occurrence would run into the next week")
	}
	return nil
}
