package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

type ScheduleReader interface {
	GetSchedule(ctx context.Context, mentorID string) (model.Schedule, bool, error)
}

type BlockReader interface {
	ListBlocks(ctx context.Context, mentorID string, from, to time.Time) ([]model.TimeBlock, error)
}

// BusyReader lists PENDING and CONFIRMED commitments overlapping [from, to).
type BusyReader interface {
	ListBusy(ctx context.Context, mentorID string, from, to time.Time) ([]model.Commitment, error)
}

// Snapshot is a mentor's availability over one window at one point in time.
type Snapshot struct {
	From      time.Time
	To        time.Time
	Free      []interval.Interval
	Blocked   []interval.Interval
	Booked    []interval.Interval
	Available []interval.Interval
}

func NewSnapshot(schedule model.Schedule, blocks []model.TimeBlock, busy []model.Commitment, from, to time.Time) (Snapshot, error) {
	free, err := Project(schedule, from, to)
	if err != nil {
		return Snapshot{}, err
	}
	blocked := make([]interval.Interval, 0, len(blocks))
	for _, b := range blocks {
		blocked = append(blocked, b.Interval())
	}
	booked := make([]interval.Interval, 0, len(busy))
	for _, c := range busy {
		if c.Status.Occupies() {
			booked = append(booked, c.Interval())
		}
	}
	blocked = interval.Coalesce(blocked)
	booked = interval.Coalesce(booked)

	return Snapshot{
		From:      from,
		To:        to,
		Free:      free,
		Blocked:   blocked,
		Booked:    booked,
		Available: interval.Subtract(free, append(append([]interval.Interval{}, blocked...), booked...)),
	}, nil
}

// Check returns the reason occ cannot be booked, or "" when it fits inside one available interval.
func (s Snapshot) Check(occ interval.Interval, now time.Time) string {
	if occ.Start.Before(now) {
		return errs.ReasonInPast
	}
	for _, a := range s.Available {
		if interval.Contains(a, occ) {
			return ""
		}
	}
	if interval.OverlapsAny(occ, s.Booked) {
		return errs.ReasonAlreadyBooked
	}
	if interval.OverlapsAny(occ, s.Blocked) {
		return errs.ReasonBlocked
	}
	return errs.ReasonOutsideAvailability
}

// LoadSnapshot reads the three sources for [from, to). busy is passed separately so the
// booking path can read it through its transaction.
func LoadSnapshot(ctx context.Context, schedules ScheduleReader, blocks BlockReader, busy BusyReader, mentorID string, from, to time.Time) (Snapshot, error) {
	schedule, found, err := schedules.GetSchedule(ctx, mentorID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load schedule: %w", err)
	}
	if !found {
		schedule = model.Schedule{MentorID: mentorID}
	}
	blockList, err := blocks.ListBlocks(ctx, mentorID, from, to)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load time blocks: %w", err)
	}
	busyList, err := busy.ListBusy(ctx, mentorID, from, to)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load commitments: %w", err)
	}
	return NewSnapshot(schedule, blockList, busyList, from, to)
}
