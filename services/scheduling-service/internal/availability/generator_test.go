package availability_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/ledger"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/storage/memory"
)

var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New(nil, nil)
	if err := store.ReplaceRules(context.Background(), "m1", "UTC", []model.WeeklyRule{
		{Weekday: 1, StartMinute: 9 * 60, EndMinute: 17 * 60},
	}); err != nil {
		t.Fatalf("seed rules: %v", err)
	}
	return store
}

func newGenerator(store *memory.Store) *availability.Generator {
	now := func() time.Time { return monday.AddDate(0, 0, -1) }
	return availability.NewGenerator(store, store, store, now, availability.Config{})
}

func mondaySlots(t *testing.T, g *availability.Generator) []time.Time {
	t.Helper()
	seq, err := g.Slots(context.Background(), availability.Query{
		MentorID:        "m1",
		From:            monday,
		To:              monday.AddDate(0, 0, 1),
		DurationMinutes: 50,
		StepMinutes:     30,
	})
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	return slices.Collect(seq)
}

func TestSlots_FullMonday(t *testing.T) {
	slots := mondaySlots(t, newGenerator(newStore(t)))
	if len(slots) == 0 {
		t.Fatalf("expected slots")
	}
	if !slots[0].Equal(monday.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0])
	}
	if !slots[1].Equal(monday.Add(9*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected second slot 09:30, got %s", slots[1])
	}
	if last := slots[len(slots)-1]; !last.Equal(monday.Add(16*time.Hour + 10*time.Minute)) {
		t.Fatalf("expected last slot 16:10, got %s", last)
	}
}

func TestSlots_BlockedLunch(t *testing.T) {
	store := newStore(t)
	if _, err := store.CreateBlock(context.Background(), model.TimeBlock{
		MentorID: "m1", Start: monday.Add(12 * time.Hour), End: monday.Add(13 * time.Hour),
	}); err != nil {
		t.Fatalf("create block: %v", err)
	}

	slots := mondaySlots(t, newGenerator(store))
	noon, one := monday.Add(12*time.Hour), monday.Add(13*time.Hour)
	resumed := false
	for _, s := range slots {
		if s.Before(one) && s.Add(50*time.Minute).After(noon) {
			t.Fatalf("slot %s overlaps the block", s)
		}
		if s.Equal(one) {
			resumed = true
		}
	}
	if !resumed {
		t.Fatalf("expected slots to resume at 13:00, got %v", slots)
	}
}

func TestSlots_Idempotent(t *testing.T) {
	g := newGenerator(newStore(t))
	first := mondaySlots(t, g)
	second := mondaySlots(t, g)
	if !slices.EqualFunc(first, second, time.Time.Equal) {
		t.Fatalf("repeated queries differ:\n%v\n%v", first, second)
	}
}

func TestSlots_NeverOverlapCommitments(t *testing.T) {
	store := newStore(t)
	booked := interval.Interval{Start: monday.Add(10*time.Hour + 15*time.Minute), End: monday.Add(11*time.Hour + 5*time.Minute)}
	err := store.Atomically(context.Background(), "m1", func(ctx context.Context, tx ledger.Tx) error {
		return tx.Insert(ctx, []model.Commitment{{
			ID: "c1", MentorID: "m1", LearnerID: "l1", Start: booked.Start, End: booked.End,
			DurationMinutes: 50, Status: model.StatusConfirmed, Frequency: model.FrequencyOnce,
		}})
	})
	if err != nil {
		t.Fatalf("seed commitment: %v", err)
	}

	for _, s := range mondaySlots(t, newGenerator(store)) {
		if interval.Overlaps(interval.Interval{Start: s, End: s.Add(50 * time.Minute)}, booked) {
			t.Fatalf("slot %s overlaps commitment", s)
		}
	}
}

func TestSlots_UnknownMentorIsEmpty(t *testing.T) {
	g := newGenerator(newStore(t))
	seq, err := g.Slots(context.Background(), availability.Query{
		MentorID: "nobody", From: monday, DurationMinutes: 30, StepMinutes: 30,
	})
	if err != nil {
		t.Fatalf("unknown mentor should not fail: %v", err)
	}
	if got := slices.Collect(seq); len(got) != 0 {
		t.Fatalf("expected no slots, got %v", got)
	}
}

func TestSlots_QueryValidation(t *testing.T) {
	g := newGenerator(newStore(t))
	cases := []availability.Query{
		{MentorID: "", From: monday, DurationMinutes: 30, StepMinutes: 30},
		{MentorID: "m1", DurationMinutes: 30, StepMinutes: 30},
		{MentorID: "m1", From: monday, To: monday, DurationMinutes: 30, StepMinutes: 30},
		{MentorID: "m1", From: monday, To: monday.AddDate(0, 3, 0), DurationMinutes: 30, StepMinutes: 30},
		{MentorID: "m1", From: monday, DurationMinutes: 0, StepMinutes: 30},
		{MentorID: "m1", From: monday, DurationMinutes: 30, StepMinutes: 1441},
	}
	for i, q := range cases {
		if _, err := g.Slots(context.Background(), q); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestSnapshotCheckReasons(t *testing.T) {
	s := model.Schedule{Rules: []model.WeeklyRule{{Weekday: 1, StartMinute: 540, EndMinute: 1020}}}
	blocks := []model.TimeBlock{{Start: monday.Add(12 * time.Hour), End: monday.Add(13 * time.Hour)}}
	busy := []model.Commitment{{Start: monday.Add(14 * time.Hour), End: monday.Add(15 * time.Hour), Status: model.StatusPending}}
	cancelled := model.Commitment{Start: monday.Add(15 * time.Hour), End: monday.Add(16 * time.Hour), Status: model.StatusCancelled}

	snap, err := availability.NewSnapshot(s, blocks, append(busy, cancelled), monday, monday.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	now := monday.Add(8 * time.Hour)
	hour := func(h int) interval.Interval {
		return interval.Interval{Start: monday.Add(time.Duration(h) * time.Hour), End: monday.Add(time.Duration(h+1) * time.Hour)}
	}

	cases := map[int]string{
		7:  errs.ReasonInPast,
		9:  "",
		12: errs.ReasonBlocked,
		14: errs.ReasonAlreadyBooked,
		15: "",
		17: errs.ReasonOutsideAvailability,
	}
	for h, want := range cases {
		if got := snap.Check(hour(h), now); got != want {
			t.Fatalf("%02d:00: expected %q, got %q", h, want, got)
		}
	}
}
