package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/ledger"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/lock"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/storage/memory"
)

const mentor = "mentor-1"

// 2026-01-05 is a Monday.
var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	sink  *outbox.MemorySink
	orch  *Orchestrator
	now   time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{sink: &outbox.MemorySink{}, now: monday.Add(-72 * time.Hour)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.store = memory.New(f.sink, logger)

	// Monday and Wednesday, 09:00-17:00 UTC.
	if err := f.store.ReplaceRules(context.Background(), mentor, "UTC", []model.WeeklyRule{
		{Weekday: 1, StartMinute: 9 * 60, EndMinute: 17 * 60},
		{Weekday: 3, StartMinute: 9 * 60, EndMinute: 17 * 60},
	}); err != nil {
		t.Fatalf("seed rules: %v", err)
	}
	f.orch = NewOrchestrator(f.store, f.store, f.store, lock.NewLocal(time.Second), metrics.New(), logger,
		func() time.Time { return f.now }, cfg)
	return f
}

func (f *fixture) events() []outbox.Event {
	f.store.Flush()
	return f.sink.Events()
}

func at(day time.Time, hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func request(learner string, start time.Time, freq model.Frequency, weeks int) model.BookingRequest {
	return model.BookingRequest{
		MentorID:        mentor,
		LearnerID:       learner,
		Start:           start,
		DurationMinutes: 60,
		Frequency:       freq,
		Weeks:           weeks,
	}
}

func (f *fixture) busy(t *testing.T) []model.Commitment {
	t.Helper()
	out, err := f.store.ListBusy(context.Background(), mentor, monday.Add(-30*24*time.Hour), monday.Add(90*24*time.Hour))
	if err != nil {
		t.Fatalf("list busy: %v", err)
	}
	return out
}

func TestBookOnceCommits(t *testing.T) {
	f := newFixture(t, Config{})
	conf, err := f.orch.Book(context.Background(), request("learner-1", at(monday, 10, 0), model.FrequencyOnce, 0))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if len(conf.Commitments) != 1 || conf.RecurrenceGroupID != "" {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	c := conf.Commitments[0]
	if !c.Start.Equal(at(monday, 10, 0)) || !c.End.Equal(at(monday, 11, 0)) || c.Status != model.StatusConfirmed {
		t.Fatalf("unexpected commitment %+v", c)
	}

	events := f.events()
	if len(events) != 1 || events[0].EventType != outbox.EventBookingCommitted || events[0].AggregateID != c.ID {
		t.Fatalf("expected one committed event for %s, got %+v", c.ID, events)
	}
}

func TestBookWeeklyIsAllOrNothing(t *testing.T) {
	f := newFixture(t, Config{})
	week3 := monday.AddDate(0, 0, 14)
	if _, err := f.store.CreateBlock(context.Background(), model.TimeBlock{
		MentorID: mentor, Start: at(week3, 9, 0), End: at(week3, 12, 0), Reason: "conference",
	}); err != nil {
		t.Fatalf("create block: %v", err)
	}

	_, err := f.orch.Book(context.Background(), request("learner-1", at(monday, 10, 0), model.FrequencyWeekly, 4))
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var conflict *errs.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *errs.ConflictError, got %T", err)
	}
	if idx := conflict.Indexes(); len(idx) != 1 || idx[0] != 2 {
		t.Fatalf("expected only occurrence 2 to fail, got %v", idx)
	}
	if conflict.Conflicts[0].Reason != errs.ReasonBlocked || !conflict.Conflicts[0].Start.Equal(at(week3, 10, 0)) {
		t.Fatalf("unexpected conflict %+v", conflict.Conflicts[0])
	}
	if got := f.busy(t); len(got) != 0 {
		t.Fatalf("rejected booking must write nothing, found %d commitments", len(got))
	}
	if len(f.events()) != 0 {
		t.Fatalf("rejected booking must emit nothing")
	}
}

func TestBookWeeklyCommitsGroup(t *testing.T) {
	f := newFixture(t, Config{DefaultWeeks: 3})
	conf, err := f.orch.Book(context.Background(), request("learner-1", at(monday, 10, 0), model.FrequencyWeekly, 0))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if len(conf.Commitments) != 3 || conf.RecurrenceGroupID == "" {
		t.Fatalf("expected 3 occurrences in one group, got %+v", conf)
	}
	for i, c := range conf.Commitments {
		want := at(monday.AddDate(0, 0, 7*i), 10, 0)
		if c.OccurrenceIndex != i || !c.Start.Equal(want) || c.RecurrenceGroupID != conf.RecurrenceGroupID {
			t.Fatalf("occurrence %d: unexpected %+v", i, c)
		}
	}
	events := f.events()
	if len(events) != 1 || events[0].AggregateID != conf.RecurrenceGroupID {
		t.Fatalf("expected one group event, got %+v", events)
	}
}

func TestBookConflictReasons(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	cases := []struct {
		name   string
		start  time.Time
		reason string
	}{
		{"before hours", at(monday, 8, 30), errs.ReasonOutsideAvailability},
		{"runs past close", at(monday, 16, 30), errs.ReasonOutsideAvailability},
		{"closed day", at(monday.AddDate(0, 0, 1), 10, 0), errs.ReasonOutsideAvailability},
		{"in the past", at(monday.AddDate(0, 0, -7), 10, 0), errs.ReasonInPast},
	}
	for _, tc := range cases {
		_, err := f.orch.Book(ctx, request("learner-1", tc.start, model.FrequencyOnce, 0))
		var conflict *errs.ConflictError
		if !errors.As(err, &conflict) || conflict.Conflicts[0].Reason != tc.reason {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.reason, err)
		}
	}

	if _, err := f.orch.Book(ctx, request("learner-1", at(monday, 10, 0), model.FrequencyOnce, 0)); err != nil {
		t.Fatalf("book: %v", err)
	}
	_, err := f.orch.Book(ctx, request("learner-2", at(monday, 10, 30), model.FrequencyOnce, 0))
	var conflict *errs.ConflictError
	if !errors.As(err, &conflict) || conflict.Conflicts[0].Reason != errs.ReasonAlreadyBooked {
		t.Fatalf("expected already_booked, got %v", err)
	}

	// Abutting bookings are fine.
	if _, err := f.orch.Book(ctx, request("learner-2", at(monday, 11, 0), model.FrequencyOnce, 0)); err != nil {
		t.Fatalf("abutting booking should commit: %v", err)
	}
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	twice := request("learner-1", at(monday, 10, 0), model.FrequencyTwiceWeekly, 2)
	if _, err := f.orch.Book(ctx, twice); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("missing anchors: expected validation error, got %v", err)
	}

	noLearner := request("", at(monday, 10, 0), model.FrequencyOnce, 0)
	if _, err := f.orch.Book(ctx, noLearner); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("missing learner: expected validation error, got %v", err)
	}

	bad := request("learner-1", at(monday, 10, 0), model.FrequencyOnce, 0)
	bad.DurationMinutes = 0
	if _, err := f.orch.Book(ctx, bad); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("zero duration: expected validation error, got %v", err)
	}
}

func TestBookTwiceWeeklyWithAnchors(t *testing.T) {
	f := newFixture(t, Config{})
	req := request("learner-1", at(monday, 10, 0), model.FrequencyTwiceWeekly, 2)
	req.Anchors = []time.Duration{0, 48 * time.Hour}

	conf, err := f.orch.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	want := []time.Time{
		at(monday, 10, 0),
		at(monday.AddDate(0, 0, 2), 10, 0),
		at(monday.AddDate(0, 0, 7), 10, 0),
		at(monday.AddDate(0, 0, 9), 10, 0),
	}
	if len(conf.Commitments) != len(want) {
		t.Fatalf("expected %d occurrences, got %d", len(want), len(conf.Commitments))
	}
	for i, c := range conf.Commitments {
		if !c.Start.Equal(want[i]) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, want[i], c.Start)
		}
	}
}

func TestConcurrentBookingsOfOneSlotCommitOnce(t *testing.T) {
	f := newFixture(t, Config{})
	var committed, rejected atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Book(context.Background(), request("learner", at(monday, 10, 0), model.FrequencyOnce, 0))
			switch {
			case err == nil:
				committed.Add(1)
			case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrConcurrency):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if committed.Load() != 1 || rejected.Load() != 19 {
		t.Fatalf("expected 1 commit and 19 rejections, got %d and %d", committed.Load(), rejected.Load())
	}
	if got := f.busy(t); len(got) != 1 {
		t.Fatalf("expected exactly one stored commitment, got %d", len(got))
	}
}

func TestCancelFreesTheSlot(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	conf, err := f.orch.Book(ctx, request("learner-1", at(monday, 10, 0), model.FrequencyOnce, 0))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	id := conf.Commitments[0].ID

	cancelled, err := f.orch.Cancel(ctx, id, "learner sick")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.CancelReason != "learner sick" || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled commitment %+v", cancelled)
	}

	again, err := f.orch.Cancel(ctx, id, "twice")
	if err != nil || again.CancelReason != "learner sick" {
		t.Fatalf("second cancel should be a no-op, got %+v %v", again, err)
	}

	if _, err := f.orch.Book(ctx, request("learner-2", at(monday, 10, 0), model.FrequencyOnce, 0)); err != nil {
		t.Fatalf("slot should be free after cancel: %v", err)
	}

	var types []string
	for _, e := range f.events() {
		types = append(types, e.EventType)
	}
	want := []string{outbox.EventBookingCommitted, outbox.EventCommitmentCancelled, outbox.EventBookingCommitted}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, types)
		}
	}
}

func TestCancelUnknownCommitment(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.orch.Cancel(context.Background(), "missing", ""); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelGroupKeepsPastOccurrences(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	conf, err := f.orch.Book(ctx, request("learner-1", at(monday, 10, 0), model.FrequencyWeekly, 3))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	f.now = at(monday, 12, 0)
	cancelled, err := f.orch.CancelGroup(ctx, conf.Commitments[1].ID, "course ended")
	if err != nil {
		t.Fatalf("cancel group: %v", err)
	}
	if len(cancelled) != 2 {
		t.Fatalf("expected the two future occurrences cancelled, got %d", len(cancelled))
	}

	first, err := f.store.Get(ctx, conf.Commitments[0].ID)
	if err != nil || first.Status != model.StatusConfirmed {
		t.Fatalf("past occurrence must keep its status, got %+v %v", first, err)
	}
	if busy := f.busy(t); len(busy) != 1 {
		t.Fatalf("expected only the past occurrence to stay busy, got %d", len(busy))
	}
}

func TestConfirmPending(t *testing.T) {
	f := newFixture(t, Config{InitialStatus: model.StatusPending})
	ctx := context.Background()

	conf, err := f.orch.Book(ctx, request("learner-1", at(monday, 10, 0), model.FrequencyOnce, 0))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	id := conf.Commitments[0].ID
	if conf.Commitments[0].Status != model.StatusPending {
		t.Fatalf("expected PENDING, got %s", conf.Commitments[0].Status)
	}

	// PENDING already blocks the slot.
	if _, err := f.orch.Book(ctx, request("learner-2", at(monday, 10, 0), model.FrequencyOnce, 0)); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("pending commitment should block, got %v", err)
	}

	confirmed, err := f.orch.Confirm(ctx, id)
	if err != nil || confirmed.Status != model.StatusConfirmed {
		t.Fatalf("confirm: %+v %v", confirmed, err)
	}

	if _, err := f.orch.Cancel(ctx, id, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.orch.Confirm(ctx, id); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("confirming a cancelled commitment should fail validation, got %v", err)
	}
}

func TestLearnerCommitments(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	if _, err := f.orch.Book(ctx, request("learner-1", at(monday, 10, 0), model.FrequencyWeekly, 2)); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.orch.Book(ctx, request("learner-2", at(monday, 14, 0), model.FrequencyOnce, 0)); err != nil {
		t.Fatalf("book: %v", err)
	}

	got, err := f.orch.LearnerCommitments(ctx, "learner-1", monday, monday.AddDate(0, 0, 30))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].OccurrenceIndex != 0 || got[1].OccurrenceIndex != 1 {
		t.Fatalf("unexpected learner commitments %+v", got)
	}

	if _, err := f.orch.LearnerCommitments(ctx, "learner-1", monday, monday); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty window should be rejected, got %v", err)
	}
}

// flakyLedger fails the first failures calls to Atomically with a concurrency error.
type flakyLedger struct {
	ledger.Ledger
	failures int
	calls    atomic.Int32
}

func (l *flakyLedger) Atomically(ctx context.Context, mentorID string, fn ledger.TxFunc) error {
	if int(l.calls.Add(1)) <= l.failures {
		return errs.ErrConcurrency
	}
	return l.Ledger.Atomically(ctx, mentorID, fn)
}

func TestBookRetriesConcurrencyOnce(t *testing.T) {
	f := newFixture(t, Config{})
	flaky := &flakyLedger{Ledger: f.store, failures: 1}
	orch := NewOrchestrator(f.store, f.store, flaky, nil, nil, nil, func() time.Time { return f.now }, Config{})

	if _, err := orch.Book(context.Background(), request("learner-1", at(monday, 10, 0), model.FrequencyOnce, 0)); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if flaky.calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", flaky.calls.Load())
	}
}

func TestBookSurfacesPersistentConcurrency(t *testing.T) {
	f := newFixture(t, Config{})
	flaky := &flakyLedger{Ledger: f.store, failures: 10}
	orch := NewOrchestrator(f.store, f.store, flaky, nil, nil, nil, func() time.Time { return f.now }, Config{})

	_, err := orch.Book(context.Background(), request("learner-1", at(monday, 10, 0), model.FrequencyOnce, 0))
	if !errors.Is(err, errs.ErrConcurrency) || err.Error() != "slot no longer available" {
		t.Fatalf("expected slot no longer available, got %v", err)
	}
	if flaky.calls.Load() != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, flaky.calls.Load())
	}
}

type stalledSink struct {
	release chan struct{}
}

func (s stalledSink) Publish(ctx context.Context, _ outbox.Event) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSlowEventSinkDoesNotBlockOtherSlots(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := stalledSink{release: make(chan struct{})}
	store := memory.New(sink, logger)
	defer store.Close()
	defer close(sink.release)

	if err := store.ReplaceRules(context.Background(), mentor, "UTC", []model.WeeklyRule{
		{Weekday: 1, StartMinute: 9 * 60, EndMinute: 17 * 60},
	}); err != nil {
		t.Fatalf("seed rules: %v", err)
	}
	now := monday.Add(-72 * time.Hour)
	orch := NewOrchestrator(store, store, store, lock.NewLocal(200*time.Millisecond), metrics.New(), logger,
		func() time.Time { return now }, Config{})

	if _, err := orch.Book(context.Background(), request("learner-a", at(monday, 10, 0), model.FrequencyOnce, 1)); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := orch.Book(context.Background(), request("learner-b", at(monday, 14, 0), model.FrequencyOnce, 1)); err != nil {
		t.Fatalf("booking a different free slot while the sink stalls: %v", err)
	}
}
