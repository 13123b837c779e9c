package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/md-rashed-zaman/mentorslots/libs/kafkax"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

func weeklyPair() []model.Commitment {
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	mk := func(i int) model.Commitment {
		s := start.AddDate(0, 0, 7*i)
		return model.Commitment{
			ID: "c" + string(rune('0'+i)), MentorID: "m1", LearnerID: "l1",
			Start: s, End: s.Add(time.Hour), DurationMinutes: 60,
			Status: model.StatusConfirmed, RecurrenceGroupID: "g1",
			Frequency: model.FrequencyWeekly, OccurrenceIndex: i,
		}
	}
	return []model.Commitment{mk(0), mk(1)}
}

func TestBookingCommittedPayload(t *testing.T) {
	at := time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)
	evt, err := BookingCommitted(weeklyPair(), at)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if evt.EventType != EventBookingCommitted {
		t.Fatalf("unexpected type %q", evt.EventType)
	}
	if evt.AggregateType != "recurrence_group" || evt.AggregateID != "g1" {
		t.Fatalf("group bookings are keyed by group, got %s/%s", evt.AggregateType, evt.AggregateID)
	}

	var p bookingPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.MentorID != "m1" || p.Frequency != "WEEKLY" || len(p.Occurrences) != 2 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.Occurrences[1].StartTime != "2026-01-12T09:00:00Z" || p.Occurrences[1].OccurrenceIndex != 1 {
		t.Fatalf("unexpected second occurrence: %+v", p.Occurrences[1])
	}
	if p.OccurredAt != "2026-01-02T08:00:00Z" {
		t.Fatalf("unexpected occurred_at %q", p.OccurredAt)
	}
}

func TestSingleCommitmentEventKeyedByCommitment(t *testing.T) {
	c := weeklyPair()[0]
	evt, err := CommitmentCancelled([]model.Commitment{c}, "sick", time.Now())
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if evt.AggregateType != "commitment" || evt.AggregateID != c.ID {
		t.Fatalf("unexpected aggregate %s/%s", evt.AggregateType, evt.AggregateID)
	}
	var p bookingPayload
	_ = json.Unmarshal(evt.Payload, &p)
	if p.CancelReason != "sick" {
		t.Fatalf("expected cancel reason, got %q", p.CancelReason)
	}
}

func TestEmptyEventRejected(t *testing.T) {
	if _, err := BookingCommitted(nil, time.Now()); err == nil {
		t.Fatalf("expected error for empty commitment list")
	}
}

func TestMessageHeaders(t *testing.T) {
	evt, _ := CommitmentConfirmed(weeklyPair()[0], time.Now())
	msg := message(context.Background(), "evt-1", evt)
	if msg.Topic != EventCommitmentConfirmed {
		t.Fatalf("topic must equal event type, got %q", msg.Topic)
	}
	if string(msg.Key) != "c0" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) != "evt-1" {
		t.Fatalf("missing event_id header")
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderAggregateType) != "commitment" {
		t.Fatalf("missing aggregate_type header")
	}
}

func TestMemorySink(t *testing.T) {
	var sink MemorySink
	evt, _ := CommitmentConfirmed(weeklyPair()[0], time.Now())
	_ = sink.Publish(context.Background(), evt)
	got := sink.Events()
	if len(got) != 1 || got[0].EventType != EventCommitmentConfirmed {
		t.Fatalf("unexpected events: %+v", got)
	}
}
