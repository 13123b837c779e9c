package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

// Event is the domain event envelope written to the outbox.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventBookingCommitted    = "scheduling.booking.committed.v1"
	EventCommitmentCancelled = "scheduling.commitment.cancelled.v1"
	EventCommitmentConfirmed = "scheduling.commitment.confirmed.v1"
	aggregateCommitment      = "commitment"
	aggregateRecurrenceGroup = "recurrence_group"
)

var errEmptyEvent = errors.New("outbox event needs at least one commitment")

type occurrencePayload struct {
	CommitmentID    string `json:"commitment_id"`
	OccurrenceIndex int    `json:"occurrence_index"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Status          string `json:"status"`
}

type bookingPayload struct {
	RecurrenceGroupID string              `json:"recurrence_group_id,omitempty"`
	MentorID          string              `json:"mentor_id"`
	LearnerID         string              `json:"learner_id"`
	Frequency         string              `json:"frequency"`
	DurationMinutes   int                 `json:"duration_minutes"`
	Occurrences       []occurrencePayload `json:"occurrences"`
	CancelReason      string              `json:"cancel_reason,omitempty"`
	OccurredAt        string              `json:"occurred_at"`
}

// BookingCommitted builds the notification handed off after a booking commits.
// All commitments must belong to one request.
func BookingCommitted(commitments []model.Commitment, at time.Time) (Event, error) {
	return commitmentEvent(EventBookingCommitted, commitments, "", at)
}

func CommitmentCancelled(commitments []model.Commitment, reason string, at time.Time) (Event, error) {
	return commitmentEvent(EventCommitmentCancelled, commitments, reason, at)
}

func CommitmentConfirmed(c model.Commitment, at time.Time) (Event, error) {
	return commitmentEvent(EventCommitmentConfirmed, []model.Commitment{c}, "", at)
}

func commitmentEvent(eventType string, commitments []model.Commitment, reason string, at time.Time) (Event, error) {
	if len(commitments) == 0 {
		return Event{}, errEmptyEvent
	}
	first := commitments[0]
	p := bookingPayload{
		RecurrenceGroupID: first.RecurrenceGroupID,
		MentorID:          first.MentorID,
		LearnerID:         first.LearnerID,
		Frequency:         string(first.Frequency),
		DurationMinutes:   first.DurationMinutes,
		CancelReason:      reason,
		OccurredAt:        at.UTC().Format(time.RFC3339),
	}
	for _, c := range commitments {
		p.Occurrences = append(p.Occurrences, occurrencePayload{
			CommitmentID:    c.ID,
			OccurrenceIndex: c.OccurrenceIndex,
			StartTime:       c.Start.UTC().Format(time.RFC3339),
			EndTime:         c.End.UTC().Format(time.RFC3339),
			Status:          string(c.Status),
		})
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}

	evt := Event{
		AggregateType: aggregateCommitment,
		AggregateID:   first.ID,
		EventType:     eventType,
		Payload:       body,
	}
	if len(commitments) > 1 && first.RecurrenceGroupID != "" {
		evt.AggregateType = aggregateRecurrenceGroup
		evt.AggregateID = first.RecurrenceGroupID
	}
	return evt, nil
}
