package booking

import (
	"context"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/ledger"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/outbox"
)

// Cancel releases one commitment. Cancelling an already cancelled commitment returns it
// unchanged and emits nothing.
func (o *Orchestrator) Cancel(ctx context.Context, commitmentID, reason string) (model.Commitment, error) {
	out, err := o.changeStatus(ctx, commitmentID, false, func(ctx context.Context, tx ledger.Tx, c model.Commitment, now time.Time) ([]model.Commitment, int, error) {
		if c.Status == model.StatusCancelled {
			return []model.Commitment{c}, 0, nil
		}
		updated, err := tx.SetStatus(ctx, c.ID, model.StatusCancelled, reason, now)
		if err != nil {
			return nil, 0, err
		}
		return []model.Commitment{updated}, 1, o.enqueueCancelled(ctx, tx, []model.Commitment{updated}, reason, now)
	})
	if err != nil {
		return model.Commitment{}, err
	}
	return out[0], nil
}

// CancelGroup cancels every occurrence of commitmentID's recurrence group that has not
// started yet. Past occurrences stay as history. A commitment without a group behaves
// like Cancel.
func (o *Orchestrator) CancelGroup(ctx context.Context, commitmentID, reason string) ([]model.Commitment, error) {
	return o.changeStatus(ctx, commitmentID, true, func(ctx context.Context, tx ledger.Tx, c model.Commitment, now time.Time) ([]model.Commitment, int, error) {
		members := []model.Commitment{c}
		if c.RecurrenceGroupID != "" {
			var err error
			if members, err = tx.ListGroup(ctx, c.RecurrenceGroupID); err != nil {
				return nil, 0, err
			}
		}

		var cancelled []model.Commitment
		for _, m := range members {
			if m.Status == model.StatusCancelled || m.Start.Before(now) {
				continue
			}
			updated, err := tx.SetStatus(ctx, m.ID, model.StatusCancelled, reason, now)
			if err != nil {
				return nil, 0, err
			}
			cancelled = append(cancelled, updated)
		}
		if len(cancelled) == 0 {
			return []model.Commitment{}, 0, nil
		}
		return cancelled, len(cancelled), o.enqueueCancelled(ctx, tx, cancelled, reason, now)
	})
}

// Confirm moves a PENDING commitment to CONFIRMED. Confirming twice is a no-op.
func (o *Orchestrator) Confirm(ctx context.Context, commitmentID string) (model.Commitment, error) {
	out, err := o.changeStatus(ctx, commitmentID, false, func(ctx context.Context, tx ledger.Tx, c model.Commitment, now time.Time) ([]model.Commitment, int, error) {
		switch c.Status {
		case model.StatusConfirmed:
			return []model.Commitment{c}, 0, nil
		case model.StatusCancelled:
			return nil, 0, errs.Invalid("status", "a cancelled commitment cannot be confirmed")
		}
		updated, err := tx.SetStatus(ctx, c.ID, model.StatusConfirmed, "", now)
		if err != nil {
			return nil, 0, err
		}
		evt, err := outbox.CommitmentConfirmed(updated, now)
		if err != nil {
			return nil, 0, err
		}
		return []model.Commitment{updated}, 1, tx.Enqueue(ctx, evt)
	})
	if err != nil {
		return model.Commitment{}, err
	}
	return out[0], nil
}

// LearnerCommitments lists a learner's commitments of every status overlapping [from, to).
func (o *Orchestrator) LearnerCommitments(ctx context.Context, learnerID string, from, to time.Time) ([]model.Commitment, error) {
	learnerID = strings.TrimSpace(learnerID)
	if learnerID == "" {
		return nil, errs.Invalid("learner_id", "is required")
	}
	if !to.After(from) {
		return nil, errs.Invalid("to", "must be after from")
	}
	return o.ledger.ListByLearner(ctx, learnerID, from.UTC(), to.UTC())
}

// statusFunc returns the commitments to report and how many of them it changed.
type statusFunc func(ctx context.Context, tx ledger.Tx, c model.Commitment, now time.Time) ([]model.Commitment, int, error)

// changeStatus resolves the owning mentor, then runs fn under that mentor's lock with the
// commitment re-read inside the transaction.
func (o *Orchestrator) changeStatus(ctx context.Context, commitmentID string, group bool, fn statusFunc) ([]model.Commitment, error) {
	commitmentID = strings.TrimSpace(commitmentID)
	if commitmentID == "" {
		return nil, errs.Invalid("commitment_id", "is required")
	}
	current, err := o.ledger.Get(ctx, commitmentID)
	if err != nil {
		return nil, err
	}

	release, err := o.acquire(ctx, current.MentorID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		out     []model.Commitment
		changed int
	)
	err = o.ledger.Atomically(ctx, current.MentorID, func(ctx context.Context, tx ledger.Tx) error {
		c, err := tx.Get(ctx, commitmentID)
		if err != nil {
			return err
		}
		out, changed, err = fn(ctx, tx, c, o.now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed > 0 {
		o.metrics.ObserveStatusChange(string(out[0].Status), changed)
		o.logger.Info("commitment status changed",
			"commitment_id", commitmentID, "mentor_id", current.MentorID, "group", group,
			"status", string(out[0].Status), "affected", changed)
	}
	return out, nil
}

func (o *Orchestrator) enqueueCancelled(ctx context.Context, tx ledger.Tx, cancelled []model.Commitment, reason string, now time.Time) error {
	evt, err := outbox.CommitmentCancelled(cancelled, reason, now)
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, evt)
}
