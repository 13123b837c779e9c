// Package booking validates and commits booking requests against live availability.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/ledger"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/lock"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/outbox"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Lifecycle states of one booking request, as logged.
const (
	StateRequested = "REQUESTED"
	StateValidated = "VALIDATED"
	StateCommitted = "COMMITTED"
	StateRejected  = "REJECTED"
)

const maxAttempts = 2

type Config struct {
	DefaultWeeks  int
	InitialStatus model.Status
}

// Confirmation describes a committed booking.
type Confirmation struct {
	RecurrenceGroupID string
	Commitments       []model.Commitment
}

type Orchestrator struct {
	schedules availability.ScheduleReader
	blocks    availability.BlockReader
	ledger    ledger.Ledger
	locker    lock.Locker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	cfg       Config
}

func NewOrchestrator(schedules availability.ScheduleReader, blocks availability.BlockReader, l ledger.Ledger, locker lock.Locker, m *metrics.Metrics, logger *slog.Logger, now func() time.Time, cfg Config) *Orchestrator {
	if locker == nil {
		locker = lock.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if cfg.DefaultWeeks <= 0 {
		cfg.DefaultWeeks = 4
	}
	if cfg.InitialStatus == "" {
		cfg.InitialStatus = model.StatusConfirmed
	}
	return &Orchestrator{
		schedules: schedules,
		blocks:    blocks,
		ledger:    l,
		locker:    locker,
		metrics:   m,
		logger:    logger,
		now:       now,
		cfg:       cfg,
	}
}

// Book commits every occurrence of req or none of them. A request that fails
// availability checks returns *errs.ConflictError naming each failed occurrence.
// Concurrency failures are retried once before being returned.
func (o *Orchestrator) Book(ctx context.Context, req model.BookingRequest) (Confirmation, error) {
	req.Normalize(o.cfg.DefaultWeeks)
	log := o.logger.With("mentor_id", req.MentorID, "learner_id", req.LearnerID, "frequency", string(req.Frequency))
	log.Info("booking state", "state", StateRequested, "start_time", req.Start, "weeks", req.Weeks)

	ctx, span := otel.Tracer("booking").Start(ctx, "booking.book", trace.WithAttributes(
		attribute.String("mentor.id", req.MentorID),
		attribute.String("booking.frequency", string(req.Frequency)),
		attribute.Int("booking.weeks", req.Weeks),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		o.reject(log, span, metrics.OutcomeInvalid, req, err)
		return Confirmation{}, err
	}

	var (
		conf Confirmation
		err  error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conf, err = o.attempt(ctx, log, req)
		if !errors.Is(err, errs.ErrConcurrency) || attempt == maxAttempts {
			break
		}
		o.metrics.ObserveRetry()
		log.Warn("booking attempt lost a race; retrying", "attempt", attempt, "err", err)
	}

	var conflict *errs.ConflictError
	switch {
	case err == nil:
		o.metrics.ObserveBooking(metrics.OutcomeCommitted, string(req.Frequency))
		span.SetAttributes(attribute.Int("booking.occurrences", len(conf.Commitments)))
		log.Info("booking state", "state", StateCommitted,
			"recurrence_group_id", conf.RecurrenceGroupID, "occurrences", len(conf.Commitments))
		return conf, nil
	case errors.As(err, &conflict):
		for _, c := range conflict.Conflicts {
			o.metrics.ObserveConflict(c.Reason)
		}
		o.reject(log, span, metrics.OutcomeRejected, req, err, "conflict_indexes", conflict.Indexes())
	case errors.Is(err, errs.ErrConcurrency):
		o.reject(log, span, metrics.OutcomeConcurrency, req, err)
		return Confirmation{}, errs.ErrConcurrency
	case errors.Is(err, errs.ErrValidation):
		o.reject(log, span, metrics.OutcomeInvalid, req, err)
	default:
		o.reject(log, span, metrics.OutcomeError, req, err)
	}
	return Confirmation{}, err
}

func (o *Orchestrator) reject(log *slog.Logger, span trace.Span, outcome string, req model.BookingRequest, err error, attrs ...any) {
	o.metrics.ObserveBooking(outcome, string(req.Frequency))
	span.SetStatus(codes.Error, outcome)
	log.Info("booking state", append([]any{"state", StateRejected, "outcome", outcome, "err", err}, attrs...)...)
}

func (o *Orchestrator) attempt(ctx context.Context, log *slog.Logger, req model.BookingRequest) (Confirmation, error) {
	release, err := o.acquire(ctx, req.MentorID)
	if err != nil {
		return Confirmation{}, err
	}
	defer release()

	var conf Confirmation
	err = o.ledger.Atomically(ctx, req.MentorID, func(ctx context.Context, tx ledger.Tx) error {
		schedule, _, err := o.schedules.GetSchedule(ctx, req.MentorID)
		if err != nil {
			return err
		}
		schedule.MentorID = req.MentorID
		loc, err := schedule.Location()
		if err != nil {
			return err
		}

		occs := Expand(req, loc)
		if err := checkSelfOverlap(occs); err != nil {
			return err
		}
		span, _ := interval.Span(occs)

		blocks, err := o.blocks.ListBlocks(ctx, req.MentorID, span.Start, span.End)
		if err != nil {
			return err
		}
		busy, err := tx.ListBusy(ctx, req.MentorID, span.Start, span.End)
		if err != nil {
			return err
		}
		snap, err := availability.NewSnapshot(schedule, blocks, busy, span.Start, span.End)
		if err != nil {
			return err
		}

		now := o.now().UTC()
		var conflicts []errs.Conflict
		for i, occ := range occs {
			if reason := snap.Check(occ, now); reason != "" {
				conflicts = append(conflicts, errs.Conflict{Index: i, Start: occ.Start, End: occ.End, Reason: reason})
			}
		}
		if len(conflicts) > 0 {
			return &errs.ConflictError{Conflicts: conflicts}
		}
		log.Debug("booking state", "state", StateValidated, "occurrences", len(occs))

		groupID := ""
		if req.Frequency != model.FrequencyOnce {
			groupID = uuid.NewString()
		}
		commitments := make([]model.Commitment, 0, len(occs))
		for i, occ := range occs {
			commitments = append(commitments, model.Commitment{
				ID:                uuid.NewString(),
				MentorID:          req.MentorID,
				LearnerID:         req.LearnerID,
				Start:             occ.Start,
				End:               occ.End,
				DurationMinutes:   req.DurationMinutes,
				Status:            o.cfg.InitialStatus,
				RecurrenceGroupID: groupID,
				Frequency:         req.Frequency,
				OccurrenceIndex:   i,
				CreatedAt:         now,
			})
		}
		if err := tx.Insert(ctx, commitments); err != nil {
			return err
		}
		evt, err := outbox.BookingCommitted(commitments, now)
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, evt); err != nil {
			return err
		}

		conf = Confirmation{RecurrenceGroupID: groupID, Commitments: commitments}
		return nil
	})
	if err != nil {
		return Confirmation{}, err
	}
	return conf, nil
}

func (o *Orchestrator) acquire(ctx context.Context, mentorID string) (func(), error) {
	start := time.Now()
	release, err := o.locker.Acquire(ctx, "mentor:"+mentorID)
	o.metrics.ObserveLockWait(time.Since(start))
	return release, err
}
