package availability

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultWindow = 21 * 24 * time.Hour
	DefaultMax    = 62 * 24 * time.Hour
)

type Config struct {
	DefaultWindow time.Duration
	MaxWindow     time.Duration
}

type Query struct {
	MentorID        string
	From            time.Time
	To              time.Time
	DurationMinutes int
	StepMinutes     int
}

// Generator computes bookable slot starts from live data. Nothing is cached.
type Generator struct {
	schedules ScheduleReader
	blocks    BlockReader
	busy      BusyReader
	now       func() time.Time
	cfg       Config
}

func NewGenerator(schedules ScheduleReader, blocks BlockReader, busy BusyReader, now func() time.Time, cfg Config) *Generator {
	if now == nil {
		now = time.Now
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = DefaultWindow
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = DefaultMax
	}
	return &Generator{schedules: schedules, blocks: blocks, busy: busy, now: now, cfg: cfg}
}

func (g *Generator) normalize(q Query) (Query, error) {
	q.MentorID = strings.TrimSpace(q.MentorID)
	if q.MentorID == "" {
		return q, errs.Invalid("mentor_id", "is required")
	}
	if q.From.IsZero() {
		return q, errs.Invalid("from", "is required")
	}
	q.From = q.From.UTC()
	if q.To.IsZero() {
		q.To = q.From.Add(g.cfg.DefaultWindow)
	}
	q.To = q.To.UTC()
	if !q.To.After(q.From) {
		return q, errs.Invalid("to", "must be after from")
	}
	if q.To.Sub(q.From) > g.cfg.MaxWindow {
		return q, errs.Invalid("to", "window exceeds "+g.cfg.MaxWindow.String())
	}
	if q.DurationMinutes <= 0 || q.DurationMinutes > model.MinutesPerDay {
		return q, errs.Invalid("duration_minutes", "must be between 1 and 1440")
	}
	if q.StepMinutes <= 0 || q.StepMinutes > model.MinutesPerDay {
		return q, errs.Invalid("step_minutes", "must be between 1 and 1440")
	}
	return q, nil
}

// Slots returns the ascending, deduplicated slot starts for q. All I/O happens before Slots
// returns; the sequence itself only walks the computed intervals.
func (g *Generator) Slots(ctx context.Context, q Query) (iter.Seq[time.Time], error) {
	q, err := g.normalize(q)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("availability").Start(ctx, "availability.slots",
		trace.WithAttributes(
			attribute.String("mentor.id", q.MentorID),
			attribute.Int("slot.duration_minutes", q.DurationMinutes),
			attribute.Int("slot.step_minutes", q.StepMinutes),
		),
	)
	defer span.End()

	snap, err := LoadSnapshot(ctx, g.schedules, g.blocks, g.busy, q.MentorID, q.From, q.To)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("availability.intervals", len(snap.Available)))

	notBefore := q.From
	if now := g.now().UTC(); now.After(notBefore) {
		notBefore = now
	}
	return AvailableSlots(
		snap.Available,
		time.Duration(q.DurationMinutes)*time.Minute,
		time.Duration(q.StepMinutes)*time.Minute,
		notBefore,
	), nil
}
