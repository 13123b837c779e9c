package handlers

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/metrics"
)

const defaultStepMinutes = 30

type SlotSource interface {
	Slots(ctx context.Context, q availability.Query) (iter.Seq[time.Time], error)
}

type SlotsHandler struct {
	slots   SlotSource
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewSlotsHandler(slots SlotSource, m *metrics.Metrics, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{slots: slots, metrics: m, logger: logger, now: time.Now}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// List serves GET /api/v1/mentors/{mentorID}/slots. from defaults to now and step to 30 minutes.
func (h *SlotsHandler) List(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	id, err := mentorID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	q := r.URL.Query()
	query := availability.Query{MentorID: id}
	if query.From, err = optionalInstant("from", q.Get("from")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if query.From.IsZero() {
		query.From = h.now().UTC().Truncate(time.Minute)
	}
	if query.To, err = optionalInstant("to", q.Get("to")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if query.DurationMinutes, err = intParam("duration_minutes", q.Get("duration_minutes"), 0); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if query.StepMinutes, err = intParam("step_minutes", q.Get("step_minutes"), defaultStepMinutes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	seq, err := h.slots.Slots(r.Context(), query)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	duration := time.Duration(query.DurationMinutes) * time.Minute
	out := []slotItem{}
	for start := range seq {
		out = append(out, slotItem{StartTime: formatInstant(start), EndTime: formatInstant(start.Add(duration))})
	}
	h.metrics.ObserveSlotQuery(time.Since(started), len(out))
	writeJSON(w, http.StatusOK, out)
}
