package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

type BookingHandler struct {
	orchestrator *booking.Orchestrator
	logger       *slog.Logger
	now          func() time.Time
	window       time.Duration
}

// NewBookingHandler serves bookings and commitment lifecycle changes. window bounds learner
// listings that name no end.
func NewBookingHandler(o *booking.Orchestrator, logger *slog.Logger, window time.Duration) *BookingHandler {
	if window <= 0 {
		window = 62 * 24 * time.Hour
	}
	return &BookingHandler{orchestrator: o, logger: logger, now: time.Now, window: window}
}

type createBookingRequest struct {
	MentorID        string `json:"mentor_id"`
	LearnerID       string `json:"learner_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Frequency       string `json:"frequency"`
	Weeks           int    `json:"weeks"`
	AnchorsMinutes  []int  `json:"anchors_minutes"`
}

type createBookingResponse struct {
	Status            string           `json:"status"`
	RecurrenceGroupID string           `json:"recurrence_group_id,omitempty"`
	Occurrences       []commitmentItem `json:"occurrences"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
	Scope  string `json:"scope"`
}

const (
	scopeSingle = "single"
	scopeGroup  = "group"
)

// Create serves POST /api/v1/bookings. learner_id falls back to the caller's X-User-Id.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createBookingRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if strings.TrimSpace(body.LearnerID) == "" {
		body.LearnerID = r.Header.Get(HeaderUserID)
	}
	start, err := parseInstant("start_time", body.StartTime)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	freq, err := model.ParseFrequency(body.Frequency)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req := model.BookingRequest{
		MentorID:        body.MentorID,
		LearnerID:       body.LearnerID,
		Start:           start,
		DurationMinutes: body.DurationMinutes,
		Frequency:       freq,
		Weeks:           body.Weeks,
	}
	for _, m := range body.AnchorsMinutes {
		req.Anchors = append(req.Anchors, time.Duration(m)*time.Minute)
	}

	conf, err := h.orchestrator.Book(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBookingResponse{
		Status:            booking.StateCommitted,
		RecurrenceGroupID: conf.RecurrenceGroupID,
		Occurrences:       toCommitmentItems(conf.Commitments),
	})
}

// Cancel serves POST /api/v1/commitments/{id}/cancel. Scope "group" cancels every
// occurrence of the recurrence group that has not started yet.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	var body cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}
	reason := strings.TrimSpace(body.Reason)

	switch strings.ToLower(strings.TrimSpace(body.Scope)) {
	case "", scopeSingle:
		c, err := h.orchestrator.Cancel(r.Context(), id, reason)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, []commitmentItem{toCommitmentItem(c)})
	case scopeGroup:
		cancelled, err := h.orchestrator.CancelGroup(r.Context(), id, reason)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toCommitmentItems(cancelled))
	default:
		writeError(w, r, h.logger, errs.Invalid("scope", `must be "single" or "group"`))
	}
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	c, err := h.orchestrator.Confirm(r.Context(), strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitmentItem(c))
}

func (h *BookingHandler) ListLearner(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := optionalInstant("from", q.Get("from"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if from.IsZero() {
		from = h.now().UTC()
	}
	to, err := optionalInstant("to", q.Get("to"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if to.IsZero() {
		to = from.Add(h.window)
	}

	list, err := h.orchestrator.LearnerCommitments(r.Context(), r.PathValue("learnerID"), from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitmentItems(list))
}
