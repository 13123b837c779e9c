package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mentorslots/libs/httpx"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

// HeaderUserID carries the caller identity set by the gateway.
const HeaderUserID = "X-User-Id"

type errorResponse struct {
	Status    string         `json:"status,omitempty"`
	Error     string         `json:"error"`
	Conflicts []conflictItem `json:"conflicts,omitempty"`
}

type conflictItem struct {
	Index     int    `json:"index"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		validation *errs.ValidationError
		conflict   *errs.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Error()})
	case errors.As(err, &conflict):
		resp := errorResponse{Status: "REJECTED", Error: errs.ErrConflict.Error()}
		for _, c := range conflict.Conflicts {
			resp.Conflicts = append(resp.Conflicts, conflictItem{
				Index:     c.Index,
				StartTime: formatInstant(c.Start),
				EndTime:   formatInstant(c.End),
				Reason:    c.Reason,
			})
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, errs.ErrConcurrency):
		writeJSON(w, http.StatusConflict, errorResponse{Status: "REJECTED", Error: errs.ErrConcurrency.Error()})
	case errors.Is(err, errs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, errs.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Invalid("", "invalid json body")
	}
	return nil
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseInstant(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, errs.Invalid(field, "must be an RFC 3339 instant")
	}
	return t.UTC(), nil
}

// optionalInstant returns the zero time when raw is blank.
func optionalInstant(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return parseInstant(field, raw)
}

func intParam(field, raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Invalid(field, "must be an integer")
	}
	return n, nil
}

// parseClock reads "HH:MM" as minutes from local midnight. "24:00" is accepted.
func parseClock(field, raw string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || len(h) != 2 || len(m) != 2 {
		return 0, errs.Invalid(field, "must be HH:MM")
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || hh > 24 || mm < 0 || mm > 59 || (hh == 24 && mm != 0) {
		return 0, errs.Invalid(field, "must be HH:MM")
	}
	return hh*60 + mm, nil
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

type commitmentItem struct {
	ID                string `json:"id"`
	MentorID          string `json:"mentor_id"`
	LearnerID         string `json:"learner_id"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	DurationMinutes   int    `json:"duration_minutes"`
	Status            string `json:"status"`
	Frequency         string `json:"frequency"`
	RecurrenceGroupID string `json:"recurrence_group_id,omitempty"`
	OccurrenceIndex   int    `json:"occurrence_index"`
	CreatedAt         string `json:"created_at,omitempty"`
	CancelledAt       string `json:"cancelled_at,omitempty"`
	CancelReason      string `json:"cancel_reason,omitempty"`
}

func toCommitmentItem(c model.Commitment) commitmentItem {
	item := commitmentItem{
		ID:                c.ID,
		MentorID:          c.MentorID,
		LearnerID:         c.LearnerID,
		StartTime:         formatInstant(c.Start),
		EndTime:           formatInstant(c.End),
		DurationMinutes:   c.DurationMinutes,
		Status:            string(c.Status),
		Frequency:         string(c.Frequency),
		RecurrenceGroupID: c.RecurrenceGroupID,
		OccurrenceIndex:   c.OccurrenceIndex,
		CancelReason:      c.CancelReason,
	}
	if !c.CreatedAt.IsZero() {
		item.CreatedAt = formatInstant(c.CreatedAt)
	}
	if c.CancelledAt != nil {
		item.CancelledAt = formatInstant(*c.CancelledAt)
	}
	return item
}

func toCommitmentItems(in []model.Commitment) []commitmentItem {
	out := make([]commitmentItem, 0, len(in))
	for _, c := range in {
		out = append(out, toCommitmentItem(c))
	}
	return out
}
