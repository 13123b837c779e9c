package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

// ScheduleStore is the weekly rule store plus the exception store.
type ScheduleStore interface {
	GetSchedule(ctx context.Context, mentorID string) (model.Schedule, bool, error)
	ReplaceRules(ctx context.Context, mentorID, timezone string, rules []model.WeeklyRule) error
	CreateBlock(ctx context.Context, b model.TimeBlock) (string, error)
	DeleteBlock(ctx context.Context, blockID string) error
	ListBlocks(ctx context.Context, mentorID string, from, to time.Time) ([]model.TimeBlock, error)
}

type ScheduleHandler struct {
	store  ScheduleStore
	logger *slog.Logger
	now    func() time.Time
	window time.Duration
}

// NewScheduleHandler serves schedules and time blocks. window bounds block listings
// that name no end.
func NewScheduleHandler(store ScheduleStore, logger *slog.Logger, window time.Duration) *ScheduleHandler {
	if window <= 0 {
		window = 62 * 24 * time.Hour
	}
	return &ScheduleHandler{store: store, logger: logger, now: time.Now, window: window}
}

type ruleItem struct {
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type scheduleBody struct {
	MentorID string     `json:"mentor_id,omitempty"`
	Timezone string     `json:"timezone"`
	Rules    []ruleItem `json:"rules"`
}

type blockBody struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

type blockItem struct {
	ID        string `json:"id"`
	MentorID  string `json:"mentor_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
}

func mentorID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.PathValue("mentorID"))
	if id == "" {
		return "", errs.Invalid("mentor_id", "is required")
	}
	return id, nil
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := mentorID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sch, found, err := h.store.GetSchedule(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !found {
		writeError(w, r, h.logger, errs.NotFound("schedule", id))
		return
	}
	resp := scheduleBody{MentorID: id, Timezone: sch.Timezone, Rules: make([]ruleItem, 0, len(sch.Rules))}
	if resp.Timezone == "" {
		resp.Timezone = "UTC"
	}
	for _, rule := range sch.Rules {
		resp.Rules = append(resp.Rules, ruleItem{
			Weekday:   rule.Weekday,
			StartTime: formatClock(rule.StartMinute),
			EndTime:   formatClock(rule.EndMinute),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Put replaces the mentor's timezone and all weekly rules.
func (h *ScheduleHandler) Put(w http.ResponseWriter, r *http.Request) {
	id, err := mentorID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var body scheduleBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sch := model.Schedule{MentorID: id, Timezone: strings.TrimSpace(body.Timezone)}
	if sch.Timezone == "" {
		sch.Timezone = "UTC"
	}
	for _, item := range body.Rules {
		start, err := parseClock("start_time", item.StartTime)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		end, err := parseClock("end_time", item.EndTime)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		sch.Rules = append(sch.Rules, model.WeeklyRule{MentorID: id, Weekday: item.Weekday, StartMinute: start, EndMinute: end})
	}
	if err := sch.Validate(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.store.ReplaceRules(r.Context(), id, sch.Timezone, sch.Rules); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("schedule replaced", "mentor_id", id, "timezone", sch.Timezone, "rules", len(sch.Rules))
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScheduleHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	id, err := mentorID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var body blockBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	start, err := parseInstant("start_time", body.StartTime)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	end, err := parseInstant("end_time", body.EndTime)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if _, err := interval.New(start, end); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	blockID, err := h.store.CreateBlock(r.Context(), model.TimeBlock{
		MentorID: id,
		Start:    start,
		End:      end,
		Reason:   strings.TrimSpace(body.Reason),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("time block created", "mentor_id", id, "block_id", blockID)
	writeJSON(w, http.StatusCreated, map[string]string{"id": blockID})
}

func (h *ScheduleHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	id, err := mentorID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
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
	if !to.After(from) {
		writeError(w, r, h.logger, errs.Invalid("to", "must be after from"))
		return
	}

	blocks, err := h.store.ListBlocks(r.Context(), id, from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]blockItem, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, blockItem{
			ID:        b.ID,
			MentorID:  b.MentorID,
			StartTime: formatInstant(b.Start),
			EndTime:   formatInstant(b.End),
			Reason:    b.Reason,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ScheduleHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	blockID := strings.TrimSpace(r.PathValue("blockID"))
	if blockID == "" {
		writeError(w, r, h.logger, errs.Invalid("block_id", "is required"))
		return
	}
	if err := h.store.DeleteBlock(r.Context(), blockID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("time block deleted", "block_id", blockID)
	w.WriteHeader(http.StatusNoContent)
}
