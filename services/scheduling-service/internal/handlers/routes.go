package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/mentorslots/libs/httpx"
)

// Register mounts the scheduling API on mux. limit wraps the booking endpoint only; nil disables it.
func Register(mux *http.ServeMux, schedules *ScheduleHandler, slots *SlotsHandler, bookings *BookingHandler, limit httpx.Middleware) {
	create := http.Handler(http.HandlerFunc(bookings.Create))
	if limit != nil {
		create = limit(create)
	}

	mux.HandleFunc("GET /api/v1/mentors/{mentorID}/slots", slots.List)
	mux.HandleFunc("GET /api/v1/mentors/{mentorID}/schedule", schedules.Get)
	mux.HandleFunc("PUT /api/v1/mentors/{mentorID}/schedule", schedules.Put)
	mux.HandleFunc("POST /api/v1/mentors/{mentorID}/blocks", schedules.CreateBlock)
	mux.HandleFunc("GET /api/v1/mentors/{mentorID}/blocks", schedules.ListBlocks)
	mux.HandleFunc("DELETE /api/v1/blocks/{blockID}", schedules.DeleteBlock)
	mux.Handle("POST /api/v1/bookings", create)
	mux.HandleFunc("POST /api/v1/commitments/{id}/cancel", bookings.Cancel)
	mux.HandleFunc("POST /api/v1/commitments/{id}/confirm", bookings.Confirm)
	mux.HandleFunc("GET /api/v1/learners/{learnerID}/commitments", bookings.ListLearner)
}
