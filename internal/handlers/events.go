package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/yogi2103/zulip/internal/api/middleware"
	"github.com/yogi2103/zulip/internal/models"
)

const maxEventWait = 10 * time.Second

// EventsResponse carries queued events for the authenticated user.
type EventsResponse struct {
	result
	Events []models.QueuedEvent `json:"events"`
}

// GetEvents drains up to limit queued events for the authenticated user.
// With wait=<seconds> it long-polls until an event arrives.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}

	var wait time.Duration
	if s, err := strconv.Atoi(r.URL.Query().Get("wait")); err == nil && s > 0 {
		wait = min(time.Duration(s)*time.Second, maxEventWait)
	}

	events, err := h.events.PopEvents(r.Context(), user.ID, limit)
	if err != nil {
		h.ServerError(w, r, err, "pop events")
		return
	}

	if len(events) == 0 && wait > 0 {
		if err := h.events.WaitForEvents(r.Context(), user.ID, wait); err != nil {
			// Client went away
			return
		}
		events, err = h.events.PopEvents(r.Context(), user.ID, limit)
		if err != nil {
			h.ServerError(w, r, err, "pop events")
			return
		}
	}

	if events == nil {
		events = []models.QueuedEvent{}
	}

	h.JSON(w, http.StatusOK, EventsResponse{result: success(), Events: events})
}
