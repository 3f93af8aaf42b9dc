package handlers

import (
	"net/http"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	result
	TotalUsers       int64 `json:"total_users"`
	TotalMessages    int64 `json:"total_messages"`
	TotalSubmessages int64 `json:"total_submessages"`
}

// Stats returns aggregate counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := h.db.CountUsers(ctx)
	if err != nil {
		h.ServerError(w, r, err, "count users")
		return
	}

	messages, err := h.db.CountMessages(ctx)
	if err != nil {
		h.ServerError(w, r, err, "count messages")
		return
	}

	submessages, err := h.db.CountSubMessages(ctx)
	if err != nil {
		h.ServerError(w, r, err, "count submessages")
		return
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		result:           success(),
		TotalUsers:       users,
		TotalMessages:    messages,
		TotalSubmessages: submessages,
	})
}
