package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yogi2103/zulip/internal/api/middleware"
	"github.com/yogi2103/zulip/internal/store"
)

// Stream name validation: letters, digits, spaces, hyphens, underscores, 1-60 chars
var streamNameRegex = regexp.MustCompile(`^[a-zA-Z0-9 _-]{1,60}$`)

// StreamInfo represents a stream in API responses.
type StreamInfo struct {
	ID          int64  `json:"stream_id"`
	Name        string `json:"name"`
	Subscribers int64  `json:"subscribers"`
	CreatedAt   string `json:"created_at"`
}

// StreamListResponse represents the streams list response.
type StreamListResponse struct {
	result
	Streams []StreamInfo `json:"streams"`
	Total   int          `json:"total"`
}

// CreateStreamRequest represents the stream creation request.
type CreateStreamRequest struct {
	Name string `json:"name"`
}

// StreamResponse wraps a single stream.
type StreamResponse struct {
	result
	Stream StreamInfo `json:"stream"`
}

// ListStreams handles listing streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	limit := 20
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	streams, total, err := h.db.ListStreams(r.Context(), limit, offset)
	if err != nil {
		h.ServerError(w, r, err, "list streams")
		return
	}

	infos := make([]StreamInfo, len(streams))
	for i, st := range streams {
		infos[i] = StreamInfo{
			ID:          st.ID,
			Name:        st.Name,
			Subscribers: st.Subscribers,
			CreatedAt:   st.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}

	h.JSON(w, http.StatusOK, StreamListResponse{
		result:  success(),
		Streams: infos,
		Total:   total,
	})
}

// CreateStream handles stream creation (authenticated). The creator is
// subscribed to the new stream.
func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if !streamNameRegex.MatchString(req.Name) {
		h.Error(w, http.StatusBadRequest, "invalid stream name")
		return
	}

	existing, err := h.db.GetStreamByName(r.Context(), req.Name)
	if err != nil {
		h.ServerError(w, r, err, "get stream by name")
		return
	}
	if existing != nil {
		h.Error(w, http.StatusBadRequest, "stream already exists")
		return
	}

	stream, err := h.db.CreateStream(r.Context(), req.Name, user.ID)
	if errors.Is(err, store.ErrDuplicate) {
		h.Error(w, http.StatusBadRequest, "stream already exists")
		return
	}
	if err != nil {
		h.ServerError(w, r, err, "create stream")
		return
	}

	h.JSON(w, http.StatusOK, StreamResponse{
		result: success(),
		Stream: StreamInfo{
			ID:          stream.ID,
			Name:        stream.Name,
			Subscribers: stream.Subscribers,
			CreatedAt:   stream.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		},
	})
}

// SubscribeStream subscribes the authenticated user to a stream.
func (h *Handler) SubscribeStream(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	streamID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid stream ID format")
		return
	}

	stream, err := h.db.GetStream(r.Context(), streamID)
	if err != nil {
		h.ServerError(w, r, err, "get stream")
		return
	}
	if stream == nil {
		h.Error(w, http.StatusNotFound, "stream not found")
		return
	}

	if err := h.db.Subscribe(r.Context(), streamID, user.ID); err != nil {
		h.ServerError(w, r, err, "subscribe")
		return
	}

	h.JSON(w, http.StatusOK, success())
}
