package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/yogi2103/zulip/internal/api/middleware"
	"github.com/yogi2103/zulip/internal/submessage"
)

// SubmessageRequest represents the submessage creation request.
type SubmessageRequest struct {
	MessageID int64  `json:"message_id"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
}

// SubmessageResponse represents the submessage creation response.
type SubmessageResponse struct {
	result
	SubmessageID int64 `json:"submessage_id"`
	MessageID    int64 `json:"message_id"`
}

// CreateSubmessage attaches a submessage to a message. The body may be JSON
// or form encoded; content is always a JSON document carried as a string.
func (h *Handler) CreateSubmessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	req, msg := decodeSubmessageRequest(r)
	if msg != "" {
		h.Error(w, http.StatusBadRequest, msg)
		return
	}

	id, err := h.submessages.Create(r.Context(), user.ID, req.MessageID, req.MsgType, req.Content)
	switch {
	case errors.Is(err, submessage.ErrInvalidPayload),
		errors.Is(err, submessage.ErrInvalidReference),
		errors.Is(err, submessage.ErrInvalidMsgType):
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.ServerError(w, r, err, "create submessage")
		return
	}

	h.JSON(w, http.StatusOK, SubmessageResponse{
		result:       success(),
		SubmessageID: id,
		MessageID:    req.MessageID,
	})
}

// decodeSubmessageRequest reads the request body. A non-empty message
// describes why the request was rejected.
func decodeSubmessageRequest(r *http.Request) (SubmessageRequest, string) {
	var req SubmessageRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, "invalid JSON body"
		}
		if req.MessageID == 0 {
			return req, "Missing 'message_id' argument"
		}
		return req, ""
	}

	if err := r.ParseForm(); err != nil {
		return req, "invalid form body"
	}
	raw := r.PostForm.Get("message_id")
	if raw == "" {
		return req, "Missing 'message_id' argument"
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return req, "Bad value for 'message_id'"
	}
	req.MessageID = id
	req.MsgType = r.PostForm.Get("msg_type")
	req.Content = r.PostForm.Get("content")
	return req, ""
}
