package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yogi2103/zulip/internal/api/middleware"
	"github.com/yogi2103/zulip/internal/metrics"
	"github.com/yogi2103/zulip/internal/models"
	"github.com/yogi2103/zulip/internal/submessage"
)

const (
	maxContentLength  = 10000
	maxTopicLength    = 60
	maxMessagesPerGet = 100
)

// SendMessageRequest represents the message creation request. Stream
// messages set StreamID and Topic, private messages set To.
type SendMessageRequest struct {
	Type     string  `json:"type"`
	StreamID int64   `json:"stream_id,omitempty"`
	Topic    string  `json:"topic,omitempty"`
	To       []int64 `json:"to,omitempty"`
	Content  string  `json:"content"`
}

// SendMessageResponse represents the message creation response.
type SendMessageResponse struct {
	result
	ID int64 `json:"id"`
}

// MessagesResponse carries serialized messages with their submessages.
type MessagesResponse struct {
	result
	Messages []submessage.MessageView `json:"messages"`
}

// MessageResponse carries a single serialized message.
type MessageResponse struct {
	result
	Message submessage.MessageView `json:"message"`
}

// SendMessage handles posting a stream or private message.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		h.Error(w, http.StatusBadRequest, "message content is required")
		return
	}
	if len(req.Content) > maxContentLength {
		h.Error(w, http.StatusBadRequest, "message content too long")
		return
	}

	var (
		msg *models.Message
		err error
	)

	switch req.Type {
	case models.RecipientStream:
		topic := strings.TrimSpace(req.Topic)
		if topic == "" || len(topic) > maxTopicLength {
			h.Error(w, http.StatusBadRequest, "invalid topic")
			return
		}

		stream, err := h.db.GetStream(r.Context(), req.StreamID)
		if err != nil {
			h.ServerError(w, r, err, "get stream")
			return
		}
		if stream == nil {
			h.Error(w, http.StatusBadRequest, "stream not found")
			return
		}

		subscribed, err := h.db.IsSubscribed(r.Context(), stream.ID, user.ID)
		if err != nil {
			h.ServerError(w, r, err, "check subscription")
			return
		}
		if !subscribed {
			h.Error(w, http.StatusForbidden, "not subscribed to stream")
			return
		}

		msg, err = h.db.CreateStreamMessage(r.Context(), user.ID, stream.ID, topic, req.Content)
		if err != nil {
			h.ServerError(w, r, err, "create stream message")
			return
		}

	case models.RecipientPrivate:
		if len(req.To) == 0 {
			h.Error(w, http.StatusBadRequest, "recipients are required")
			return
		}
		for _, id := range req.To {
			recipient, err := h.db.GetUserByID(r.Context(), id)
			if err != nil {
				h.ServerError(w, r, err, "get recipient")
				return
			}
			if recipient == nil {
				h.Error(w, http.StatusBadRequest, "invalid recipient: "+strconv.FormatInt(id, 10))
				return
			}
		}

		msg, err = h.db.CreatePrivateMessage(r.Context(), user.ID, req.To, req.Content)
		if err != nil {
			h.ServerError(w, r, err, "create private message")
			return
		}

	default:
		h.Error(w, http.StatusBadRequest, "invalid message type")
		return
	}

	metrics.MessagesSent.WithLabelValues(req.Type).Inc()

	h.JSON(w, http.StatusOK, SendMessageResponse{result: success(), ID: msg.ID})
}

// GetMessages returns the requested messages the user can see, each with
// its submessages. ids is a comma-separated list.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid ids")
		return
	}
	if len(ids) > maxMessagesPerGet {
		h.Error(w, http.StatusBadRequest, "too many ids")
		return
	}

	views, err := h.submessages.MessageDicts(r.Context(), user.ID, ids)
	if err != nil {
		h.ServerError(w, r, err, "get messages")
		return
	}

	h.JSON(w, http.StatusOK, MessagesResponse{result: success(), Messages: views})
}

// GetMessage returns a single message with its submessages.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid message ID format")
		return
	}

	views, err := h.submessages.MessageDicts(r.Context(), user.ID, []int64{id})
	if err != nil {
		h.ServerError(w, r, err, "get message")
		return
	}
	if len(views) == 0 {
		h.Error(w, http.StatusBadRequest, submessage.ErrInvalidReference.Error())
		return
	}

	h.JSON(w, http.StatusOK, MessageResponse{result: success(), Message: views[0]})
}

// parseIDList parses "1,2,3" into ids. Empty input yields no ids.
func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
