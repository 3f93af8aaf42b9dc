package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/yogi2103/zulip/internal/fanout"
	"github.com/yogi2103/zulip/internal/store"
	"github.com/yogi2103/zulip/internal/submessage"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db          store.DataStore
	events      fanout.Queue
	submessages *submessage.Service
	logger      zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(db store.DataStore, events fanout.Queue, submessages *submessage.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		db:          db,
		events:      events,
		submessages: submessages,
		logger:      logger.With().Str("component", "handlers").Logger(),
	}
}

// result is embedded in every successful response.
type result struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
}

func success() result {
	return result{Result: "success"}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, result{Result: "error", Msg: message})
}

// ServerError logs err and sends an opaque 500 response.
func (h *Handler) ServerError(w http.ResponseWriter, r *http.Request, err error, op string) {
	h.logger.Error().
		Err(err).
		Str("op", op).
		Str("path", r.URL.Path).
		Msg("request failed")
	h.Error(w, http.StatusInternalServerError, "internal error")
}

const maxNameLength = 100 // runes

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
