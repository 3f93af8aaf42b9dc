package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yogi2103/zulip/internal/crypto"
	"github.com/yogi2103/zulip/internal/metrics"
	"github.com/yogi2103/zulip/internal/store"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// RegisterResponse represents the registration response. The API key is
// only ever returned here.
type RegisterResponse struct {
	result
	ID         int64  `json:"id"`
	APIKey     string `json:"api_key"`
	ProfileURL string `json:"profile_url"`
}

// UserResponse represents the user profile response.
type UserResponse struct {
	result
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	JoinedAt string `json:"joined_at"`
}

// Register handles user registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !isValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}

	existing, err := h.db.GetUserByEmail(r.Context(), email)
	if err != nil {
		h.ServerError(w, r, err, "get user by email")
		return
	}
	if existing != nil {
		h.Error(w, http.StatusBadRequest, "email already in use")
		return
	}

	key, hash, err := crypto.GenerateAPIKey()
	if err != nil {
		h.ServerError(w, r, err, "generate api key")
		return
	}

	user, err := h.db.CreateUser(r.Context(), email, sanitizeName(req.FullName), hash)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent registration
		h.Error(w, http.StatusBadRequest, "email already in use")
		return
	}
	if err != nil {
		h.ServerError(w, r, err, "create user")
		return
	}
	metrics.UsersRegistered.Inc()

	h.JSON(w, http.StatusOK, RegisterResponse{
		result:     success(),
		ID:         user.ID,
		APIKey:     key,
		ProfileURL: fmt.Sprintf("/users/%d", user.ID),
	})
}

// GetUser handles user profile lookup.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}

	user, err := h.db.GetUserByID(r.Context(), id)
	if err != nil {
		h.ServerError(w, r, err, "get user")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, UserResponse{
		result:   success(),
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		JoinedAt: user.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}
