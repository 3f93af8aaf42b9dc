// Package submessage creates submessages on behalf of users and serializes
// messages together with their submessages.
package submessage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yogi2103/zulip/internal/metrics"
	"github.com/yogi2103/zulip/internal/models"
)

// Validation errors. Their text is returned to clients verbatim.
var (
	ErrInvalidPayload   = errors.New("Invalid json for submessage")
	ErrInvalidReference = errors.New("Invalid message(s)")
	ErrInvalidMsgType   = errors.New("Invalid msg_type")
)

// Store is the persistence the service needs.
type Store interface {
	CreateSubMessage(ctx context.Context, messageID, senderID int64, msgType, content string) (*models.SubMessage, error)
	GetSubMessageRows(ctx context.Context, messageIDs []int64) ([]models.SubMessage, error)
	GetMessages(ctx context.Context, ids []int64) ([]models.Message, error)
	MessageVisibleTo(ctx context.Context, messageID, userID int64) (bool, error)
	RecipientUserIDs(ctx context.Context, messageID int64) ([]int64, error)
}

// Publisher announces new submessages.
type Publisher interface {
	PublishSubmessageCreated(sm *models.SubMessage, recipients []int64)
}

// Service validates, stores and announces submessages.
type Service struct {
	store     Store
	publisher Publisher
	logger    zerolog.Logger
}

// NewService creates a Service.
func NewService(store Store, publisher Publisher, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "submessage").Logger(),
	}
}

// Create attaches a submessage from actorID to messageID and returns its ID.
//
// content must be valid JSON and the message must be visible to the actor;
// a missing message and an inaccessible one both yield ErrInvalidReference.
// Nothing is stored or published when validation fails.
func (s *Service) Create(ctx context.Context, actorID, messageID int64, msgType, content string) (int64, error) {
	if !json.Valid([]byte(content)) {
		metrics.SubmessagesRejected.WithLabelValues("invalid_json").Inc()
		return 0, ErrInvalidPayload
	}

	visible, err := s.store.MessageVisibleTo(ctx, messageID, actorID)
	if err != nil {
		return 0, fmt.Errorf("check message access: %w", err)
	}
	if !visible {
		metrics.SubmessagesRejected.WithLabelValues("invalid_message").Inc()
		return 0, ErrInvalidReference
	}

	if msgType == "" {
		metrics.SubmessagesRejected.WithLabelValues("invalid_msg_type").Inc()
		return 0, ErrInvalidMsgType
	}

	// Recipients are resolved before the insert so a lookup failure
	// leaves no record behind.
	recipients, err := s.store.RecipientUserIDs(ctx, messageID)
	if err != nil {
		return 0, fmt.Errorf("resolve recipients: %w", err)
	}

	sm, err := s.store.CreateSubMessage(ctx, messageID, actorID, msgType, content)
	if err != nil {
		return 0, err
	}
	metrics.SubmessagesCreated.Inc()

	s.publisher.PublishSubmessageCreated(sm, recipients)

	s.logger.Debug().
		Int64("submessage_id", sm.ID).
		Int64("message_id", messageID).
		Int64("sender_id", actorID).
		Str("msg_type", msgType).
		Int("recipients", len(recipients)).
		Msg("submessage created")

	return sm.ID, nil
}
