package store

import (
	"context"
	"errors"
	"sort"

	"github.com/yogi2103/zulip/internal/models"
)

// ErrDuplicate is returned when an insert violates a unique constraint,
// such as a second user with the same email.
var ErrDuplicate = errors.New("store: duplicate record")

// DataStore defines the interface for persistent storage of users, streams,
// messages and submessages. Both PostgresStore and SQLiteStore implement it.
//
// Lookups of a single record return (nil, nil) when the record does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, email, fullName, apiKeyHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Stream operations
	CreateStream(ctx context.Context, name string, creatorID int64) (*models.Stream, error)
	GetStream(ctx context.Context, id int64) (*models.Stream, error)
	GetStreamByName(ctx context.Context, name string) (*models.Stream, error)
	ListStreams(ctx context.Context, limit, offset int) ([]models.Stream, int, error)
	Subscribe(ctx context.Context, streamID, userID int64) error
	IsSubscribed(ctx context.Context, streamID, userID int64) (bool, error)

	// Message operations
	CreateStreamMessage(ctx context.Context, senderID, streamID int64, topic, content string) (*models.Message, error)
	CreatePrivateMessage(ctx context.Context, senderID int64, to []int64, content string) (*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	GetMessages(ctx context.Context, ids []int64) ([]models.Message, error)
	MessageVisibleTo(ctx context.Context, messageID, userID int64) (bool, error)
	RecipientUserIDs(ctx context.Context, messageID int64) ([]int64, error)
	CountMessages(ctx context.Context) (int64, error)

	// Submessage operations
	CreateSubMessage(ctx context.Context, messageID, senderID int64, msgType, content string) (*models.SubMessage, error)
	GetSubMessageRows(ctx context.Context, messageIDs []int64) ([]models.SubMessage, error)
	CountSubMessages(ctx context.Context) (int64, error)
}

// uniqueIDs returns ids sorted ascending without duplicates.
func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// participantsWith returns the private message participants including the sender.
func participantsWith(senderID int64, to []int64) []int64 {
	return uniqueIDs(append([]int64{senderID}, to...))
}

var (
	_ DataStore = (*PostgresStore)(nil)
	_ DataStore = (*SQLiteStore)(nil)
)
