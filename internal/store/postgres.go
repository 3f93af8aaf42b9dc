package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yogi2103/zulip/internal/models"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// pgDuplicate maps unique constraint failures to ErrDuplicate.
func pgDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, email, fullName, apiKeyHash string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, api_key_hash)
		VALUES ($1, $2, $3)
		RETURNING id, email, full_name, api_key_hash, created_at
	`, email, fullName, apiKeyHash).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.APIKeyHash,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, pgDuplicate(err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = $1`, email)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, full_name, api_key_hash, created_at
		FROM users `+where, arg).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.APIKeyHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CountUsers returns the total number of registered users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// CreateStream creates a stream and subscribes its creator.
func (s *PostgresStore) CreateStream(ctx context.Context, name string, creatorID int64) (*models.Stream, error) {
	var id int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO streams (name) VALUES ($1) RETURNING id
		`, name).Scan(&id); err != nil {
			return fmt.Errorf("insert stream: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (stream_id, user_id) VALUES ($1, $2)
		`, id, creatorID)
		return err
	})
	if err != nil {
		return nil, pgDuplicate(err)
	}
	return s.GetStream(ctx, id)
}

// GetStream retrieves a stream by ID.
func (s *PostgresStore) GetStream(ctx context.Context, id int64) (*models.Stream, error) {
	return s.getStream(ctx, `WHERE st.id = $1`, id)
}

// GetStreamByName retrieves a stream by name.
func (s *PostgresStore) GetStreamByName(ctx context.Context, name string) (*models.Stream, error) {
	return s.getStream(ctx, `WHERE st.name = $1`, name)
}

func (s *PostgresStore) getStream(ctx context.Context, where string, arg any) (*models.Stream, error) {
	stream := &models.Stream{}
	err := s.pool.QueryRow(ctx, `
		SELECT st.id, st.name, st.created_at,
			(SELECT COUNT(*) FROM subscriptions sub WHERE sub.stream_id = st.id)
		FROM streams st `+where, arg).Scan(
		&stream.ID,
		&stream.Name,
		&stream.CreatedAt,
		&stream.Subscribers,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return stream, nil
}

// ListStreams retrieves streams with pagination, ordered by name.
func (s *PostgresStore) ListStreams(ctx context.Context, limit, offset int) ([]models.Stream, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM streams`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT st.id, st.name, st.created_at,
			(SELECT COUNT(*) FROM subscriptions sub WHERE sub.stream_id = st.id)
		FROM streams st
		ORDER BY st.name
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	streams := []models.Stream{}
	for rows.Next() {
		var stream models.Stream
		if err := rows.Scan(&stream.ID, &stream.Name, &stream.CreatedAt, &stream.Subscribers); err != nil {
			return nil, 0, err
		}
		streams = append(streams, stream)
	}

	return streams, total, rows.Err()
}

// Subscribe adds a user to a stream. Subscribing twice is a no-op.
func (s *PostgresStore) Subscribe(ctx context.Context, streamID, userID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (stream_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, streamID, userID)
	return err
}

// IsSubscribed reports whether a user is subscribed to a stream.
func (s *PostgresStore) IsSubscribed(ctx context.Context, streamID, userID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM subscriptions WHERE stream_id = $1 AND user_id = $2)
	`, streamID, userID).Scan(&exists)
	return exists, err
}

// CreateStreamMessage stores a message sent to a stream topic.
func (s *PostgresStore) CreateStreamMessage(ctx context.Context, senderID, streamID int64, topic, content string) (*models.Message, error) {
	msg := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, recipient_type, stream_id, topic, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, sender_id, recipient_type, stream_id, topic, content, created_at
	`, senderID, models.RecipientStream, streamID, topic, content).Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.RecipientType,
		&msg.StreamID,
		&msg.Topic,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert stream message: %w", err)
	}
	return msg, nil
}

// CreatePrivateMessage stores a private message and its participants.
func (s *PostgresStore) CreatePrivateMessage(ctx context.Context, senderID int64, to []int64, content string) (*models.Message, error) {
	msg := &models.Message{}
	participants := participantsWith(senderID, to)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO messages (sender_id, recipient_type, content)
			VALUES ($1, $2, $3)
			RETURNING id, sender_id, recipient_type, stream_id, topic, content, created_at
		`, senderID, models.RecipientPrivate, content).Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.RecipientType,
			&msg.StreamID,
			&msg.Topic,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert private message: %w", err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO message_participants (message_id, user_id)
			SELECT $1, unnest($2::bigint[])
		`, msg.ID, participants)
		return err
	})
	if err != nil {
		return nil, err
	}

	msg.Participants = participants
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	msgs, err := s.GetMessages(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// GetMessages retrieves messages by ID, ordered by ID. Unknown IDs are skipped.
func (s *PostgresStore) GetMessages(ctx context.Context, ids []int64) ([]models.Message, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []models.Message{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, sender_id, recipient_type, stream_id, topic, content, created_at
		FROM messages
		WHERE id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.Message{}
	index := make(map[int64]int)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.RecipientType,
			&msg.StreamID,
			&msg.Topic,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		index[msg.ID] = len(msgs)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.pool.Query(ctx, `
		SELECT message_id, user_id
		FROM message_participants
		WHERE message_id = ANY($1)
		ORDER BY message_id, user_id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer prows.Close()

	for prows.Next() {
		var messageID, userID int64
		if err := prows.Scan(&messageID, &userID); err != nil {
			return nil, err
		}
		if i, ok := index[messageID]; ok {
			msgs[i].Participants = append(msgs[i].Participants, userID)
		}
	}

	return msgs, prows.Err()
}

// MessageVisibleTo reports whether userID may read the message. Missing
// messages are reported as not visible.
func (s *PostgresStore) MessageVisibleTo(ctx context.Context, messageID, userID int64) (bool, error) {
	var visible bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages m
			WHERE m.id = $1 AND (
				(m.recipient_type = 'stream' AND EXISTS (
					SELECT 1 FROM subscriptions sub
					WHERE sub.stream_id = m.stream_id AND sub.user_id = $2))
				OR (m.recipient_type = 'private' AND EXISTS (
					SELECT 1 FROM message_participants p
					WHERE p.message_id = m.id AND p.user_id = $2))
			)
		)
	`, messageID, userID).Scan(&visible)
	return visible, err
}

// RecipientUserIDs returns every user who can see the message, ascending.
func (s *PostgresStore) RecipientUserIDs(ctx context.Context, messageID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sub.user_id
		FROM messages m
		JOIN subscriptions sub ON sub.stream_id = m.stream_id
		WHERE m.id = $1 AND m.recipient_type = 'stream'
		UNION
		SELECT p.user_id
		FROM message_participants p
		WHERE p.message_id = $1
		ORDER BY 1
	`, messageID)
	if err != nil {
		return nil, err
	}

	users, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []int64{}
	}
	return users, nil
}

// CountMessages returns the total number of messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// CreateSubMessage appends a submessage to a message.
func (s *PostgresStore) CreateSubMessage(ctx context.Context, messageID, senderID int64, msgType, content string) (*models.SubMessage, error) {
	sm := &models.SubMessage{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO submessages (message_id, sender_id, msg_type, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, message_id, sender_id, msg_type, content
	`, messageID, senderID, msgType, content).Scan(
		&sm.ID,
		&sm.MessageID,
		&sm.SenderID,
		&sm.MsgType,
		&sm.Content,
	)
	if err != nil {
		return nil, fmt.Errorf("insert submessage: %w", err)
	}
	return sm, nil
}

// GetSubMessageRows returns the submessages of the given messages ordered by ID.
func (s *PostgresStore) GetSubMessageRows(ctx context.Context, messageIDs []int64) ([]models.SubMessage, error) {
	messageIDs = uniqueIDs(messageIDs)
	if len(messageIDs) == 0 {
		return []models.SubMessage{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, sender_id, msg_type, content
		FROM submessages
		WHERE message_id = ANY($1)
		ORDER BY id
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []models.SubMessage{}
	for rows.Next() {
		var sm models.SubMessage
		if err := rows.Scan(&sm.ID, &sm.MessageID, &sm.SenderID, &sm.MsgType, &sm.Content); err != nil {
			return nil, err
		}
		subs = append(subs, sm)
	}
	return subs, rows.Err()
}

// CountSubMessages returns the total number of submessages.
func (s *PostgresStore) CountSubMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM submessages`).Scan(&count)
	return count, err
}
