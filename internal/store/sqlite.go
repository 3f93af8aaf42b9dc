package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/yogi2103/zulip/internal/models"
)

// sqliteDuplicate maps unique constraint failures to ErrDuplicate.
func sqliteDuplicate(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/zulip.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/zulip.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; one connection serializes id assignment
	// and avoids SQLITE_BUSY under concurrent inserts.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		full_name TEXT DEFAULT '',
		api_key_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS streams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		stream_id INTEGER NOT NULL REFERENCES streams(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		PRIMARY KEY (stream_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL REFERENCES users(id),
		recipient_type TEXT NOT NULL,
		stream_id INTEGER REFERENCES streams(id),
		topic TEXT DEFAULT '',
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS message_participants (
		message_id INTEGER NOT NULL REFERENCES messages(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		PRIMARY KEY (message_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS submessages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL REFERENCES messages(id),
		sender_id INTEGER NOT NULL REFERENCES users(id),
		msg_type TEXT NOT NULL,
		content TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_stream ON messages(stream_id);
	CREATE INDEX IF NOT EXISTS idx_submessages_message ON submessages(message_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inClause returns "?, ?, ?" for n ids along with the query args.
func inClause(ids []int64) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, email, fullName, apiKeyHash string) (*models.User, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, full_name, api_key_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, email, fullName, apiKeyHash, time.Now().UTC())
	if err != nil {
		return nil, sqliteDuplicate(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = ?`, email)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, api_key_hash, created_at
		FROM users `+where, arg).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.APIKeyHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CountUsers returns the total number of registered users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// CreateStream creates a stream and subscribes its creator.
func (s *SQLiteStore) CreateStream(ctx context.Context, name string, creatorID int64) (*models.Stream, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO streams (name, created_at) VALUES (?, ?)
	`, name, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert stream: %w", sqliteDuplicate(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (stream_id, user_id) VALUES (?, ?)
	`, id, creatorID); err != nil {
		return nil, fmt.Errorf("subscribe creator: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetStream(ctx, id)
}

// GetStream retrieves a stream by ID.
func (s *SQLiteStore) GetStream(ctx context.Context, id int64) (*models.Stream, error) {
	return s.getStream(ctx, `WHERE st.id = ?`, id)
}

// GetStreamByName retrieves a stream by name.
func (s *SQLiteStore) GetStreamByName(ctx context.Context, name string) (*models.Stream, error) {
	return s.getStream(ctx, `WHERE st.name = ?`, name)
}

func (s *SQLiteStore) getStream(ctx context.Context, where string, arg any) (*models.Stream, error) {
	stream := &models.Stream{}
	err := s.db.QueryRowContext(ctx, `
		SELECT st.id, st.name, st.created_at,
			(SELECT COUNT(*) FROM subscriptions sub WHERE sub.stream_id = st.id)
		FROM streams st `+where, arg).Scan(
		&stream.ID,
		&stream.Name,
		&stream.CreatedAt,
		&stream.Subscribers,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return stream, nil
}

// ListStreams retrieves streams with pagination, ordered by name.
func (s *SQLiteStore) ListStreams(ctx context.Context, limit, offset int) ([]models.Stream, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM streams`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.name, st.created_at,
			(SELECT COUNT(*) FROM subscriptions sub WHERE sub.stream_id = st.id)
		FROM streams st
		ORDER BY st.name
		LIMIT ? OFFSET ?
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
func (s *SQLiteStore) Subscribe(ctx context.Context, streamID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO subscriptions (stream_id, user_id) VALUES (?, ?)
	`, streamID, userID)
	return err
}

// IsSubscribed reports whether a user is subscribed to a stream.
func (s *SQLiteStore) IsSubscribed(ctx context.Context, streamID, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM subscriptions WHERE stream_id = ? AND user_id = ?)
	`, streamID, userID).Scan(&exists)
	return exists, err
}

// CreateStreamMessage stores a message sent to a stream topic.
func (s *SQLiteStore) CreateStreamMessage(ctx context.Context, senderID, streamID int64, topic, content string) (*models.Message, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (sender_id, recipient_type, stream_id, topic, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, senderID, models.RecipientStream, streamID, topic, content, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert stream message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, id)
}

// CreatePrivateMessage stores a private message and its participants.
func (s *SQLiteStore) CreatePrivateMessage(ctx context.Context, senderID int64, to []int64, content string) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (sender_id, recipient_type, content, created_at)
		VALUES (?, ?, ?, ?)
	`, senderID, models.RecipientPrivate, content, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert private message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	for _, userID := range participantsWith(senderID, to) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_participants (message_id, user_id) VALUES (?, ?)
		`, id, userID); err != nil {
			return nil, fmt.Errorf("insert participant %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, id)
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
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
func (s *SQLiteStore) GetMessages(ctx context.Context, ids []int64) ([]models.Message, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []models.Message{}, nil
	}
	marks, args := inClause(ids)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, recipient_type, stream_id, topic, content, created_at
		FROM messages
		WHERE id IN (`+marks+`)
		ORDER BY id
	`, args...)
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
	// Release the single connection before the next query.
	rows.Close()

	// Attach private message participants
	prows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id
		FROM message_participants
		WHERE message_id IN (`+marks+`)
		ORDER BY message_id, user_id
	`, args...)
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
func (s *SQLiteStore) MessageVisibleTo(ctx context.Context, messageID, userID int64) (bool, error) {
	var visible bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages m
			WHERE m.id = ? AND (
				(m.recipient_type = 'stream' AND EXISTS (
					SELECT 1 FROM subscriptions sub
					WHERE sub.stream_id = m.stream_id AND sub.user_id = ?))
				OR (m.recipient_type = 'private' AND EXISTS (
					SELECT 1 FROM message_participants p
					WHERE p.message_id = m.id AND p.user_id = ?))
			)
		)
	`, messageID, userID, userID).Scan(&visible)
	return visible, err
}

// RecipientUserIDs returns every user who can see the message, ascending.
func (s *SQLiteStore) RecipientUserIDs(ctx context.Context, messageID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sub.user_id
		FROM messages m
		JOIN subscriptions sub ON sub.stream_id = m.stream_id
		WHERE m.id = ? AND m.recipient_type = 'stream'
		UNION
		SELECT p.user_id
		FROM message_participants p
		WHERE p.message_id = ?
		ORDER BY 1
	`, messageID, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// CountMessages returns the total number of messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// CreateSubMessage appends a submessage to a message.
func (s *SQLiteStore) CreateSubMessage(ctx context.Context, messageID, senderID int64, msgType, content string) (*models.SubMessage, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO submessages (message_id, sender_id, msg_type, content)
		VALUES (?, ?, ?, ?)
	`, messageID, senderID, msgType, content)
	if err != nil {
		return nil, fmt.Errorf("insert submessage: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.SubMessage{
		ID:        id,
		MessageID: messageID,
		SenderID:  senderID,
		MsgType:   msgType,
		Content:   content,
	}, nil
}

// GetSubMessageRows returns the submessages of the given messages ordered by ID.
func (s *SQLiteStore) GetSubMessageRows(ctx context.Context, messageIDs []int64) ([]models.SubMessage, error) {
	messageIDs = uniqueIDs(messageIDs)
	if len(messageIDs) == 0 {
		return []models.SubMessage{}, nil
	}
	marks, args := inClause(messageIDs)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, sender_id, msg_type, content
		FROM submessages
		WHERE message_id IN (`+marks+`)
		ORDER BY id
	`, args...)
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
func (s *SQLiteStore) CountSubMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submessages`).Scan(&count)
	return count, err
}
