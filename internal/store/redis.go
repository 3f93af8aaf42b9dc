package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yogi2103/zulip/internal/metrics"
	"github.com/yogi2103/zulip/internal/models"
)

const (
	defaultEventQueueTTL = 24 * time.Hour
	defaultEventQueueMax = 1000
)

// RedisStore handles Redis operations for per-user event queues and the
// keys used by the rate limiter.
type RedisStore struct {
	client   *redis.Client
	queueTTL time.Duration
	queueMax int64
	logger   zerolog.Logger
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{
		client:   client,
		queueTTL: defaultEventQueueTTL,
		queueMax: defaultEventQueueMax,
		logger:   zerolog.Nop(),
	}, nil
}

// SetLogger sets the logger used to report corrupt queue entries.
func (s *RedisStore) SetLogger(logger zerolog.Logger) {
	s.logger = logger.With().Str("component", "redis").Logger()
}

// SetQueueLimits overrides how long an idle event queue is kept and how many
// events it holds. Non-positive values keep the defaults.
func (s *RedisStore) SetQueueLimits(ttl time.Duration, max int64) {
	if ttl > 0 {
		s.queueTTL = ttl
	}
	if max > 0 {
		s.queueMax = max
	}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// eventQueueKey returns the key for a user's event queue list.
func eventQueueKey(userID int64) string {
	return fmt.Sprintf("events:user:%d", userID)
}

// eventNotifyChannel returns the pub/sub channel signalling new events.
func eventNotifyChannel(userID int64) string {
	return fmt.Sprintf("events:user:%d:notify", userID)
}

// Deliver appends the event to every recipient's queue and notifies
// listeners. All writes go out in one MULTI so a retry never leaves a
// partially delivered event behind.
func (s *RedisStore) Deliver(ctx context.Context, envelope models.QueuedEvent) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, userID := range envelope.Users {
			key := eventQueueKey(userID)
			pipe.RPush(ctx, key, data)
			// Keep only the newest queueMax events
			pipe.LTrim(ctx, key, -s.queueMax, -1)
			pipe.Expire(ctx, key, s.queueTTL)
			pipe.Publish(ctx, eventNotifyChannel(userID), envelope.EventID)
		}
		return nil
	})
	return err
}

// PopEvents removes and returns up to limit queued events for a user, oldest first.
func (s *RedisStore) PopEvents(ctx context.Context, userID int64, limit int) ([]models.QueuedEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	key := eventQueueKey(userID)

	var rangeCmd *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, key, 0, int64(limit)-1)
		pipe.LTrim(ctx, key, int64(limit), -1)
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make([]models.QueuedEvent, 0, len(rangeCmd.Val()))
	for _, data := range rangeCmd.Val() {
		var ev models.QueuedEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			// Already trimmed from the list, so the entry is gone either way.
			metrics.EventsUndecodable.Inc()
			s.logger.Error().Err(err).
				Int64("user_id", userID).
				Int("bytes", len(data)).
				Msg("discarding undecodable queued event")
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

// WaitForEvents blocks until the user's queue is non-empty, the timeout
// elapses or ctx is done. It returns nil in all but the ctx case.
func (s *RedisStore) WaitForEvents(ctx context.Context, userID int64, timeout time.Duration) error {
	sub := s.client.Subscribe(ctx, eventNotifyChannel(userID))
	defer sub.Close()

	// Wait for the subscription to be confirmed before checking the queue,
	// otherwise an event published in between would be missed.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	n, err := s.client.LLen(ctx, eventQueueKey(userID)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sub.Channel():
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
