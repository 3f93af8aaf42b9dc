package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yogi2103/zulip/internal/metrics"
	"github.com/yogi2103/zulip/internal/models"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func testEvent(messageID, submessageID int64, users ...int64) models.QueuedEvent {
	return models.QueuedEvent{
		EventID: ulid.Make().String(),
		Event: models.NewSubmessageEvent(&models.SubMessage{
			ID:        submessageID,
			MessageID: messageID,
			SenderID:  1,
			MsgType:   "widget",
			Content:   `{"x":1}`,
		}),
		Users: users,
	}
}

func TestRedis_DeliverAndPop(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	require.NoError(t, s.Deliver(ctx, testEvent(7, 1, 1, 2)))
	require.NoError(t, s.Deliver(ctx, testEvent(7, 2, 1, 2)))

	assert.True(t, mr.Exists("events:user:1"))
	assert.Greater(t, mr.TTL("events:user:1"), time.Duration(0))

	events, err := s.PopEvents(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Event.SubmessageID)
	assert.Equal(t, int64(2), events[1].Event.SubmessageID)
	assert.Equal(t, models.EventTypeSubmessage, events[0].Event.Type)
	assert.Equal(t, []int64{1, 2}, events[0].Users)
	assert.NotEmpty(t, events[0].EventID)

	events, err = s.PopEvents(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, events, "queue drained")

	events, err = s.PopEvents(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Event.SubmessageID)
}

func TestRedis_QueueLimit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)
	s.SetQueueLimits(time.Minute, 3)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Deliver(ctx, testEvent(7, i, 1)))
	}

	events, err := s.PopEvents(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].Event.SubmessageID, "oldest events are trimmed")
}

func TestRedis_WaitForEvents(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)

	// Already queued: returns immediately
	require.NoError(t, s.Deliver(ctx, testEvent(7, 1, 1)))
	start := time.Now()
	require.NoError(t, s.WaitForEvents(ctx, 1, 5*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second)

	// Empty queue: times out without error
	start = time.Now()
	require.NoError(t, s.WaitForEvents(ctx, 2, 100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// Cancelled context
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, s.WaitForEvents(cctx, 2, time.Second))
}

func TestRedis_PopEventsSkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)
	var logs bytes.Buffer
	s.SetLogger(zerolog.New(&logs))

	require.NoError(t, s.Deliver(ctx, testEvent(7, 1, 1)))
	_, err := mr.Push("events:user:1", "{not json")
	require.NoError(t, err)
	require.NoError(t, s.Deliver(ctx, testEvent(7, 2, 1)))

	before := testutil.ToFloat64(metrics.EventsUndecodable)

	events, err := s.PopEvents(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Event.SubmessageID)
	assert.Equal(t, int64(2), events[1].Event.SubmessageID)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.EventsUndecodable))
	assert.Contains(t, logs.String(), "discarding undecodable queued event")
	assert.False(t, mr.Exists("events:user:1"), "corrupt entry is consumed too")
}
