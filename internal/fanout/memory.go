package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/yogi2103/zulip/internal/models"
)

// MemorySink keeps per-user event queues in process memory. It backs the
// event API when no Redis is configured.
type MemorySink struct {
	mu      sync.Mutex
	queues  map[int64][]models.QueuedEvent
	max     int
	changed chan struct{} // closed and replaced on every delivery
}

// NewMemorySink creates a sink keeping at most max events per user.
func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 1000
	}
	return &MemorySink{
		queues:  make(map[int64][]models.QueuedEvent),
		max:     max,
		changed: make(chan struct{}),
	}
}

// Deliver appends the event to every user's queue.
func (s *MemorySink) Deliver(ctx context.Context, envelope models.QueuedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, userID := range envelope.Users {
		q := append(s.queues[userID], envelope)
		if len(q) > s.max {
			q = q[len(q)-s.max:]
		}
		s.queues[userID] = q
	}

	close(s.changed)
	s.changed = make(chan struct{})
	return nil
}

// PopEvents removes and returns up to limit queued events for a user, oldest first.
func (s *MemorySink) PopEvents(ctx context.Context, userID int64, limit int) ([]models.QueuedEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[userID]
	n := min(limit, len(q))
	events := make([]models.QueuedEvent, n)
	copy(events, q[:n])

	if n == len(q) {
		delete(s.queues, userID)
	} else {
		s.queues[userID] = q[n:]
	}
	return events, nil
}

// WaitForEvents blocks until the user's queue is non-empty, the timeout
// elapses or ctx is done.
func (s *MemorySink) WaitForEvents(ctx context.Context, userID int64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		pending := len(s.queues[userID]) > 0
		changed := s.changed
		s.mu.Unlock()

		if pending {
			return nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
