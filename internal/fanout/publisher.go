package fanout

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/yogi2103/zulip/internal/metrics"
	"github.com/yogi2103/zulip/internal/models"
)

// ErrClosed is returned by Close when the publisher was already closed.
var ErrClosed = errors.New("fanout: publisher closed")

// Sink receives events for a set of users. The envelope, including its
// EventID, is identical on every retry of the same event.
type Sink interface {
	Deliver(ctx context.Context, envelope models.QueuedEvent) error
}

// Queue is a Sink whose per-user queues can be drained by the event API.
// Both store.RedisStore and MemorySink implement it.
type Queue interface {
	Sink
	PopEvents(ctx context.Context, userID int64, limit int) ([]models.QueuedEvent, error)
	WaitForEvents(ctx context.Context, userID int64, timeout time.Duration) error
}

// Config controls the worker pool and retry policy.
type Config struct {
	Workers        int           // Number of shards, each served by one goroutine
	QueueSize      int           // Buffered events per shard
	MaxAttempts    int           // Delivery attempts before giving up
	RetryBackoff   time.Duration // Delay before the second attempt, doubled afterwards
	DeliverTimeout time.Duration // Per-attempt timeout
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      1024,
		MaxAttempts:    5,
		RetryBackoff:   50 * time.Millisecond,
		DeliverTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = d.DeliverTimeout
	}
	return c
}

type job struct {
	envelope models.QueuedEvent
}

// Publisher fans submessage events out to a Sink.
// It is safe for concurrent use.
type Publisher struct {
	sink   Sink
	logger zerolog.Logger
	cfg    Config

	mu     sync.RWMutex
	closed bool
	shards []chan job
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPublisher creates a publisher and starts its workers.
func NewPublisher(sink Sink, logger zerolog.Logger, cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		sink:   sink,
		logger: logger.With().Str("component", "fanout").Logger(),
		cfg:    cfg,
		shards: make([]chan job, cfg.Workers),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := range p.shards {
		p.shards[i] = make(chan job, cfg.QueueSize)
		p.wg.Add(1)
		go p.run(p.shards[i])
	}

	return p
}

// PublishSubmessageCreated queues a submessage event for the recipients.
// It never blocks on delivery and never fails; dropped events are logged.
func (p *Publisher) PublishSubmessageCreated(sm *models.SubMessage, recipients []int64) {
	j := job{
		envelope: models.QueuedEvent{
			EventID: ulid.Make().String(),
			Event:   models.NewSubmessageEvent(sm),
			Users:   dedupe(recipients),
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		metrics.EventsDropped.WithLabelValues("closed").Inc()
		p.logger.Warn().
			Int64("message_id", sm.MessageID).
			Int64("submessage_id", sm.ID).
			Msg("publisher closed, dropping event")
		return
	}

	shard := p.shards[shardFor(sm.MessageID, len(p.shards))]
	select {
	case shard <- j:
		metrics.EventsQueued.Inc()
	default:
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		p.logger.Error().
			Int64("message_id", sm.MessageID).
			Int64("submessage_id", sm.ID).
			Str("event_id", j.envelope.EventID).
			Int("recipients", len(j.envelope.Users)).
			Msg("fanout queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued events to be delivered.
// If ctx expires first, pending retries are abandoned and ctx.Err() returned.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	for _, shard := range p.shards {
		close(shard)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Publisher) run(queue <-chan job) {
	defer p.wg.Done()
	for j := range queue {
		p.deliver(j)
	}
}

// deliver sends one event, retrying with exponential backoff.
func (p *Publisher) deliver(j job) {
	if len(j.envelope.Users) == 0 {
		return
	}

	start := time.Now()
	backoff := p.cfg.RetryBackoff

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.DeliverTimeout)
		err := p.sink.Deliver(ctx, j.envelope)
		cancel()

		if err == nil {
			metrics.EventsDelivered.Inc()
			metrics.FanoutLatency.Observe(time.Since(start).Seconds())
			return
		}

		ev := p.logger.Warn()
		if attempt >= p.cfg.MaxAttempts {
			ev = p.logger.Error()
		}
		ev.Err(err).
			Str("event_id", j.envelope.EventID).
			Int64("message_id", j.envelope.Event.MessageID).
			Int64("submessage_id", j.envelope.Event.SubmessageID).
			Int("attempt", attempt).
			Msg("event delivery failed")

		if attempt >= p.cfg.MaxAttempts {
			metrics.EventDeliveryFailures.Inc()
			return
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
			metrics.EventDeliveryFailures.Inc()
			return
		}
		backoff *= 2
	}
}

func shardFor(messageID int64, n int) int {
	return int(uint64(messageID) % uint64(n))
}

// dedupe returns the users sorted ascending without duplicates.
func dedupe(users []int64) []int64 {
	out := slices.Clone(users)
	slices.Sort(out)
	return slices.Compact(out)
}
