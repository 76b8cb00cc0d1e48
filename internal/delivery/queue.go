package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/broadcast"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

const (
	// DefaultMaxRetries is the attempt budget for a queued delivery.
	DefaultMaxRetries = 3
	// RetryBackoffBase is the delay before the first retry; it doubles on
	// each subsequent attempt.
	RetryBackoffBase = 5 * time.Second

	pollInterval = 2 * time.Second
	batchSize    = 50
)

// Queue drains queued message deliveries to live connections. Delivery is
// at least once: an entry leaves the queue only as completed or, after
// its retries are spent, as failed.
type Queue struct {
	store       store.DataStore
	broadcaster *broadcast.Broadcaster
	logger      zerolog.Logger
	now         func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewQueue creates a delivery queue worker.
func NewQueue(st store.DataStore, b *broadcast.Broadcaster, logger zerolog.Logger) *Queue {
	return &Queue{
		store:       st,
		broadcaster: b,
		logger:      logger.With().Str("component", "delivery").Logger(),
		now:         time.Now,
	}
}

// Enqueue records a message for delivery. Entries start pending and due
// immediately.
func (q *Queue) Enqueue(ctx context.Context, msg *models.ChatMessage) error {
	entry := &models.QueueEntry{
		ID:         uuid.NewString(),
		MessageID:  msg.ID,
		SessionID:  msg.SessionID,
		FromUserID: msg.FromUserID,
		ToUserID:   msg.ToUserID,
		MaxRetries: DefaultMaxRetries,
		Status:     models.QueuePending,
		CreatedAt:  q.now().UTC(),
	}
	return q.store.EnqueueEntry(ctx, entry)
}

// Start launches the drain loop.
func (q *Queue) Start() {
	q.stop = make(chan struct{})
	q.done = make(chan struct{})
	go q.run()
}

// Stop halts the drain loop and waits for the current batch to finish.
func (q *Queue) Stop() {
	if q.stop == nil {
		return
	}
	close(q.stop)
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			if err := q.Drain(context.Background()); err != nil {
				q.logger.Warn().Err(err).Msg("drain failed")
			}
		}
	}
}

// Drain processes one batch of due entries.
func (q *Queue) Drain(ctx context.Context) error {
	entries, err := q.store.DequeuePending(ctx, batchSize, q.now().UTC())
	if err != nil {
		return err
	}
	for i := range entries {
		q.process(ctx, &entries[i])
	}
	return nil
}

// process attempts one delivery. On success the entry completes and the
// message is stamped delivered; otherwise the entry is rescheduled with
// doubled backoff until its retries run out, at which point it is marked
// failed for later catch-up via the undelivered listing.
func (q *Queue) process(ctx context.Context, entry *models.QueueEntry) {
	now := q.now().UTC()
	if err := q.store.UpdateQueueEntry(ctx, entry.ID, models.QueueProcessing, "", entry.RetryCount, nil); err != nil {
		q.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("claim failed")
		return
	}

	msg, err := q.store.GetMessage(ctx, entry.MessageID)
	if err != nil || msg == nil {
		q.fail(ctx, entry, "message missing")
		return
	}
	if msg.IsRecalled {
		// Nothing left to deliver; retire the entry quietly.
		_ = q.store.UpdateQueueEntry(ctx, entry.ID, models.QueueCompleted, "", entry.RetryCount, nil)
		return
	}

	delivered := q.broadcaster.PushNewMessage(ctx, msg)
	if delivered > 0 {
		if err := q.store.UpdateQueueEntry(ctx, entry.ID, models.QueueCompleted, "", entry.RetryCount, nil); err != nil {
			q.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("complete failed")
			return
		}
		if _, err := q.store.UpdateMessageStatus(ctx, msg.ID, models.MessageDelivered, now); err != nil {
			q.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("delivered stamp failed")
		}
		q.broadcaster.PushMessageStatus(ctx, msg, models.MessageDelivered)
		return
	}

	q.retry(ctx, entry, "recipient offline")
}

// retry reschedules an entry, or retires it as failed once the budget is
// spent.
func (q *Queue) retry(ctx context.Context, entry *models.QueueEntry, reason string) {
	attempts := entry.RetryCount + 1
	if attempts >= entry.MaxRetries {
		q.fail(ctx, entry, reason)
		return
	}

	backoff := RetryBackoffBase * time.Duration(1<<uint(entry.RetryCount))
	next := q.now().UTC().Add(backoff)
	if err := q.store.UpdateQueueEntry(ctx, entry.ID, models.QueuePending, reason, attempts, &next); err != nil {
		q.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("reschedule failed")
		return
	}
	metrics.DeliveryRetries.Inc()
	q.logger.Debug().
		Str("entry_id", entry.ID).
		Str("message_id", entry.MessageID).
		Int("attempt", attempts).
		Dur("backoff", backoff).
		Msg("delivery rescheduled")
}

func (q *Queue) fail(ctx context.Context, entry *models.QueueEntry, reason string) {
	if err := q.store.UpdateQueueEntry(ctx, entry.ID, models.QueueFailed, reason, entry.MaxRetries, nil); err != nil {
		q.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("fail mark failed")
		return
	}
	metrics.DeliveryFailures.Inc()
	q.logger.Warn().
		Str("entry_id", entry.ID).
		Str("message_id", entry.MessageID).
		Str("reason", reason).
		Msg("delivery permanently failed")
}
