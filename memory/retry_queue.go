package memory

import (
	"context"
	"sync"
	"time"

	"github.com/neuralmesh/mesh/core"
)

// Retry queue defaults.
const (
	DefaultQueueCapacity = 1000
	DefaultMaxAge        = 5 * time.Minute
	DefaultFlushInterval = 5 * time.Second
	defaultFlushDeadline = 10 * time.Second
)

// PersistOp is one deferred persistence command applied against the graph.
type PersistOp func(ctx context.Context, graph Graph) error

// queueEntry pairs an op with its enqueue time for age expiry.
type queueEntry struct {
	op         PersistOp
	enqueuedAt time.Time
}

// RetryQueue is a bounded buffer of deferred persistence operations with
// periodic drain to the memory graph. At capacity the oldest entry is
// evicted before a new one would be refused.
type RetryQueue struct {
	capacity      int
	maxAge        time.Duration
	flushInterval time.Duration
	logger        core.Logger

	mu      sync.Mutex
	entries []queueEntry
	dropped int
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// QueueOption configures a RetryQueue.
type QueueOption func(*RetryQueue)

// WithCapacity overrides the default capacity.
func WithCapacity(capacity int) QueueOption {
	return func(q *RetryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithMaxAge overrides the entry expiry age.
func WithMaxAge(maxAge time.Duration) QueueOption {
	return func(q *RetryQueue) {
		if maxAge > 0 {
			q.maxAge = maxAge
		}
	}
}

// WithFlushInterval overrides the auto-flush period.
func WithFlushInterval(interval time.Duration) QueueOption {
	return func(q *RetryQueue) {
		if interval > 0 {
			q.flushInterval = interval
		}
	}
}

// WithQueueLogger sets the queue logger.
func WithQueueLogger(logger core.Logger) QueueOption {
	return func(q *RetryQueue) {
		q.logger = logger
	}
}

// NewRetryQueue creates a queue with the given options.
func NewRetryQueue(opts ...QueueOption) *RetryQueue {
	q := &RetryQueue{
		capacity:      DefaultQueueCapacity,
		maxAge:        DefaultMaxAge,
		flushInterval: DefaultFlushInterval,
		logger:        &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends an op, evicting the oldest entry past capacity.
func (q *RetryQueue) Enqueue(op PersistOp) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, queueEntry{op: op, enqueuedAt: time.Now()})
	if len(q.entries) > q.capacity {
		evicted := len(q.entries) - q.capacity
		q.entries = q.entries[evicted:]
		q.dropped += evicted
		q.logger.Warn("Retry queue at capacity, evicted oldest", map[string]interface{}{
			"operation": "retry_queue_evict",
			"evicted":   evicted,
			"dropped":   q.dropped,
		})
	}
}

// DrainValid removes and returns entries no older than the max age as of
// now; expired entries are discarded.
func (q *RetryQueue) DrainValid(now time.Time) []PersistOp {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainValidLocked(now)
}

func (q *RetryQueue) drainValidLocked(now time.Time) []PersistOp {
	cutoff := now.Add(-q.maxAge)
	var valid []PersistOp
	expired := 0
	for _, entry := range q.entries {
		if entry.enqueuedAt.Before(cutoff) {
			expired++
			continue
		}
		valid = append(valid, entry.op)
	}
	q.entries = nil

	if expired > 0 {
		q.dropped += expired
		q.logger.Warn("Retry queue expired stale entries", map[string]interface{}{
			"operation": "retry_queue_expire",
			"expired":   expired,
		})
	}
	return valid
}

// Flush drains the valid batch and applies each op against the graph.
// Failures re-enqueue the remaining ops, including the failed one, at the
// tail.
func (q *RetryQueue) Flush(ctx context.Context, graph Graph) error {
	batch := q.DrainValid(time.Now())
	if len(batch) == 0 {
		return nil
	}

	for i, op := range batch {
		if err := op(ctx, graph); err != nil {
			remaining := batch[i:]
			q.mu.Lock()
			for _, pending := range remaining {
				q.entries = append(q.entries, queueEntry{op: pending, enqueuedAt: time.Now()})
			}
			q.mu.Unlock()

			q.logger.Warn("Retry queue flush failed, re-enqueued remainder", map[string]interface{}{
				"operation": "retry_queue_flush_failed",
				"applied":   i,
				"requeued":  len(remaining),
				"error":     err.Error(),
			})
			return err
		}
	}

	q.logger.Debug("Retry queue flushed", map[string]interface{}{
		"operation": "retry_queue_flush",
		"applied":   len(batch),
	})
	return nil
}

// Start launches the auto-flush timer against the graph.
func (q *RetryQueue) Start(graph Graph) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return core.ErrAlreadyStarted
	}
	q.started = true
	q.stop = make(chan struct{})
	q.done = make(chan struct{})
	q.mu.Unlock()

	go func() {
		defer close(q.done)
		ticker := time.NewTicker(q.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), defaultFlushDeadline)
				_ = q.Flush(ctx, graph)
				cancel()
			}
		}
	}()
	return nil
}

// DrainAndStop flushes pending ops before stopping the timer, so nothing
// is silently dropped at shutdown.
func (q *RetryQueue) DrainAndStop(graph Graph) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultFlushDeadline)
	defer cancel()
	flushErr := q.Flush(ctx, graph)

	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return flushErr
	}
	q.started = false
	stop := q.stop
	done := q.done
	q.mu.Unlock()

	close(stop)
	<-done
	return flushErr
}

// Size returns the number of queued entries.
func (q *RetryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped returns the cumulative count of evicted and expired entries.
func (q *RetryQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
