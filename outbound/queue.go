// Package outbound implements the outbound message queue and deduplicator.
//
// A message is tracked in exactly one of three places: the pending set while
// it awaits acknowledgment, the sent set (a retention window keyed by client
// temp id) once the server confirms it, or the failed set once its retry
// budget is exhausted. Admission is refused for any id still present in any
// of the three sets, which gives at-most-once delivery per client temp id;
// ClearFailed is the only path that frees a terminally failed id for reuse.
package outbound

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vzorr/chat-test-client-sub001/errors"
	"github.com/vzorr/chat-test-client-sub001/message"
	"github.com/vzorr/chat-test-client-sub001/metric"
	"github.com/vzorr/chat-test-client-sub001/pkg/cache"
)

// Queue tracks outbound messages through their delivery lifecycle
type Queue struct {
	mu      sync.Mutex
	pending map[string]*message.Outbound
	order   []string // pending ids in admission order, for recovery flushes
	failed  map[string]*message.Outbound
	sent    *cache.TTL[message.Ack]

	maxRetries int
	retention  time.Duration
	onFailed   func(*message.Outbound)

	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Queue
type Option func(*Queue)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger.With("component", "outbound")
		}
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *metric.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithOnFailed registers a callback invoked when a message exhausts its
// retry budget. It runs outside the queue lock.
func WithOnFailed(fn func(*message.Outbound)) Option {
	return func(q *Queue) { q.onFailed = fn }
}

// New creates a Queue. maxRetries is the transmission attempt budget per
// message; retention is how long confirmed ids are kept for deduplication.
func New(maxRetries int, retention time.Duration, opts ...Option) *Queue {
	q := &Queue{
		pending:    make(map[string]*message.Outbound),
		failed:     make(map[string]*message.Outbound),
		maxRetries: maxRetries,
		retention:  retention,
		logger:     slog.Default().With("component", "outbound"),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.sent = cache.NewTTL[message.Ack](retention, cache.Options[message.Ack]{})
	return q
}

// Admit registers a message for delivery. It assigns a client temp id when
// the message has none, stamps it pending, and stores it. An id already
// pending, already confirmed within the retention window, or terminally
// failed is refused with ErrDuplicateMessage.
func (q *Queue) Admit(msg *message.Outbound) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ClientTempID == "" {
		msg.ClientTempID = message.NewID()
	}

	q.mu.Lock()
	if q.isDuplicateLocked(msg.ClientTempID) {
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.MessagesDeduped.Inc()
		}
		q.logger.Debug("duplicate message refused", "client_temp_id", msg.ClientTempID)
		return errors.WrapInvalid(errors.ErrDuplicateMessage, "Queue", "Admit", "already admitted")
	}

	msg.Status = message.StatusPending
	msg.Attempt = 0
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	q.pending[msg.ClientTempID] = msg
	q.order = append(q.order, msg.ClientTempID)
	q.updateGaugesLocked()
	q.mu.Unlock()

	q.logger.Debug("message admitted",
		"client_temp_id", msg.ClientTempID,
		"conversation_id", msg.ConversationID)
	return nil
}

// MarkSent confirms a pending message. The message moves from the pending
// set into the sent retention window. Unknown ids are ignored and return
// false, so a late or duplicate acknowledgment has no effect.
func (q *Queue) MarkSent(clientTempID string, ack message.Ack) bool {
	q.mu.Lock()
	msg, ok := q.pending[clientTempID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	delete(q.pending, clientTempID)
	q.removeFromOrderLocked(clientTempID)
	msg.Status = message.StatusSent
	q.sent.Set(clientTempID, ack)
	q.updateGaugesLocked()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.MessagesSent.Inc()
	}
	q.logger.Info("message confirmed sent",
		"client_temp_id", clientTempID,
		"message_id", ack.MessageID)
	return true
}

// MarkFailed records a failed transmission attempt. It returns the attempt
// count so far and whether the message should be retried. When retryable is
// false or the attempt budget is exhausted, the message becomes terminally
// failed, is moved out of the pending set, and the failure callback fires.
// Unknown ids are ignored and report no retry.
func (q *Queue) MarkFailed(clientTempID, reason string, retryable bool) (int, bool) {
	q.mu.Lock()
	msg, ok := q.pending[clientTempID]
	if !ok {
		q.mu.Unlock()
		return 0, false
	}
	msg.Attempt++
	msg.LastError = reason
	attempt := msg.Attempt
	if retryable && attempt < q.maxRetries {
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.MessagesRetried.Inc()
		}
		q.logger.Warn("message send failed, will retry",
			"client_temp_id", clientTempID,
			"attempt", attempt,
			"max_retries", q.maxRetries,
			"error", reason)
		return attempt, true
	}

	delete(q.pending, clientTempID)
	q.removeFromOrderLocked(clientTempID)
	msg.Status = message.StatusFailed
	q.failed[clientTempID] = msg
	q.updateGaugesLocked()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.MessagesFailed.Inc()
	}
	q.logger.Error("message failed terminally",
		"client_temp_id", clientTempID,
		"attempts", attempt,
		"error", reason)
	if q.onFailed != nil {
		q.onFailed(msg)
	}
	return attempt, false
}

// IsPending reports whether the id is awaiting acknowledgment
func (q *Queue) IsPending(clientTempID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[clientTempID]
	return ok
}

// IsDuplicate reports whether the id is pending, within the sent retention
// window, or terminally failed
func (q *Queue) IsDuplicate(clientTempID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isDuplicateLocked(clientTempID)
}

func (q *Queue) isDuplicateLocked(clientTempID string) bool {
	if _, pending := q.pending[clientTempID]; pending {
		return true
	}
	if _, failed := q.failed[clientTempID]; failed {
		return true
	}
	return q.sent.Has(clientTempID)
}

// Ack returns the stored acknowledgment for a confirmed id, if it is still
// within the retention window
func (q *Queue) Ack(clientTempID string) (message.Ack, bool) {
	return q.sent.Get(clientTempID)
}

// Pending returns the pending messages in admission order
func (q *Queue) Pending() []*message.Outbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*message.Outbound, 0, len(q.order))
	for _, id := range q.order {
		if msg, ok := q.pending[id]; ok {
			out = append(out, msg)
		}
	}
	return out
}

// PendingCount returns the number of messages awaiting acknowledgment
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// SentRetainedCount returns the number of ids in the sent retention window
func (q *Queue) SentRetainedCount() int {
	return q.sent.Size()
}

// Failed returns the terminally failed messages
func (q *Queue) Failed() []*message.Outbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*message.Outbound, 0, len(q.failed))
	for _, msg := range q.failed {
		out = append(out, msg)
	}
	return out
}

// ClearFailed drops the failed set and returns how many were dropped. A
// cleared id is free for admission again.
func (q *Queue) ClearFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.failed)
	q.failed = make(map[string]*message.Outbound)
	return n
}

// SweepExpiredSent removes sent ids older than the retention window and
// returns how many were removed
func (q *Queue) SweepExpiredSent() int {
	removed := q.sent.SweepOlderThan(q.retention)
	if removed > 0 {
		q.logger.Debug("swept expired sent ids", "removed", removed)
	}
	if q.metrics != nil {
		q.metrics.SentRetained.Set(float64(q.sent.Size()))
	}
	return removed
}

// Clear drops every tracked message and retained id
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = make(map[string]*message.Outbound)
	q.order = nil
	q.failed = make(map[string]*message.Outbound)
	q.sent.Clear()
	q.updateGaugesLocked()
	q.mu.Unlock()
	q.logger.Info("outbound queue cleared")
}

// Close releases the retention cache resources
func (q *Queue) Close() {
	q.sent.Close()
}

func (q *Queue) removeFromOrderLocked(clientTempID string) {
	for i, id := range q.order {
		if id == clientTempID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

func (q *Queue) updateGaugesLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.PendingDepth.Set(float64(len(q.pending)))
	q.metrics.SentRetained.Set(float64(q.sent.Size()))
}
