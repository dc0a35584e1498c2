// Package delivery composes the transport, the connection state machine,
// and the outbound queue into the chat client's delivery coordinator. It
// owns the retry schedule, flushes queued messages when the connection
// recovers, and fans delivery outcomes out to typed observers.
package delivery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vzorr/chat-test-client-sub001/config"
	"github.com/vzorr/chat-test-client-sub001/connstate"
	"github.com/vzorr/chat-test-client-sub001/errors"
	"github.com/vzorr/chat-test-client-sub001/event"
	"github.com/vzorr/chat-test-client-sub001/message"
	"github.com/vzorr/chat-test-client-sub001/metric"
	"github.com/vzorr/chat-test-client-sub001/outbound"
	"github.com/vzorr/chat-test-client-sub001/pkg/retry"
	"github.com/vzorr/chat-test-client-sub001/pkg/schedule"
	"github.com/vzorr/chat-test-client-sub001/transport"
)

// Transport is the connection surface the coordinator drives. It is
// satisfied by *transport.Conn.
type Transport interface {
	Connect(ctx context.Context, id transport.Identity) error
	Disconnect()
	Close()
	IsConnected() bool
	Send(ctx context.Context, msg *message.Outbound) (message.Ack, error)
	SendTyping(conversationID string, typing bool) error
	JoinConversation(conversationID string) (func(), error)
	OnConnectionLost(fn func(error)) func()
	OnReconnecting(fn func(attempt int)) func()
	OnReconnected(fn func(attempt int)) func()
	OnClosed(fn func()) func()
	OnNewMessage(fn func(message.Inbound)) func()
	OnSendError(fn func(message.SendError)) func()
	OnTyping(fn func(message.Typing)) func()
	OnPresence(fn func(message.Presence)) func()
}

// QueueStatus is a snapshot of the outbound queue
type QueueStatus struct {
	Pending  int                 `json:"pending"`
	Messages []*message.Outbound `json:"messages"`
}

// Status is a point-in-time snapshot of the coordinator
type Status struct {
	State        connstate.State `json:"state"`
	Pending      int             `json:"pending"`
	Failed       int             `json:"failed"`
	SentRetained int             `json:"sent_retained"`
}

// Client is the delivery coordinator. Create one with New, connect it with
// Connect, and release it with Dispose. All methods are safe for concurrent
// use.
type Client struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.Metrics

	tr     Transport
	state  *connstate.Machine
	queue  *outbound.Queue
	sched  *schedule.Scheduler
	resend retry.Config

	sent     *event.Hub[message.Ack]
	sendErrs *event.Hub[message.SendError]
	failed   *event.Hub[*message.Outbound]

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	identity       transport.Identity
	inflight       map[string]struct{} // ids with a transmission in flight
	connecting     int                 // explicit Connect calls in flight
	userDisconnect bool
	disposed       bool

	disposers []func()
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTransport replaces the NATS transport, mainly for tests
func WithTransport(tr Transport) Option {
	return func(c *Client) { c.tr = tr }
}

// New creates a delivery coordinator from the given configuration
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "New", "nil configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		logger:   slog.Default(),
		resend:   retry.Resend(cfg.Delivery.MaxSendRetries, cfg.Delivery.RetryDelay.Std()),
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "delivery")

	c.state = connstate.New(c.logger)
	c.sched = schedule.New()
	c.sent = event.NewHub[message.Ack](c.logger)
	c.sendErrs = event.NewHub[message.SendError](c.logger)
	c.failed = event.NewHub[*message.Outbound](c.logger)
	c.queue = outbound.New(
		cfg.Delivery.MaxSendRetries,
		cfg.Delivery.SentRetention.Std(),
		outbound.WithLogger(c.logger),
		outbound.WithMetrics(c.metrics),
		outbound.WithOnFailed(func(msg *message.Outbound) {
			c.sched.Cancel(resendKey(msg.ClientTempID))
			c.failed.Publish(msg)
		}),
	)

	if c.tr == nil {
		tr, err := transport.New(cfg.Transport,
			transport.WithLogger(c.logger),
			transport.WithMetrics(c.metrics))
		if err != nil {
			cancel()
			return nil, err
		}
		c.tr = tr
	}

	c.wire()
	c.scheduleSweep()
	return c, nil
}

// wire hooks transport lifecycle and server events into the state machine
// and the queue
func (c *Client) wire() {
	c.disposers = append(c.disposers,
		c.tr.OnConnectionLost(func(err error) {
			c.state.To(connstate.Reconnecting)
		}),
		c.tr.OnReconnecting(func(attempt int) {
			c.state.To(connstate.Reconnecting)
		}),
		c.tr.OnReconnected(func(attempt int) {
			c.state.To(connstate.Connected)
		}),
		c.tr.OnClosed(func() {
			c.mu.Lock()
			user := c.userDisconnect
			busy := c.connecting > 0
			c.mu.Unlock()
			if busy {
				return // teardown of a replaced connection mid-Connect
			}
			if user {
				c.state.To(connstate.Disconnected)
				return
			}
			if c.state.To(connstate.Errored) {
				c.logger.Error("reconnection attempts exhausted")
			}
		}),
		c.tr.OnSendError(func(se message.SendError) {
			c.handleServerSendError(se)
		}),
		c.state.OnChange(func(ch connstate.Change) {
			if c.metrics != nil {
				c.metrics.ConnectionState.Set(float64(ch.To))
			}
			if ch.To == connstate.Connected {
				c.flushPending()
			}
		}),
	)
}

// Connect establishes the transport for the given user credentials. A
// successful connect flushes any messages queued while offline.
func (c *Client) Connect(ctx context.Context, userID, token string) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return errors.WrapFatal(errors.ErrDisposed, "Client", "Connect", "coordinator disposed")
	}
	c.userDisconnect = false
	prev := c.identity
	c.identity = transport.Identity{UserID: userID, Token: token}
	id := c.identity
	c.connecting++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connecting--
		c.mu.Unlock()
	}()

	if prev == id && c.state.Is(connstate.Connected) && c.tr.IsConnected() {
		return nil
	}
	if !c.state.To(connstate.Connecting) {
		// Connected and Reconnecting reach Connecting through Disconnected.
		c.state.To(connstate.Disconnected)
		c.state.To(connstate.Connecting)
	}

	if err := c.tr.Connect(ctx, id); err != nil {
		c.state.To(connstate.Errored)
		return err
	}
	c.state.To(connstate.Connected)
	return nil
}

// Disconnect tears the transport down. Pending messages stay queued and are
// flushed on the next successful connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.userDisconnect = true
	c.mu.Unlock()

	c.cancelResends()
	c.tr.Disconnect()
	c.state.To(connstate.Disconnected)
}

// IsConnected reports whether the transport is currently usable
func (c *Client) IsConnected() bool {
	return c.tr.IsConnected()
}

// ConnectionState returns the current connection state
func (c *Client) ConnectionState() connstate.State {
	return c.state.Current()
}

// Send queues a message for delivery and, when connected, transmits it
// immediately. While disconnected the message stays queued if the offline
// queue is enabled, otherwise Send fails. Duplicate client temp ids are
// refused.
func (c *Client) Send(msg *message.Outbound) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return errors.WrapFatal(errors.ErrDisposed, "Client", "Send", "coordinator disposed")
	}
	c.mu.Unlock()

	connected := c.tr.IsConnected()
	if !connected && !c.cfg.Delivery.OfflineQueue {
		return errors.WrapTransient(errors.ErrNotConnected, "Client", "Send", "offline queue disabled")
	}

	if err := c.queue.Admit(msg); err != nil {
		return err
	}
	if connected {
		go c.transmit(msg)
	} else {
		c.logger.Info("message queued while offline",
			"client_temp_id", msg.ClientTempID,
			"pending", c.queue.PendingCount())
	}
	return nil
}

// transmit performs one delivery attempt and routes the outcome into the
// queue. At most one attempt per client temp id is in flight at a time; a
// second caller for the same id returns immediately and leaves the outcome
// to the attempt that is already running.
func (c *Client) transmit(msg *message.Outbound) {
	if !c.beginTransmit(msg.ClientTempID) {
		return
	}
	defer c.endTransmit(msg.ClientTempID)
	c.sched.Cancel(resendKey(msg.ClientTempID))

	ack, err := c.tr.Send(c.ctx, msg)
	if err != nil {
		if c.ctx.Err() != nil {
			return // disposed mid-flight, outcome no longer matters
		}
		c.handleSendFailure(msg.ClientTempID, err.Error(), errors.IsTransient(err))
		return
	}
	if !ack.OK {
		c.handleSendFailure(msg.ClientTempID, ack.Error, ack.Retryable)
		return
	}
	if c.queue.MarkSent(ack.ClientTempID, ack) {
		c.sent.Publish(ack)
	}
}

func (c *Client) beginTransmit(clientTempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[clientTempID]; busy {
		return false
	}
	c.inflight[clientTempID] = struct{}{}
	return true
}

func (c *Client) endTransmit(clientTempID string) {
	c.mu.Lock()
	delete(c.inflight, clientTempID)
	c.mu.Unlock()
}

// handleServerSendError routes an out-of-band failure report from the
// server. Reports for an id with a transmission in flight are dropped; that
// attempt owns the outcome.
func (c *Client) handleServerSendError(se message.SendError) {
	c.mu.Lock()
	_, busy := c.inflight[se.ClientTempID]
	c.mu.Unlock()
	if busy {
		return
	}
	c.handleSendFailure(se.ClientTempID, se.Error, se.Retryable)
}

// handleSendFailure records the failed attempt and schedules a resend when
// the retry budget allows. Observers hear only the final outcome: terminal
// failures are published to the send-error hub here and to the failed hub by
// the queue's failure callback, intermediate attempts stay internal.
func (c *Client) handleSendFailure(clientTempID, reason string, retryable bool) {
	if !c.queue.IsPending(clientTempID) {
		return // already confirmed or failed; late reports are ignored
	}
	attempt, retrying := c.queue.MarkFailed(clientTempID, reason, retryable)
	if !retrying {
		c.sendErrs.Publish(message.SendError{
			ClientTempID: clientTempID,
			Error:        reason,
			Retryable:    false,
		})
		return
	}
	c.sched.After(resendKey(clientTempID), c.resend.Delay(attempt-1), func() {
		if c.ctx.Err() != nil {
			return
		}
		if !c.tr.IsConnected() {
			// Stays pending; the recovery flush picks it up.
			return
		}
		for _, msg := range c.queue.Pending() {
			if msg.ClientTempID == clientTempID {
				c.transmit(msg)
				return
			}
		}
	})
}

// flushPending retransmits every queued message in admission order. It runs
// once per transition into the connected state.
func (c *Client) flushPending() {
	pending := c.queue.Pending()
	if len(pending) == 0 {
		return
	}
	c.logger.Info("flushing queued messages", "count", len(pending))
	go func() {
		for _, msg := range pending {
			if c.ctx.Err() != nil || !c.tr.IsConnected() {
				return
			}
			c.transmit(msg)
		}
	}()
}

// scheduleSweep keeps the sent retention window tidy on a fixed cadence
func (c *Client) scheduleSweep() {
	interval := c.cfg.Delivery.SweepInterval.Std()
	if interval <= 0 {
		return
	}
	c.sched.After("sweep-sent", interval, func() {
		c.queue.SweepExpiredSent()
		c.scheduleSweep()
	})
}

func (c *Client) cancelResends() {
	for _, msg := range c.queue.Pending() {
		c.sched.Cancel(resendKey(msg.ClientTempID))
	}
}

// SendTyping publishes a typing indicator for a conversation
func (c *Client) SendTyping(conversationID string, typing bool) error {
	return c.tr.SendTyping(conversationID, typing)
}

// JoinConversation subscribes to a conversation's typing indicators and
// returns a leave function
func (c *Client) JoinConversation(conversationID string) (func(), error) {
	return c.tr.JoinConversation(conversationID)
}

// OnConnectionStateChange registers an observer for connection state
// transitions. The returned disposer removes it.
func (c *Client) OnConnectionStateChange(fn func(connstate.Change)) func() {
	return c.state.OnChange(fn)
}

// OnMessageSent registers an observer for confirmed deliveries
func (c *Client) OnMessageSent(fn func(message.Ack)) func() {
	return c.sent.Subscribe(fn)
}

// OnMessageSendError registers an observer for deliveries that failed
// terminally. Attempts that are still being retried are not reported.
func (c *Client) OnMessageSendError(fn func(message.SendError)) func() {
	return c.sendErrs.Subscribe(fn)
}

// OnMessageFailed registers an observer for terminally failed messages
func (c *Client) OnMessageFailed(fn func(*message.Outbound)) func() {
	return c.failed.Subscribe(fn)
}

// OnNewMessage registers an observer for inbound chat messages
func (c *Client) OnNewMessage(fn func(message.Inbound)) func() {
	return c.tr.OnNewMessage(fn)
}

// OnTyping registers an observer for typing indicators
func (c *Client) OnTyping(fn func(message.Typing)) func() {
	return c.tr.OnTyping(fn)
}

// OnPresence registers an observer for presence updates
func (c *Client) OnPresence(fn func(message.Presence)) func() {
	return c.tr.OnPresence(fn)
}

// Status returns a snapshot of the coordinator's state and queue depths
func (c *Client) Status() Status {
	return Status{
		State:        c.state.Current(),
		Pending:      c.queue.PendingCount(),
		Failed:       len(c.queue.Failed()),
		SentRetained: c.queue.SentRetainedCount(),
	}
}

// QueueStatus returns the queued messages and their count
func (c *Client) QueueStatus() QueueStatus {
	msgs := c.queue.Pending()
	return QueueStatus{Pending: len(msgs), Messages: msgs}
}

// Pending returns the messages queued or awaiting acknowledgment
func (c *Client) Pending() []*message.Outbound {
	return c.queue.Pending()
}

// Failed returns the terminally failed messages
func (c *Client) Failed() []*message.Outbound {
	return c.queue.Failed()
}

// ClearFailed drops the terminally failed messages
func (c *Client) ClearFailed() int {
	return c.queue.ClearFailed()
}

// Dispose permanently releases the coordinator: in-flight sends are
// abandoned, timers cancelled, observers dropped, and the transport closed.
// It is idempotent.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.userDisconnect = true
	c.mu.Unlock()

	c.cancel()
	c.sched.Close()
	for _, dispose := range c.disposers {
		dispose()
	}
	c.tr.Close()
	c.queue.Close()
	c.sent.Clear()
	c.sendErrs.Clear()
	c.failed.Clear()
	c.state.To(connstate.Disconnected)
	c.logger.Info("delivery coordinator disposed")
}

func resendKey(clientTempID string) string {
	return "resend:" + clientTempID
}
