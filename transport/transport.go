// Package transport wraps the NATS connection behind a reconnect-aware,
// identity-scoped chat transport. It owns the server subscriptions for one
// authenticated user, converts wire payloads into typed events, and exposes
// request/reply message transmission with a bounded acknowledgment wait.
package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vzorr/chat-test-client-sub001/config"
	"github.com/vzorr/chat-test-client-sub001/errors"
	"github.com/vzorr/chat-test-client-sub001/event"
	"github.com/vzorr/chat-test-client-sub001/message"
	"github.com/vzorr/chat-test-client-sub001/metric"
	"github.com/vzorr/chat-test-client-sub001/pkg/retry"
)

// Identity is the credential pair a connection is established for. Two
// identities are the same connection target only when both fields match.
type Identity struct {
	UserID string
	Token  string
}

// Conn manages a single NATS connection for one identity. It is safe for
// concurrent use. Reconnection is delegated to the NATS client library; Conn
// surfaces the lifecycle as typed events.
type Conn struct {
	cfg     config.TransportConfig
	logger  *slog.Logger
	metrics *metric.Metrics

	mu         sync.Mutex
	nc         *nats.Conn
	identity   Identity
	subs       []*nats.Subscription
	connecting chan struct{} // non-nil while an attempt is in flight
	connectErr error
	attempts   int // reconnect attempts since the last drop
	closed     bool

	// Lifecycle events
	lost         *event.Hub[error]
	reconnecting *event.Hub[int]
	reconnected  *event.Hub[int]
	closedHub    *event.Hub[struct{}]

	// Domain events
	inbound    *event.Hub[message.Inbound]
	sendErrors *event.Hub[message.SendError]
	typing     *event.Hub[message.Typing]
	presence   *event.Hub[message.Presence]
}

// Option configures a Conn
type Option func(*Conn)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger.With("component", "transport")
		}
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Conn) { c.metrics = m }
}

// New creates a Conn for the given transport configuration
func New(cfg config.TransportConfig, opts ...Option) (*Conn, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Conn", "New", "transport url required")
	}
	if cfg.ConnectTimeout.Std() <= 0 {
		cfg.ConnectTimeout = config.Duration(15 * time.Second)
	}
	if cfg.AckTimeout.Std() <= 0 {
		cfg.AckTimeout = config.Duration(10 * time.Second)
	}
	logger := slog.Default()
	c := &Conn{
		cfg:    cfg,
		logger: logger.With("component", "transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lost = event.NewHub[error](c.logger)
	c.reconnecting = event.NewHub[int](c.logger)
	c.reconnected = event.NewHub[int](c.logger)
	c.closedHub = event.NewHub[struct{}](c.logger)
	c.inbound = event.NewHub[message.Inbound](c.logger)
	c.sendErrors = event.NewHub[message.SendError](c.logger)
	c.typing = event.NewHub[message.Typing](c.logger)
	c.presence = event.NewHub[message.Presence](c.logger)
	return c, nil
}

// Connect establishes a connection for the given identity, bounded by the
// configured connect timeout and the context. A call that arrives while an
// attempt for the same identity is in flight waits for that attempt instead
// of starting a second one. Connecting as a different identity tears down
// the existing connection first.
func (c *Conn) Connect(ctx context.Context, id Identity) error {
	if id.UserID == "" || id.Token == "" {
		return errors.WrapInvalid(errors.ErrMissingToken, "Conn", "Connect", "user id and token required")
	}

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return errors.WrapFatal(errors.ErrDisposed, "Conn", "Connect", "transport closed")
		}
		if ch := c.connecting; ch != nil {
			sameIdentity := c.identity == id
			c.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return errors.WrapTransient(ctx.Err(), "Conn", "Connect", "wait for in-flight attempt")
			}
			if sameIdentity {
				c.mu.Lock()
				err := c.connectErr
				connected := c.nc != nil && c.nc.IsConnected()
				c.mu.Unlock()
				if connected {
					return nil
				}
				return err
			}
			continue // in-flight attempt settled, retake the lock
		}
		if c.nc != nil {
			if c.identity == id && c.nc.IsConnected() {
				c.mu.Unlock()
				return nil
			}
			// Different identity, or a dead connection: tear down first.
			c.teardownLocked()
		}
		c.identity = id
		ch := make(chan struct{})
		c.connecting = ch
		c.mu.Unlock()

		err := c.dial(ctx, id)

		c.mu.Lock()
		c.connectErr = err
		c.connecting = nil
		close(ch)
		c.mu.Unlock()
		return err
	}
}

func (c *Conn) dial(ctx context.Context, id Identity) error {
	c.logger.Info("connecting", "url", c.cfg.URL, "user_id", id.UserID)

	type dialResult struct {
		nc  *nats.Conn
		err error
	}
	done := make(chan dialResult, 1)
	go func() {
		nc, err := nats.Connect(c.cfg.URL, c.connectionOptions(id)...)
		done <- dialResult{nc: nc, err: err}
	}()

	timer := time.NewTimer(c.cfg.ConnectTimeout.Std())
	defer timer.Stop()

	var nc *nats.Conn
	select {
	case res := <-done:
		if res.err != nil {
			if c.metrics != nil {
				c.metrics.ConnectFailures.Inc()
			}
			if stderrors.Is(res.err, nats.ErrAuthorization) {
				return errors.WrapFatal(errors.ErrAuthFailed, "Conn", "Connect", res.err.Error())
			}
			return errors.WrapTransient(res.err, "Conn", "Connect", "establish connection")
		}
		nc = res.nc
	case <-timer.C:
		go func() {
			if res := <-done; res.nc != nil {
				res.nc.Close()
			}
		}()
		if c.metrics != nil {
			c.metrics.ConnectFailures.Inc()
		}
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Conn", "Connect", "handshake timed out")
	case <-ctx.Done():
		go func() {
			if res := <-done; res.nc != nil {
				res.nc.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Conn", "Connect", "connection cancelled")
	}

	subs, err := c.subscribe(nc, id)
	if err != nil {
		nc.Close()
		return err
	}

	c.mu.Lock()
	c.nc = nc
	c.subs = subs
	c.mu.Unlock()

	c.logger.Info("connected", "url", nc.ConnectedUrl(), "user_id", id.UserID)
	return nil
}

// connectionOptions maps the transport configuration onto NATS options.
// Reconnect delay follows a capped exponential backoff with jitter.
func (c *Conn) connectionOptions(id Identity) []nats.Option {
	policy := retry.Reconnect(c.cfg.MaxReconnects, c.cfg.ReconnectWait.Std(), c.cfg.ReconnectMax.Std())

	opts := []nats.Option{
		nats.Name(c.cfg.ClientName),
		nats.Token(id.Token),
		nats.Timeout(c.cfg.ConnectTimeout.Std()),
		nats.CustomReconnectDelay(func(attempt int) time.Duration {
			return c.reconnectDelay(policy, attempt)
		}),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
	}
	if c.cfg.Reconnection {
		opts = append(opts, nats.MaxReconnects(c.cfg.MaxReconnects))
	} else {
		opts = append(opts, nats.NoReconnect())
	}
	return opts
}

// reconnectDelay records the attempt number, surfaces it as a reconnecting
// event, and returns the backoff before that attempt. Attempts count from 1
// and reset once a reconnect succeeds.
func (c *Conn) reconnectDelay(policy retry.Config, attempt int) time.Duration {
	c.mu.Lock()
	c.attempts = attempt
	c.mu.Unlock()

	c.logger.Info("reconnecting", "attempt", attempt)
	c.reconnecting.Publish(attempt)
	return policy.Delay(attempt - 1)
}

func (c *Conn) handleDisconnect(_ *nats.Conn, err error) {
	c.logger.Warn("connection lost", "error", err)
	c.lost.Publish(err)
}

func (c *Conn) handleReconnect(nc *nats.Conn) {
	c.mu.Lock()
	attempt := c.attempts
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("reconnected", "url", nc.ConnectedUrl(), "attempt", attempt)
	if c.metrics != nil {
		c.metrics.Reconnects.Inc()
	}
	c.reconnected.Publish(attempt)
}

func (c *Conn) handleClosed(_ *nats.Conn) {
	c.logger.Info("connection closed")
	c.closedHub.Publish(struct{}{})
}

// subscribe installs the per-identity server push subscriptions. The NATS
// client re-establishes them on reconnect.
func (c *Conn) subscribe(nc *nats.Conn, id Identity) ([]*nats.Subscription, error) {
	var subs []*nats.Subscription

	newMsg, err := nc.Subscribe(SubjectNewMessages(id.UserID), func(m *nats.Msg) {
		var in message.Inbound
		if err := json.Unmarshal(m.Data, &in); err != nil {
			c.logger.Warn("dropping malformed inbound message", "error", err)
			return
		}
		c.countReceived("message")
		c.inbound.Publish(in)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Conn", "subscribe", "subscribe inbound messages")
	}
	subs = append(subs, newMsg)

	sendErr, err := nc.Subscribe(SubjectSendErrors(id.UserID), func(m *nats.Msg) {
		var se message.SendError
		if err := json.Unmarshal(m.Data, &se); err != nil {
			c.logger.Warn("dropping malformed send error", "error", err)
			return
		}
		c.countReceived("send_error")
		c.sendErrors.Publish(se)
	})
	if err != nil {
		unsubscribeAll(subs)
		return nil, errors.WrapTransient(err, "Conn", "subscribe", "subscribe send errors")
	}
	subs = append(subs, sendErr)

	pres, err := nc.Subscribe(SubjectPresence, func(m *nats.Msg) {
		var p message.Presence
		if err := json.Unmarshal(m.Data, &p); err != nil {
			c.logger.Warn("dropping malformed presence update", "error", err)
			return
		}
		c.countReceived("presence")
		c.presence.Publish(p)
	})
	if err != nil {
		unsubscribeAll(subs)
		return nil, errors.WrapTransient(err, "Conn", "subscribe", "subscribe presence")
	}
	subs = append(subs, pres)

	return subs, nil
}

// JoinConversation subscribes to the typing indicators of a conversation.
// The returned leave function removes the subscription.
func (c *Conn) JoinConversation(conversationID string) (func(), error) {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "Conn", "JoinConversation", "no connection")
	}

	sub, err := nc.Subscribe(SubjectTyping(conversationID), func(m *nats.Msg) {
		var t message.Typing
		if err := json.Unmarshal(m.Data, &t); err != nil {
			c.logger.Warn("dropping malformed typing event", "error", err)
			return
		}
		c.countReceived("typing")
		c.typing.Publish(t)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Conn", "JoinConversation", "subscribe typing")
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
		})
	}, nil
}

// Send transmits a message over request/reply and waits for the server's
// acknowledgment, bounded by the acknowledgment timeout. On timeout or
// transport failure no acknowledgment is delivered and a transient error is
// returned; a reply with OK=false is returned as the acknowledgment with a
// nil error.
func (c *Conn) Send(ctx context.Context, msg *message.Outbound) (message.Ack, error) {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil || !nc.IsConnected() {
		return message.Ack{}, errors.WrapTransient(errors.ErrNotConnected, "Conn", "Send", "no connection")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return message.Ack{}, errors.WrapInvalid(err, "Conn", "Send", "encode message")
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.AckTimeout.Std())
	defer cancel()

	start := time.Now()
	reply, err := nc.RequestWithContext(reqCtx, SubjectSend, data)
	if err != nil {
		if reqCtx.Err() != nil {
			return message.Ack{}, errors.WrapTransient(errors.ErrAckTimeout, "Conn", "Send", "await acknowledgment")
		}
		return message.Ack{}, errors.WrapTransient(err, "Conn", "Send", "transmit message")
	}
	if c.metrics != nil {
		c.metrics.AckLatency.Observe(time.Since(start).Seconds())
	}

	var ack message.Ack
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return message.Ack{}, errors.WrapTransient(err, "Conn", "Send", "decode acknowledgment")
	}
	if ack.ClientTempID == "" {
		ack.ClientTempID = msg.ClientTempID
	}
	if ack.ReceivedAt.IsZero() {
		ack.ReceivedAt = time.Now()
	}
	return ack, nil
}

// SendTyping publishes a typing indicator for a conversation
func (c *Conn) SendTyping(conversationID string, typing bool) error {
	c.mu.Lock()
	nc := c.nc
	id := c.identity
	c.mu.Unlock()
	if nc == nil || !nc.IsConnected() {
		return errors.WrapTransient(errors.ErrNotConnected, "Conn", "SendTyping", "no connection")
	}

	data, err := json.Marshal(message.Typing{
		ConversationID: conversationID,
		UserID:         id.UserID,
		Typing:         typing,
	})
	if err != nil {
		return errors.WrapInvalid(err, "Conn", "SendTyping", "encode typing event")
	}
	if err := nc.Publish(SubjectTyping(conversationID), data); err != nil {
		return errors.WrapTransient(err, "Conn", "SendTyping", "publish typing event")
	}
	return nil
}

// IsConnected reports whether the transport is currently usable
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil && c.nc.IsConnected()
}

// Identity returns the identity the connection was established for
func (c *Conn) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Disconnect closes the connection. It is idempotent and leaves the Conn
// reusable for a later Connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// Close disconnects and permanently disposes the transport. Subsequent
// Connect calls fail with ErrDisposed.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.teardownLocked()
	c.mu.Unlock()

	c.lost.Clear()
	c.reconnecting.Clear()
	c.reconnected.Clear()
	c.closedHub.Clear()
	c.inbound.Clear()
	c.sendErrors.Clear()
	c.typing.Clear()
	c.presence.Clear()
}

func (c *Conn) teardownLocked() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
	}
}

// OnConnectionLost registers an observer for transport loss. The observer
// fires when an established connection drops, before any reconnect attempt.
func (c *Conn) OnConnectionLost(fn func(error)) func() {
	return c.lost.Subscribe(fn)
}

// OnReconnecting registers an observer fired before each reconnect attempt
// with the attempt number, counting from 1 since the drop
func (c *Conn) OnReconnecting(fn func(attempt int)) func() {
	return c.reconnecting.Subscribe(fn)
}

// OnReconnected registers an observer for successful reconnections. It
// receives the number of attempts the recovery took.
func (c *Conn) OnReconnected(fn func(attempt int)) func() {
	return c.reconnected.Subscribe(fn)
}

// OnClosed registers an observer for permanent connection closure, which
// happens when the reconnect budget is exhausted or the connection is torn
// down
func (c *Conn) OnClosed(fn func()) func() {
	return c.closedHub.Subscribe(func(struct{}) { fn() })
}

// OnNewMessage registers an observer for inbound chat messages
func (c *Conn) OnNewMessage(fn func(message.Inbound)) func() {
	return c.inbound.Subscribe(fn)
}

// OnSendError registers an observer for out-of-band send failures
func (c *Conn) OnSendError(fn func(message.SendError)) func() {
	return c.sendErrors.Subscribe(fn)
}

// OnTyping registers an observer for typing indicators
func (c *Conn) OnTyping(fn func(message.Typing)) func() {
	return c.typing.Subscribe(fn)
}

// OnPresence registers an observer for presence updates
func (c *Conn) OnPresence(fn func(message.Presence)) func() {
	return c.presence.Subscribe(fn)
}

func (c *Conn) countReceived(kind string) {
	if c.metrics != nil {
		c.metrics.MessagesReceived.WithLabelValues(kind).Inc()
	}
}

func unsubscribeAll(subs []*nats.Subscription) {
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}
