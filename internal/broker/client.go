package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// Reconnect backoff bounds.
const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	URL             string
	EventsExchange  string
	UpdatesExchange string
	// UpdatesTTL is the max age of messages in the updates stream. Zero
	// keeps them until the stream limits evict them.
	UpdatesTTL time.Duration
	Logger     *slog.Logger
}

// Client publishes to NATS JetStream. It owns one connection and replaces it
// only through its reconnect routine. The client does not use the NATS
// library's built-in reconnect: on close it tears its handles down and runs
// its own backoff loop so publish calls fail fast while disconnected.
type Client struct {
	cfg    Config
	log    *slog.Logger
	tracer trace.Tracer

	// Injectable for tests.
	dial  func(ctx context.Context) (*nats.Conn, jetstream.JetStream, error)
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	nc           *nats.Conn
	js           jetstream.JetStream
	disabled     bool
	closed       bool
	reconnecting bool

	stopCtx context.Context
	stop    context.CancelFunc
	loops   sync.WaitGroup
}

// Compile-time check that Client implements Publisher.
var _ Publisher = (*Client)(nil)

// NewClient returns an unconnected client. Call Connect before publishing.
func NewClient(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		log:    log.With("component", "broker"),
		tracer: otel.Tracer("github.com/alfredjeanlab/chatd/internal/broker"),
		sleep:  sleepCtx,
	}
	c.dial = c.dialNATS
	c.stopCtx, c.stop = context.WithCancel(context.Background())
	return c
}

// Connect establishes the connection and declares both exchanges. If the
// broker is unreachable the client disables itself: the failure is logged
// once, publishes return ErrDisabled, and only Reconnect can enable it.
func (c *Client) Connect(ctx context.Context) error {
	nc, js, err := c.dial(ctx)
	c.mu.Lock()
	if err != nil {
		c.disabled = true
		c.mu.Unlock()
		c.log.Warn("broker unreachable, publishing disabled", "url", c.cfg.URL, "error", err)
		return fmt.Errorf("%w: %v", ErrDisabled, err)
	}
	live := c.install(nc, js)
	c.mu.Unlock()

	if !live {
		c.log.Warn("broker connection closed during connect", "url", c.cfg.URL)
		c.scheduleReconnect()
		return nil
	}
	c.log.Info("broker connected", "url", c.cfg.URL)
	return nil
}

// Reconnect dials a fresh connection and swaps it in, closing the previous
// one. It is the only way to re-enable a disabled client. On failure the
// current connection, if any, is kept; a client left without one falls back
// to the automatic reconnect loop.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("broker: client closed")
	}

	nc, js, err := c.dial(ctx)
	if err != nil {
		c.scheduleReconnect()
		return fmt.Errorf("reconnect: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		nc.Close()
		return errors.New("broker: client closed")
	}
	old := c.teardown()
	c.disabled = false
	live := c.install(nc, js)
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	if !live {
		c.scheduleReconnect()
		return fmt.Errorf("reconnect: %w", ErrNotConnected)
	}
	c.log.Info("broker reconnected", "url", c.cfg.URL)
	return nil
}

// Close tears down the connection and stops any reconnect loop.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	old := c.teardown()
	c.mu.Unlock()

	c.stop()
	if old != nil {
		old.Close()
	}
	c.loops.Wait()
	return nil
}

// Connected reports whether the client currently holds a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.js != nil
}

// Disabled reports whether the client gave up at startup.
func (c *Client) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// PublishEvent publishes a raw event on the events exchange.
func (c *Client) PublishEvent(ctx context.Context, e *model.Event) error {
	return c.publish(ctx, Subject(c.cfg.EventsExchange, EventRoutingKey(e)), e.EventID, e)
}

// PublishUpdate publishes an update, stripped of its internal id, on the
// updates exchange.
func (c *Client) PublishUpdate(ctx context.Context, u *model.Update) error {
	return c.publish(ctx, Subject(c.cfg.UpdatesExchange, UpdateRoutingKey(u)), u.Key(), u.Envelope())
}

func (c *Client) publish(ctx context.Context, subject, msgID string, v any) error {
	c.mu.Lock()
	js, disabled := c.js, c.disabled
	c.mu.Unlock()
	if disabled {
		return ErrDisabled
	}
	if js == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "broker.publish", trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", subject),
			attribute.String("messaging.message.id", msgID),
		))
	defer span.End()

	// The message id lets JetStream drop duplicates of a retried publish.
	if _, err := js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// install stores fresh handles and reports whether it did. A connection that
// closed before it could be installed is dropped: its close handler already
// ran and ignored it. Caller holds c.mu.
func (c *Client) install(nc *nats.Conn, js jetstream.JetStream) bool {
	if nc.IsClosed() {
		return false
	}
	c.nc, c.js = nc, js
	return true
}

// teardown drops the handles and returns the old connection for the caller
// to close outside the lock. Caller holds c.mu.
func (c *Client) teardown() *nats.Conn {
	old := c.nc
	c.nc, c.js = nil, nil
	return old
}

// onClosed runs when a connection closes. Closes of connections the client
// already let go of (explicit Close, Reconnect) are ignored.
func (c *Client) onClosed(nc *nats.Conn) {
	c.mu.Lock()
	if c.closed || c.nc != nc {
		c.mu.Unlock()
		return
	}
	c.teardown()
	c.mu.Unlock()

	c.log.Warn("broker connection lost", "url", c.cfg.URL, "error", nc.LastError())
	c.scheduleReconnect()
}

// scheduleReconnect starts the reconnect loop unless one is already running.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnecting || c.closed || c.disabled || c.js != nil {
		return
	}
	c.reconnecting = true
	c.loops.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop retries indefinitely. Each failed attempt is followed by a
// delay starting at 1s and doubling up to 30s.
func (c *Client) reconnectLoop() {
	defer c.loops.Done()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		done := c.closed || c.js != nil // closed, or a manual Reconnect won
		c.mu.Unlock()
		if done {
			return
		}

		nc, js, err := c.dial(c.stopCtx)
		if err == nil {
			c.mu.Lock()
			if c.closed || c.js != nil {
				c.mu.Unlock()
				nc.Close()
				return
			}
			live := c.install(nc, js)
			c.mu.Unlock()
			if live {
				c.log.Info("broker reconnected", "url", c.cfg.URL, "attempts", attempt+1)
				return
			}
			err = ErrNotConnected
		}

		delay := backoff(attempt)
		c.log.Warn("broker reconnect failed", "attempt", attempt+1, "retry_in", delay, "error", err)
		if err := c.sleep(c.stopCtx, delay); err != nil {
			return
		}
	}
}

// backoff returns the delay after the given zero-based failed attempt.
func backoff(attempt int) time.Duration {
	d := initialBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// dialNATS opens a connection with NATS reconnects disabled and declares the
// two streams.
func (c *Client) dialNATS(ctx context.Context) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(c.cfg.URL,
		nats.Name("chatd"),
		nats.NoReconnect(),
		nats.ClosedHandler(c.onClosed),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to NATS at %s: %w", c.cfg.URL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := c.declareExchanges(ctx, js); err != nil {
		nc.Close()
		return nil, nil, err
	}
	return nc, js, nil
}

// declareExchanges creates or updates one stream per exchange. No consumers
// are declared here; subscribers bind their own.
func (c *Client) declareExchanges(ctx context.Context, js jetstream.JetStream) error {
	for _, sc := range []jetstream.StreamConfig{
		{
			Name:     StreamName(c.cfg.EventsExchange),
			Subjects: []string{c.cfg.EventsExchange + ".>"},
			Storage:  jetstream.FileStorage,
		},
		{
			Name:     StreamName(c.cfg.UpdatesExchange),
			Subjects: []string{c.cfg.UpdatesExchange + ".>"},
			Storage:  jetstream.FileStorage,
			MaxAge:   c.cfg.UpdatesTTL,
		},
	} {
		if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("declaring stream %s: %w", sc.Name, err)
		}
	}
	return nil
}
