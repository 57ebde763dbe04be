package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Logger receives handler failures. logging.Logger and *slog.Logger both
// satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. It runs on a paho goroutine;
// a returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// connState is the lifecycle of one Client. A Client never returns to
// stateOpen once it leaves it.
type connState int

const (
	stateOpen connState = iota
	stateLost
	stateClosed
)

// Client is one broker session. It is not reused: after Close or a lost
// connection the caller dials a new Client.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	opts   Options

	mu    sync.RWMutex
	state connState
	// live is false for a zero Client, which behaves as disconnected.
	live bool
}

// Connect makes exactly one connection attempt, bounded by
// opts.ConnectTimeout and ctx.
//
// Returns:
//   - *Client: connected and ready to subscribe
//   - error: *RefusedError when the broker answered with a non-zero return
//     code, ErrConnectionFailed for network failures and timeouts
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrConnectionFailed)
	}

	c := &Client{opts: opts}
	po := buildClientOptions(opts)
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	c.client = pahomqtt.NewClient(po)

	timeout := opts.connectTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-timer.C:
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, timeout)
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	if err := token.Error(); err != nil {
		if code := connackCode(token); code > 0 && code <= maxBrokerReturnCode {
			return nil, &RefusedError{Code: code, Err: err}
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.live = true
	c.mu.Unlock()
	return c, nil
}

// connackCode returns the broker's CONNACK return code, or 0 when the token
// carries none.
func connackCode(token pahomqtt.Token) byte {
	ct, ok := token.(*pahomqtt.ConnectToken)
	if !ok {
		return 0
	}
	return ct.ReturnCode()
}

// lost runs on the paho goroutine that noticed the dropped connection.
func (c *Client) lost(err error) {
	c.mu.Lock()
	notify := c.live && c.state == stateOpen
	if c.state == stateOpen {
		c.state = stateLost
	}
	c.mu.Unlock()

	if notify && c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(err)
	}
}

// Close disconnects, giving in-flight messages a short quiesce period.
// It is idempotent and never reports OnConnectionLost.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	already := c.state == stateClosed
	c.state = stateClosed
	c.mu.Unlock()

	if !already {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}
	return nil
}

// IsConnected reports whether the session is open and paho agrees.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	open := c.live && c.state == stateOpen
	c.mu.RUnlock()
	return open && c.client.IsConnected()
}

// HealthCheck returns ErrNotConnected once the session has ended.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// wrapHandler adapts handler to paho, recovering panics so a bad payload
// cannot take down paho's router goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				if l := c.opts.Logger; l != nil {
					l.Error("mqtt handler panicked", "topic", topic, "panic", r)
				}
			}
		}()

		if err := handler(topic, msg.Payload()); err != nil {
			if l := c.opts.Logger; l != nil {
				l.Warn("mqtt handler failed", "topic", topic, "error", err)
			}
		}
	}
}
