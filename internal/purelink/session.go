package purelink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/purelink-bridge/internal/infrastructure/mqtt"
)

// Session defaults.
const (
	defaultEventBuffer       = 32
	defaultDisconnectTimeout = 5 * time.Second
	defaultClientIDPrefix    = "purelink"

	// statusQoS is the subscription QoS for the status topic.
	statusQoS = 0
)

// SessionState is the transport-level state of a Session.
type SessionState int32

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
	SessionAwaitingResponse
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionAwaitingResponse:
		return "awaiting_response"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Live reports whether the session has a working connection.
func (s SessionState) Live() bool {
	return s == SessionConnected || s == SessionAwaitingResponse
}

// EventKind classifies a transport event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one transport event. Payload carries the raw bytes of a message
// event; Err explains a disconnect.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	Err     error
}

// Transport is a connected broker client.
// *mqtt.Client satisfies it.
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
	Close() error
}

// Dialer opens a Transport.
type Dialer func(ctx context.Context, opts mqtt.Options) (Transport, error)

// DialMQTT is the default Dialer, backed by paho.
func DialMQTT(ctx context.Context, opts mqtt.Options) (Transport, error) {
	client, err := mqtt.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Config ConnectionConfig

	// ClientIDPrefix is combined with a random suffix per connection.
	ClientIDPrefix    string
	KeepAlive         time.Duration
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	TLS               bool

	// EventBuffer bounds the event channel. Events that do not fit are
	// dropped and counted.
	EventBuffer int

	Dialer Dialer
	Logger Logger
}

// Session owns one connection to the device broker.
//
// It logs in with the serial number and derived credential, subscribes to
// the status topic and forwards raw transport events on Events(). It never
// decodes payloads and never reconnects on its own.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	cfg        ConnectionConfig
	credential Credential
	topics     Topics
	opts       SessionOptions
	dial       Dialer
	logger     Logger

	// mu serialises Connect and Disconnect and guards transport/generation.
	mu         sync.Mutex
	transport  Transport
	generation uint64

	state   atomic.Int32
	events  chan Event
	dropped atomic.Uint64
}

// NewSession validates the connection config and derives the credential.
// The session starts disconnected.
func NewSession(opts SessionOptions) (*Session, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.ClientIDPrefix == "" {
		opts.ClientIDPrefix = defaultClientIDPrefix
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = defaultDisconnectTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	dial := opts.Dialer
	if dial == nil {
		dial = DialMQTT
	}

	return &Session{
		cfg:        opts.Config,
		credential: DeriveCredential(opts.Config.Password),
		topics:     opts.Config.Topics(),
		opts:       opts,
		dial:       dial,
		logger:     loggerOrNop(opts.Logger),
		events:     make(chan Event, opts.EventBuffer),
	}, nil
}

// Connect makes one attempt to open the session and subscribe to the status
// topic. It is a no-op when the session is already live.
//
// Returns:
//   - error: *ConnectionError if the device returned a non-zero CONNACK code,
//     ErrConnectionFailure if it could not be reached or the subscription failed
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport != nil && s.State().Live() && s.transport.IsConnected() {
		return nil
	}
	if s.transport != nil {
		s.closeTransport(s.transport)
		s.transport = nil
	}

	s.generation++
	gen := s.generation
	s.setState(SessionConnecting)

	opts := mqtt.Options{
		Host:           s.cfg.Address,
		Port:           s.cfg.Port,
		TLS:            s.opts.TLS,
		ClientID:       s.opts.ClientIDPrefix + "-" + uuid.NewString()[:8],
		Username:       s.cfg.Serial,
		Password:       string(s.credential),
		KeepAlive:      s.opts.KeepAlive,
		ConnectTimeout: s.opts.ConnectTimeout,
		OnConnectionLost: func(err error) {
			s.handleLost(gen, err)
		},
		Logger: s.logger,
	}

	s.logger.Debug("connecting to device",
		"address", s.cfg.Address,
		"port", s.cfg.Port,
		"client_id", opts.ClientID,
	)

	t, err := s.dial(ctx, opts)
	if err != nil {
		s.setState(SessionDisconnected)
		return classifyConnectError(err)
	}

	topic := s.topics.Status()
	if err := t.Subscribe(topic, statusQoS, s.handleMessage); err != nil {
		s.closeTransport(t)
		s.setState(SessionDisconnected)
		return fmt.Errorf("%w: subscribing to %s: %w", ErrConnectionFailure, topic, err)
	}

	s.transport = t
	s.setState(SessionConnected)
	s.emit(Event{Kind: EventConnected})
	s.logger.Info("connected to device", "serial", s.cfg.Serial, "status_topic", topic)
	return nil
}

func classifyConnectError(err error) error {
	var refused *mqtt.RefusedError
	if errors.As(err, &refused) {
		return &ConnectionError{Code: refused.Code}
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
}

// Publish hands payload to the broker once. A failure is returned, not
// retried. Publishing to the command topic marks the session as awaiting a
// response until Settle is called.
func (s *Session) Publish(topic string, payload []byte, qos byte) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()

	if t == nil || !s.State().Live() {
		return ErrNotConnected
	}

	if err := t.Publish(topic, payload, qos, false); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			s.handleLost(s.currentGeneration(), err)
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	if topic == s.topics.Command() {
		s.state.CompareAndSwap(int32(SessionConnected), int32(SessionAwaitingResponse))
	}
	return nil
}

// Settle clears the awaiting-response state once the caller has stopped
// waiting for a reply.
func (s *Session) Settle() {
	s.state.CompareAndSwap(int32(SessionAwaitingResponse), int32(SessionConnected))
}

// Disconnect unsubscribes and closes the session, waiting at most the
// configured disconnect timeout.
//
// Returns:
//   - error: ErrTimeout if the broker did not acknowledge in time,
//     *DisconnectionError if the unsubscribe failed
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.transport
	s.transport = nil
	s.generation++
	if t == nil {
		s.setState(SessionDisconnected)
		return nil
	}

	done := make(chan error, 1)
	go func() {
		err := t.Unsubscribe(s.topics.Status())
		t.Close()
		done <- err
	}()

	timer := time.NewTimer(s.opts.DisconnectTimeout)
	defer timer.Stop()

	var result error
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			result = &DisconnectionError{Err: err}
		}
	case <-timer.C:
		result = fmt.Errorf("%w: disconnect not acknowledged within %v", ErrTimeout, s.opts.DisconnectTimeout)
	case <-ctx.Done():
		result = fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}

	s.setState(SessionDisconnected)
	s.emit(Event{Kind: EventDisconnected, Err: result})
	s.logger.Info("disconnected from device", "serial", s.cfg.Serial)
	return result
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Events returns the transport event stream. The channel is never closed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Topics returns the device topics this session uses.
func (s *Session) Topics() Topics {
	return s.topics
}

// Dropped returns how many events were discarded because the event buffer
// was full.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

func (s *Session) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// handleMessage runs on a paho goroutine. It must not block.
func (s *Session) handleMessage(topic string, payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.emit(Event{Kind: EventMessage, Topic: topic, Payload: buf})
	return nil
}

// handleLost marks the session dead after a dropped connection. Callbacks
// from a connection that has since been replaced are ignored.
func (s *Session) handleLost(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.generation || s.transport == nil {
		s.mu.Unlock()
		return
	}
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	go s.closeTransport(t)

	s.setState(SessionDisconnected)
	s.emit(Event{Kind: EventDisconnected, Err: &DisconnectionError{Err: err}})
	s.logger.Warn("device connection lost", "serial", s.cfg.Serial, "error", err)
}

func (s *Session) closeTransport(t Transport) {
	if err := t.Close(); err != nil {
		s.logger.Debug("closing transport", "error", err)
	}
}

// emit delivers ev without blocking; a full buffer drops the event.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		n := s.dropped.Add(1)
		s.logger.Warn("event buffer full, dropping event", "kind", ev.Kind.String(), "dropped_total", n)
	}
}
