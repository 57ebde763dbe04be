package purelink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/purelink-bridge/internal/infrastructure/mqtt"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu           sync.Mutex
	connected    bool
	closed       bool
	handlers     map[string]mqtt.MessageHandler
	published    []mockPublish
	unsubscribed []string

	subscribeErr    error
	publishErr      error
	unsubscribeErr  error
	unsubscribeGate chan struct{}
}

type mockPublish struct {
	Topic   string
	Payload []byte
	QoS     byte
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *mockTransport) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockTransport) Unsubscribe(topic string) error {
	m.mu.Lock()
	gate := m.unsubscribeGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topic)
	delete(m.handlers, topic)
	return m.unsubscribeErr
}

func (m *mockTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos})
	return nil
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && !m.closed
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockTransport) getPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// deliver simulates the device publishing on topic.
func (m *mockTransport) deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		_ = handler(topic, payload) //nolint:errcheck // session handler never fails
	}
	return ok
}

// mockDialer hands out transports and records the options used.
type mockDialer struct {
	mu         sync.Mutex
	transports []*mockTransport
	options    []mqtt.Options
	err        error
	prepare    func(*mockTransport)
}

func (d *mockDialer) Dial(_ context.Context, opts mqtt.Options) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.options = append(d.options, opts)
	if d.err != nil {
		return nil, d.err
	}
	t := newMockTransport()
	if d.prepare != nil {
		d.prepare(t)
	}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *mockDialer) last() (*mockTransport, mqtt.Options) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1], d.options[len(d.options)-1]
}

func (d *mockDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.options)
}

func testConfig() ConnectionConfig {
	return ConnectionConfig{
		Address:    "192.0.2.10",
		Port:       1883,
		DeviceType: DeviceType475,
		Serial:     "NN2-EU-JEA3830A",
		Password:   "abcd1234",
	}
}

func newTestSession(t *testing.T, d *mockDialer) *Session {
	t.Helper()
	s, err := NewSession(SessionOptions{Config: testConfig(), Dialer: d.Dial, DisconnectTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no session event within 1s")
		return Event{}
	}
}

// ============================================================================
// Construction
// ============================================================================

func TestNewSessionValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConnectionConfig)
		want   string
	}{
		{"no address", func(c *ConnectionConfig) { c.Address = "" }, "address"},
		{"bad port", func(c *ConnectionConfig) { c.Port = 0 }, "port"},
		{"bad type", func(c *ConnectionConfig) { c.DeviceType = "469" }, "device type"},
		{"no serial", func(c *ConnectionConfig) { c.Serial = "" }, "serial"},
		{"no password", func(c *ConnectionConfig) { c.Password = "" }, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewSession(SessionOptions{Config: cfg})
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("NewSession() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestTopics(t *testing.T) {
	topics := testConfig().Topics()
	if got := topics.Command(); got != "475/NN2-EU-JEA3830A/command" {
		t.Errorf("Command() = %q", got)
	}
	if got := topics.Status(); got != "475/NN2-EU-JEA3830A/status/current" {
		t.Errorf("Status() = %q", got)
	}
}

// ============================================================================
// Connect
// ============================================================================

func TestSessionConnect(t *testing.T) {
	d := &mockDialer{}
	s := newTestSession(t, d)

	if s.State() != SessionDisconnected {
		t.Fatalf("initial State() = %v", s.State())
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s.State() != SessionConnected {
		t.Errorf("State() = %v, want connected", s.State())
	}

	tr, opts := d.last()
	if opts.Username != "NN2-EU-JEA3830A" {
		t.Errorf("Username = %q, want serial", opts.Username)
	}
	if opts.Password != string(DeriveCredential("abcd1234")) {
		t.Errorf("Password is not the derived credential")
	}
	if opts.Host != "192.0.2.10" || opts.Port != 1883 {
		t.Errorf("broker = %s:%d", opts.Host, opts.Port)
	}
	if !strings.HasPrefix(opts.ClientID, "purelink-") {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Logger == nil {
		t.Error("transport has no logger for handler failures")
	}
	if !tr.deliver(s.Topics().Status(), []byte("{}")) {
		t.Error("status topic was not subscribed")
	}

	if ev := nextEvent(t, s); ev.Kind != EventConnected {
		t.Errorf("first event = %v, want connected", ev.Kind)
	}

	// Already live: no second dial.
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if d.dials() != 1 {
		t.Errorf("dials = %d, want 1", d.dials())
	}
}

func TestSessionConnectFailures(t *testing.T) {
	tests := []struct {
		name     string
		dialErr  error
		subErr   error
		wantIs   error
		wantCode byte
	}{
		{
			name:     "bad credentials",
			dialErr:  &mqtt.RefusedError{Code: 4},
			wantIs:   ErrConnectionError,
			wantCode: 4,
		},
		{
			name:     "not authorised",
			dialErr:  &mqtt.RefusedError{Code: 5},
			wantIs:   ErrConnectionError,
			wantCode: 5,
		},
		{
			name:    "unreachable",
			dialErr: mqtt.ErrConnectionFailed,
			wantIs:  ErrConnectionFailure,
		},
		{
			name:   "subscribe refused",
			subErr: errors.New("suback failure"),
			wantIs: ErrConnectionFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDialer{err: tt.dialErr}
			if tt.subErr != nil {
				d.prepare = func(m *mockTransport) { m.subscribeErr = tt.subErr }
			}
			s := newTestSession(t, d)

			err := s.Connect(context.Background())
			if !errors.Is(err, tt.wantIs) {
				t.Fatalf("Connect() error = %v, want %v", err, tt.wantIs)
			}
			if tt.wantCode != 0 {
				var ce *ConnectionError
				if !errors.As(err, &ce) || ce.Code != tt.wantCode {
					t.Errorf("Connect() error = %v, want code %d", err, tt.wantCode)
				}
			}
			if s.State() != SessionDisconnected {
				t.Errorf("State() = %v, want disconnected", s.State())
			}
			if tt.subErr != nil {
				tr, _ := d.last()
				if !tr.isClosed() {
					t.Error("transport left open after failed subscribe")
				}
			}
		})
	}
}

// ============================================================================
// Publish
// ============================================================================

func TestSessionPublishRequiresConnection(t *testing.T) {
	s := newTestSession(t, &mockDialer{})
	err := s.Publish(s.Topics().Command(), []byte("{}"), 0)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSessionPublishAwaitsResponse(t *testing.T) {
	d := &mockDialer{}
	s := newTestSession(t, d)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := s.Publish(s.Topics().Command(), []byte(`{"msg":"REQUEST-CURRENT-STATE"}`), 1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if s.State() != SessionAwaitingResponse {
		t.Errorf("State() = %v, want awaiting_response", s.State())
	}
	if !s.State().Live() {
		t.Error("awaiting response should count as live")
	}

	s.Settle()
	if s.State() != SessionConnected {
		t.Errorf("State() after Settle = %v, want connected", s.State())
	}

	tr, _ := d.last()
	pubs := tr.getPublished()
	if len(pubs) != 1 || pubs[0].Topic != "475/NN2-EU-JEA3830A/command" || pubs[0].QoS != 1 {
		t.Errorf("published = %+v", pubs)
	}
}

func TestSessionPublishErrors(t *testing.T) {
	t.Run("transport disconnected", func(t *testing.T) {
		d := &mockDialer{prepare: func(m *mockTransport) { m.publishErr = mqtt.ErrNotConnected }}
		s := newTestSession(t, d)
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		nextEvent(t, s)

		err := s.Publish(s.Topics().Command(), []byte("{}"), 0)
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("Publish() error = %v, want ErrNotConnected", err)
		}
		if s.State() != SessionDisconnected {
			t.Errorf("State() = %v, want disconnected", s.State())
		}
		if ev := nextEvent(t, s); ev.Kind != EventDisconnected {
			t.Errorf("event = %v, want disconnected", ev.Kind)
		}
	})

	t.Run("publish failed", func(t *testing.T) {
		d := &mockDialer{prepare: func(m *mockTransport) { m.publishErr = mqtt.ErrPublishFailed }}
		s := newTestSession(t, d)
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		err := s.Publish(s.Topics().Command(), []byte("{}"), 0)
		if !errors.Is(err, ErrPublish) {
			t.Fatalf("Publish() error = %v, want ErrPublish", err)
		}
		if s.State() != SessionConnected {
			t.Errorf("State() = %v, want connected", s.State())
		}
	})
}

// ============================================================================
// Events
// ============================================================================

func TestSessionForwardsMessages(t *testing.T) {
	d := &mockDialer{}
	s := newTestSession(t, d)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	nextEvent(t, s)

	tr, _ := d.last()
	payload := []byte(sensorFixture)
	tr.deliver(s.Topics().Status(), payload)
	payload[0] = 'X'

	ev := nextEvent(t, s)
	if ev.Kind != EventMessage || ev.Topic != s.Topics().Status() {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Payload[0] != '{' {
		t.Error("event payload shares memory with the transport buffer")
	}
}

func TestSessionConnectionLost(t *testing.T) {
	d := &mockDialer{}
	s := newTestSession(t, d)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	nextEvent(t, s)

	first, firstOpts := d.last()
	firstOpts.OnConnectionLost(errors.New("pingresp not received"))

	ev := nextEvent(t, s)
	if ev.Kind != EventDisconnected || !errors.Is(ev.Err, ErrDisconnectionError) {
		t.Fatalf("event = %+v, want disconnected with DisconnectionError", ev)
	}
	if s.State() != SessionDisconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}

	deadline := time.Now().Add(time.Second)
	for !first.isClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !first.isClosed() {
		t.Error("lost transport was not closed")
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	nextEvent(t, s)

	// A late callback from the first connection must not end the new one.
	firstOpts.OnConnectionLost(errors.New("late"))
	if s.State() != SessionConnected {
		t.Errorf("State() = %v after stale callback, want connected", s.State())
	}
}

func TestSessionDropsEventsWhenFull(t *testing.T) {
	d := &mockDialer{}
	s, err := NewSession(SessionOptions{Config: testConfig(), Dialer: d.Dial, EventBuffer: 2})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	tr, _ := d.last()
	for i := 0; i < 5; i++ {
		tr.deliver(s.Topics().Status(), []byte("{}"))
	}

	// One slot went to the connected event.
	if got := s.Dropped(); got != 4 {
		t.Errorf("Dropped() = %d, want 4", got)
	}
}

// ============================================================================
// Disconnect
// ============================================================================

func TestSessionDisconnect(t *testing.T) {
	d := &mockDialer{}
	s := newTestSession(t, d)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	nextEvent(t, s)

	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if s.State() != SessionDisconnected {
		t.Errorf("State() = %v", s.State())
	}
	tr, _ := d.last()
	if !tr.isClosed() {
		t.Error("transport not closed")
	}
	if ev := nextEvent(t, s); ev.Kind != EventDisconnected || ev.Err != nil {
		t.Errorf("event = %+v, want clean disconnect", ev)
	}

	// Disconnecting again is harmless.
	if err := s.Disconnect(context.Background()); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
}

func TestSessionDisconnectErrors(t *testing.T) {
	t.Run("unsubscribe fails", func(t *testing.T) {
		d := &mockDialer{prepare: func(m *mockTransport) { m.unsubscribeErr = mqtt.ErrUnsubscribeFailed }}
		s := newTestSession(t, d)
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		err := s.Disconnect(context.Background())
		var de *DisconnectionError
		if !errors.As(err, &de) {
			t.Fatalf("Disconnect() error = %v, want *DisconnectionError", err)
		}
		if s.State() != SessionDisconnected {
			t.Errorf("State() = %v", s.State())
		}
	})

	t.Run("broker never answers", func(t *testing.T) {
		gate := make(chan struct{})
		defer close(gate)
		d := &mockDialer{prepare: func(m *mockTransport) { m.unsubscribeGate = gate }}
		s := newTestSession(t, d)
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		start := time.Now()
		err := s.Disconnect(context.Background())
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("Disconnect() error = %v, want ErrTimeout", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("Disconnect() took %v", elapsed)
		}
		if s.State() != SessionDisconnected {
			t.Errorf("State() = %v", s.State())
		}
	})
}
