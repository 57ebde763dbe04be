package purelink

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

// recordingLogger implements Logger and keeps error messages.
type recordingLogger struct {
	nopLogger
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) hasError(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.errors, msg)
}

func newTestBridge(t *testing.T, session *fakeSession, heartbeat time.Duration) *Bridge {
	t.Helper()
	return newLoggedBridge(t, session, heartbeat, nil)
}

func newLoggedBridge(t *testing.T, session *fakeSession, heartbeat time.Duration, logger Logger) *Bridge {
	t.Helper()
	syncer, err := NewSynchronizer(SynchronizerOptions{
		Session:         session,
		ResponseTimeout: 200 * time.Millisecond,
		PollInterval:    1,
	})
	if err != nil {
		t.Fatalf("NewSynchronizer() error = %v", err)
	}
	b, err := NewBridge(BridgeOptions{Session: session, Synchronizer: syncer, Heartbeat: heartbeat, Logger: logger})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	return b
}

func TestNewBridgeRequiresParts(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{}); err == nil {
		t.Error("NewBridge() without a session should fail")
	}
}

func TestBridgeStartPullsInitialState(t *testing.T) {
	session := newFakeSession()
	session.setState(SessionDisconnected)
	session.respond = replyAll

	b := newTestBridge(t, session, time.Hour)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	if session.connectCount() != 1 {
		t.Errorf("connects = %d, want 1", session.connectCount())
	}
	mirror := b.Mirror()
	if !mirror.HasState || !mirror.HasSensor {
		t.Errorf("Mirror() = %+v, want initial state and sensor", mirror)
	}

	m := b.GetMetrics()
	if m.Serial != "NN2-EU-JEA3830A" || !m.Connected || m.Cycles != 1 {
		t.Errorf("GetMetrics() = %+v", m)
	}
}

func TestBridgeStartToleratesUnreachableDevice(t *testing.T) {
	session := newFakeSession()
	session.setState(SessionDisconnected)
	session.connectErr = ErrConnectionFailure

	logger := &recordingLogger{}
	b := newLoggedBridge(t, session, time.Hour, logger)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.Stop()

	if b.Mirror().HasState {
		t.Error("mirror should be empty")
	}
	if !logger.hasError("initial device connection failed") {
		t.Errorf("logged errors = %v, want the failed connection", logger.errors)
	}
}

func TestBridgeHeartbeatReconnects(t *testing.T) {
	session := newFakeSession()
	session.respond = replyAll

	b := newTestBridge(t, session, 20*time.Millisecond)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	session.setState(SessionDisconnected)

	deadline := time.Now().Add(2 * time.Second)
	for session.connectCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if session.connectCount() < 2 {
		t.Fatalf("connects = %d, heartbeat did not reconnect", session.connectCount())
	}
}

func TestBridgeHandleCommand(t *testing.T) {
	session := newFakeSession()
	session.respond = func(f *fakeSession, msg string) {
		switch msg {
		case MsgRequestCurrentState:
			replyAll(f, msg)
		case MsgStateSet:
			f.send(`{"msg":"STATE-CHANGE","product-state":{"nmod":["OFF","ON"]}}`)
		}
	}

	b := newTestBridge(t, session, time.Hour)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	state, err := b.HandleCommand(context.Background(), ChannelNightMode, "On", 0)
	if err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if state.NightMode != On {
		t.Errorf("NightMode = %v, want ON", state.NightMode)
	}

	if _, err := b.HandleCommand(context.Background(), ChannelFanSpeed, "Set Level", 5); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("HandleCommand(speed 5) error = %v, want ErrInvalidCommand", err)
	}
	if _, err := b.HandleCommand(context.Background(), ChannelVOC, "Set Level", 10); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("HandleCommand(VOC) error = %v, want ErrInvalidCommand", err)
	}
}

func TestBridgeStopDisconnects(t *testing.T) {
	session := newFakeSession()
	session.respond = replyAll

	b := newTestBridge(t, session, 10*time.Millisecond)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.Stop()
	b.Stop()

	if session.State() != SessionDisconnected {
		t.Errorf("session state = %v after Stop, want disconnected", session.State())
	}
}
