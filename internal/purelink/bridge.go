package purelink

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Bridge operation constants.
const (
	// DefaultHeartbeat is the interval between PollTick calls.
	DefaultHeartbeat = 10 * time.Second

	// shutdownTimeout bounds the final disconnect in Stop.
	shutdownTimeout = 5 * time.Second
)

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Session      DeviceSession
	Synchronizer *Synchronizer

	// Heartbeat defaults to DefaultHeartbeat.
	Heartbeat time.Duration
	Logger    Logger
}

// Bridge ties a device session to the host. It runs the heartbeat that
// drives polling and reconnection and routes host commands to the device.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	session      DeviceSession
	synchronizer *Synchronizer
	heartbeat    time.Duration

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// NewBridge creates a Bridge. Both the session and the synchronizer built
// on it are required.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Session == nil || opts.Synchronizer == nil {
		return nil, errors.New("purelink: bridge requires a session and a synchronizer")
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		session:      opts.Session,
		synchronizer: opts.Synchronizer,
		heartbeat:    heartbeat,
		done:         make(chan struct{}),
		ctx:          ctx,
		ctxCancel:    cancel,
		logger:       loggerOrNop(opts.Logger),
	}, nil
}

// Start connects to the device, pulls an initial update and starts the
// heartbeat. A device that is unreachable at start is not fatal: the
// heartbeat keeps retrying.
func (b *Bridge) Start(ctx context.Context) error {
	b.startOnce.Do(func() {
		b.synchronizer.Start(b.ctx)

		if err := b.session.Connect(ctx); err != nil {
			b.logError("initial device connection failed", err)
		} else if _, err := b.synchronizer.RequestUpdate(ctx); err != nil {
			b.logError("initial device update incomplete", err)
		}

		b.wg.Add(1)
		go b.run()

		b.logInfo("bridge started",
			"command_topic", b.session.Topics().Command(),
			"heartbeat", b.heartbeat.String())
	})
	return nil
}

func (b *Bridge) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			if err := b.synchronizer.PollTick(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.logDebug("poll cycle", "error", err)
			}
		}
	}
}

// Stop halts the heartbeat and disconnects from the device.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight cycles
		b.ctxCancel()
		b.wg.Wait()
		b.synchronizer.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := b.session.Disconnect(ctx); err != nil {
			b.logError("device disconnect", err)
		}

		b.logInfo("bridge stopped")
	})
}

// HandleCommand maps a host command for ch and applies it to the device.
//
// Parameters:
//   - ctx: Bounds the wait for the device to confirm
//   - ch: The channel the command was issued on
//   - command: "On"/"Off" for switch channels, "Set Level" for selectors
//   - level: Selector level, ignored for switches
//
// Returns:
//   - StateSnapshot: The state confirmed by the device
//   - error: ErrInvalidCommand, ErrNotConnected or a *TimeoutError
func (b *Bridge) HandleCommand(ctx context.Context, ch Channel, command string, level int) (StateSnapshot, error) {
	cmd, err := RouteCommand(ch, command, level)
	if err != nil {
		return StateSnapshot{}, err
	}
	b.logDebug("routing host command", "channel", ch.String(), "command", command, "level", level, "directives", cmd.String())
	return b.synchronizer.ApplyCommand(ctx, cmd)
}

// Refresh runs an update cycle outside the heartbeat.
func (b *Bridge) Refresh(ctx context.Context) (Update, error) {
	return b.synchronizer.RequestUpdate(ctx)
}

// Mirror returns the last known device state.
func (b *Bridge) Mirror() Update {
	return b.synchronizer.Mirror()
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.logger.Info(msg, keysAndValues...)
}

func (b *Bridge) logError(msg string, err error) {
	b.logger.Error(msg, "error", err)
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.logger.Debug(msg, keysAndValues...)
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Metrics
	Serial        string `json:"serial"`
	DroppedEvents uint64 `json:"dropped_events"`
}

// droppedCounter is implemented by *Session.
type droppedCounter interface {
	Dropped() uint64
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	m := BridgeMetrics{
		Metrics: b.synchronizer.Metrics(),
		Serial:  b.session.Topics().Serial,
	}
	if dc, ok := b.session.(droppedCounter); ok {
		m.DroppedEvents = dc.Dropped()
	}
	return m
}
