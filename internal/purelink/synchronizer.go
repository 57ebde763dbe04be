package purelink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Synchronizer defaults.
const (
	// DefaultResponseTimeout bounds each awaited message category.
	DefaultResponseTimeout = 5 * time.Second

	// DefaultPollInterval is the number of heartbeats between update cycles.
	DefaultPollInterval = 3

	// queueDepth bounds each per-category handoff queue.
	queueDepth = 4

	// requestQoS is used for state requests, commandQoS for STATE-SET.
	requestQoS = 0
	commandQoS = 1
)

// Cycle kinds and outcomes reported to Telemetry.
const (
	CycleUpdate  = "update"
	CycleCommand = "command"
	CycleConnect = "connect"

	OutcomeOK           = "ok"
	OutcomeTimeout      = "timeout"
	OutcomeFailed       = "failed"
	OutcomeNotConnected = "not_connected"
)

// DeviceSession is the part of *Session the Synchronizer drives.
type DeviceSession interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(topic string, payload []byte, qos byte) error
	Settle()
	State() SessionState
	Events() <-chan Event
	Topics() Topics
}

// UpdateSink receives host channel updates.
type UpdateSink interface {
	UpdateChannel(ctx context.Context, ch Channel, nValue int, sValue string) error
}

// Telemetry records the outcome of each cycle.
type Telemetry interface {
	RecordCycle(kind, outcome string, duration time.Duration)
}

// Update is a copy of the mirror after a cycle.
type Update struct {
	State       StateSnapshot  `json:"state"`
	Sensor      SensorSnapshot `json:"sensor"`
	HasState    bool           `json:"has_state"`
	HasSensor   bool           `json:"has_sensor"`
	StateFresh  bool           `json:"state_fresh"`
	SensorFresh bool           `json:"sensor_fresh"`
}

// SynchronizerOptions configures a Synchronizer.
type SynchronizerOptions struct {
	Session   DeviceSession
	Sink      UpdateSink
	Telemetry Telemetry
	Logger    Logger

	// ResponseTimeout defaults to DefaultResponseTimeout.
	ResponseTimeout time.Duration
	// PollInterval is the number of PollTick calls per cycle and defaults
	// to DefaultPollInterval.
	PollInterval int
}

// Synchronizer runs request/await/update cycles against one session and
// owns the state and sensor mirror.
//
// A pump goroutine started by Start decodes session events and hands them
// to per-category queues. The mirror is only written inside a cycle, after
// a message has been taken off a queue. Cycles are serialised: a second
// RequestUpdate or ApplyCommand waits for the first to finish.
//
// Thread Safety: All methods are safe for concurrent use.
type Synchronizer struct {
	session   DeviceSession
	sink      UpdateSink
	telemetry Telemetry
	logger    Logger
	timeout   time.Duration
	interval  int

	// cycle is a one-slot semaphore held for the whole of a cycle.
	cycle chan struct{}

	stateQ   chan StateReport
	sensorQ  chan SensorSnapshot
	connAckQ chan struct{}
	discAckQ chan error

	mirrorMu sync.RWMutex
	state    *StateSnapshot
	sensor   *SensorSnapshot

	// pushed holds the last value sent per channel. Guarded by cycle.
	pushed map[Channel]ChannelValue

	tickMu    sync.Mutex
	countdown int

	metrics syncMetrics

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type syncMetrics struct {
	cycles        atomic.Uint64
	timeouts      atomic.Uint64
	parseErrors   atomic.Uint64
	reconnects    atomic.Uint64
	disconnects   atomic.Uint64
	channelWrites atomic.Uint64
	lastSuccess   atomic.Int64
}

// NewSynchronizer creates a Synchronizer. Call Start before the first cycle.
func NewSynchronizer(opts SynchronizerOptions) (*Synchronizer, error) {
	if opts.Session == nil {
		return nil, errors.New("purelink: synchronizer requires a session")
	}
	timeout := opts.ResponseTimeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Synchronizer{
		session:   opts.Session,
		sink:      opts.Sink,
		telemetry: opts.Telemetry,
		logger:    loggerOrNop(opts.Logger),
		timeout:   timeout,
		interval:  interval,
		cycle:     make(chan struct{}, 1),
		stateQ:    make(chan StateReport, queueDepth),
		sensorQ:   make(chan SensorSnapshot, queueDepth),
		connAckQ:  make(chan struct{}, 1),
		discAckQ:  make(chan error, 1),
		pushed:    make(map[Channel]ChannelValue),
		countdown: interval,
	}, nil
}

// Start launches the event pump. It returns immediately.
func (s *Synchronizer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		pumpCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(1)
		go s.pump(pumpCtx)
	})
}

// Stop ends the event pump and waits for it to exit.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// pump moves session events onto the per-category queues.
func (s *Synchronizer) pump(ctx context.Context) {
	defer s.wg.Done()
	events := s.session.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			s.route(ev)
		}
	}
}

func (s *Synchronizer) route(ev Event) {
	switch ev.Kind {
	case EventConnected:
		offer(s.connAckQ, struct{}{})
	case EventDisconnected:
		offer(s.discAckQ, ev.Err)
	case EventMessage:
		msg, err := Decode(ev.Payload)
		if err != nil {
			s.metrics.parseErrors.Add(1)
			s.logger.Warn("dropping unrecognised device message", "topic", ev.Topic, "error", err)
			return
		}
		switch msg.Kind {
		case KindState:
			offer(s.stateQ, *msg.State)
		case KindSensor:
			offer(s.sensorQ, *msg.Sensor)
		}
		s.logger.Debug("device message queued", "msg", msg.Name, "kind", msg.Kind.String())
	}
}

// offer enqueues v, discarding the oldest entry when the queue is full.
func offer[T any](q chan T, v T) {
	for {
		select {
		case q <- v:
			return
		default:
		}
		select {
		case <-q:
		default:
		}
	}
}

// drain empties q and returns how many entries were discarded.
func drain[T any](q chan T) int {
	n := 0
	for {
		select {
		case <-q:
			n++
		default:
			return n
		}
	}
}

// acquire takes the cycle slot, waiting for any cycle in flight.
func (s *Synchronizer) acquire(ctx context.Context) error {
	select {
	case s.cycle <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Synchronizer) release() {
	<-s.cycle
}

// discardStale drops replies left over from an earlier, abandoned wait so
// they cannot be matched to the new request.
func (s *Synchronizer) discardStale() {
	if n := drain(s.stateQ) + drain(s.sensorQ); n > 0 {
		s.logger.Debug("discarded stale device messages", "count", n)
	}
}

// RequestUpdate publishes a state request and waits for the state and
// sensor replies.
//
// Each category is awaited independently for up to the response timeout,
// in whatever order the device sends them. A category that does not arrive
// keeps its previous snapshot and is named in the returned *TimeoutError;
// the Update is valid in both cases. Changed channels are pushed to the
// sink before returning.
//
// Parameters:
//   - ctx: Cancels the wait for the cycle slot and for replies
//
// Returns:
//   - Update: The mirror after the cycle
//   - error: ErrNotConnected, a publish error, *TimeoutError or ctx.Err()
func (s *Synchronizer) RequestUpdate(ctx context.Context) (Update, error) {
	if !s.session.State().Live() {
		s.record(CycleUpdate, OutcomeNotConnected, 0)
		return s.Mirror(), ErrNotConnected
	}
	if err := s.acquire(ctx); err != nil {
		return s.Mirror(), err
	}
	defer s.release()

	start := time.Now()
	s.metrics.cycles.Add(1)
	s.discardStale()

	payload, err := EncodeStateRequest()
	if err != nil {
		return s.Mirror(), fmt.Errorf("encoding state request: %w", err)
	}
	if err := s.session.Publish(s.session.Topics().Command(), payload, requestQoS); err != nil {
		s.record(CycleUpdate, OutcomeFailed, time.Since(start))
		return s.Mirror(), err
	}
	defer s.session.Settle()

	stateFresh, sensorFresh, err := s.awaitReplies(ctx, true, nil)
	if err != nil {
		return s.Mirror(), err
	}

	update := s.Mirror()
	update.StateFresh = stateFresh
	update.SensorFresh = sensorFresh
	s.pushChannels(ctx, update)

	var missing []string
	if !stateFresh {
		missing = append(missing, "state")
	}
	if !sensorFresh {
		missing = append(missing, "sensor")
	}
	if len(missing) > 0 {
		s.metrics.timeouts.Add(1)
		s.record(CycleUpdate, OutcomeTimeout, time.Since(start))
		return update, &TimeoutError{Categories: missing, After: s.timeout}
	}

	s.metrics.lastSuccess.Store(time.Now().UnixNano())
	s.record(CycleUpdate, OutcomeOK, time.Since(start))
	return update, nil
}

// ApplyCommand sends cmd as a STATE-SET and waits for the device to confirm
// it with a state message.
//
// A full state reply replaces the mirror; a partial STATE-CHANGE echo
// updates only the fields it carries. Every state message is applied, but
// only a full reply or an echo naming every commanded field confirms the
// command. A partial echo that arrives before any full snapshot cannot be
// applied and the wait continues.
//
// Returns:
//   - StateSnapshot: The confirmed state
//   - error: ErrInvalidCommand, ErrNotConnected, a publish error,
//     *TimeoutError or ctx.Err()
func (s *Synchronizer) ApplyCommand(ctx context.Context, cmd Command) (StateSnapshot, error) {
	payload, err := EncodeStateChange(cmd)
	if err != nil {
		return StateSnapshot{}, err
	}
	if !s.session.State().Live() {
		s.record(CycleCommand, OutcomeNotConnected, 0)
		return s.Mirror().State, ErrNotConnected
	}
	if err := s.acquire(ctx); err != nil {
		return s.Mirror().State, err
	}
	defer s.release()

	start := time.Now()
	s.metrics.cycles.Add(1)
	s.discardStale()

	if err := s.session.Publish(s.session.Topics().Command(), payload, commandQoS); err != nil {
		s.record(CycleCommand, OutcomeFailed, time.Since(start))
		return s.Mirror().State, err
	}
	defer s.session.Settle()

	s.logger.Info("command sent", "command", cmd.String())

	stateFresh, _, err := s.awaitReplies(ctx, false, cmd)
	if err != nil {
		return s.Mirror().State, err
	}

	update := s.Mirror()
	update.StateFresh = stateFresh
	if !stateFresh {
		s.metrics.timeouts.Add(1)
		s.record(CycleCommand, OutcomeTimeout, time.Since(start))
		return update.State, &TimeoutError{Categories: []string{"state"}, After: s.timeout}
	}

	s.pushChannels(ctx, update)
	s.metrics.lastSuccess.Store(time.Now().UnixNano())
	s.record(CycleCommand, OutcomeOK, time.Since(start))
	return update.State, nil
}

// awaitReplies waits for a state message and, when wantSensor is set, a
// sensor message. Each has its own timer started here. With a non-nil
// confirm, state messages that do not confirm it are applied and the wait
// goes on.
func (s *Synchronizer) awaitReplies(ctx context.Context, wantSensor bool, confirm Command) (stateFresh, sensorFresh bool, err error) {
	stateTimer := time.NewTimer(s.timeout)
	defer stateTimer.Stop()
	stateQ, stateDeadline := s.stateQ, stateTimer.C

	var sensorQ <-chan SensorSnapshot
	var sensorDeadline <-chan time.Time
	if wantSensor {
		sensorTimer := time.NewTimer(s.timeout)
		defer sensorTimer.Stop()
		sensorQ, sensorDeadline = s.sensorQ, sensorTimer.C
	}

	for stateQ != nil || sensorQ != nil {
		select {
		case report := <-stateQ:
			if s.applyStateReport(report) && confirms(report, confirm) {
				stateFresh = true
				stateQ, stateDeadline = nil, nil
			}
		case snap := <-sensorQ:
			s.setSensor(snap)
			sensorFresh = true
			sensorQ, sensorDeadline = nil, nil
		case <-stateDeadline:
			stateQ, stateDeadline = nil, nil
		case <-sensorDeadline:
			sensorQ, sensorDeadline = nil, nil
		case <-ctx.Done():
			return stateFresh, sensorFresh, ctx.Err()
		}
	}
	return stateFresh, sensorFresh, nil
}

// applyStateReport writes report into the mirror. It returns false for a
// partial report with no snapshot to apply it to.
func (s *Synchronizer) applyStateReport(report StateReport) bool {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	if snap, ok := report.Snapshot(); ok {
		s.state = &snap
		return true
	}
	if s.state == nil {
		s.logger.Debug("ignoring partial state report without a prior snapshot")
		return false
	}
	merged := report.Apply(*s.state)
	s.state = &merged
	return true
}

// confirms reports whether report answers cmd: a full report always does,
// a partial one only when it carries every field cmd set.
func confirms(report StateReport, cmd Command) bool {
	if report.Full || cmd == nil {
		return true
	}
	fields := report.Fields()
	for _, field := range cmd.Fields() {
		if _, ok := fields[field]; !ok {
			return false
		}
	}
	return true
}

func (s *Synchronizer) setSensor(snap SensorSnapshot) {
	s.mirrorMu.Lock()
	s.sensor = &snap
	s.mirrorMu.Unlock()
}

// Mirror returns a copy of the current snapshots.
func (s *Synchronizer) Mirror() Update {
	s.mirrorMu.RLock()
	defer s.mirrorMu.RUnlock()

	var u Update
	if s.state != nil {
		u.State, u.HasState = *s.state, true
	}
	if s.sensor != nil {
		u.Sensor, u.HasSensor = *s.sensor, true
	}
	return u
}

// pushChannels sends every channel whose value differs from what was last
// pushed. A failed write is retried on the next cycle. Caller holds the
// cycle slot.
func (s *Synchronizer) pushChannels(ctx context.Context, u Update) {
	if s.sink == nil {
		return
	}

	var values []ChannelValue
	if u.HasState {
		values = append(values, StateChannels(u.State)...)
	}
	if u.HasSensor {
		values = append(values, SensorChannels(u.Sensor)...)
	}

	for _, v := range values {
		if prev, ok := s.pushed[v.Channel]; ok && prev == v {
			continue
		}
		if err := s.sink.UpdateChannel(ctx, v.Channel, v.NValue, v.SValue); err != nil {
			s.logger.Warn("channel update failed", "channel", v.Channel.String(), "error", err)
			continue
		}
		s.pushed[v.Channel] = v
		s.metrics.channelWrites.Add(1)
	}
}

// PollTick is called once per heartbeat. Every PollInterval ticks it runs
// a cycle: a dead session gets one reconnection attempt, and a live one a
// RequestUpdate.
//
// A reply timeout leaves the session connected. Only a disconnect seen by
// the transport leads to a reconnection on a later tick.
//
// Returns:
//   - error: The connect or update error of the cycle run by this tick, if any
func (s *Synchronizer) PollTick(ctx context.Context) error {
	s.tickMu.Lock()
	s.countdown--
	due := s.countdown <= 0
	if due {
		s.countdown = s.interval
	}
	s.tickMu.Unlock()

	if !due {
		return nil
	}
	return s.runCycle(ctx)
}

// runCycle reconnects if needed and requests an update.
func (s *Synchronizer) runCycle(ctx context.Context) error {
	s.noteLifecycle()

	if !s.session.State().Live() {
		start := time.Now()
		s.metrics.reconnects.Add(1)
		if err := s.session.Connect(ctx); err != nil {
			s.record(CycleConnect, OutcomeFailed, time.Since(start))
			s.logger.Warn("device reconnection failed", "error", err)
			return err
		}
		s.record(CycleConnect, OutcomeOK, time.Since(start))
	}

	_, err := s.RequestUpdate(ctx)
	if err != nil {
		s.logger.Warn("device update incomplete", "error", err)
	}
	return err
}

// noteLifecycle consumes connect and disconnect acknowledgements queued by
// the pump since the last cycle.
func (s *Synchronizer) noteLifecycle() {
	select {
	case err := <-s.discAckQ:
		s.metrics.disconnects.Add(1)
		s.logger.Info("session ended since last cycle", "error", err)
	default:
	}
	select {
	case <-s.connAckQ:
		s.logger.Debug("session established since last cycle")
	default:
	}
}

func (s *Synchronizer) record(kind, outcome string, d time.Duration) {
	if s.telemetry != nil {
		s.telemetry.RecordCycle(kind, outcome, d)
	}
}

// Metrics is a point-in-time view of synchronizer counters.
type Metrics struct {
	SessionState  string    `json:"session_state"`
	Connected     bool      `json:"connected"`
	Cycles        uint64    `json:"cycles"`
	Timeouts      uint64    `json:"timeouts"`
	ParseErrors   uint64    `json:"parse_errors"`
	Reconnects    uint64    `json:"reconnects"`
	Disconnects   uint64    `json:"disconnects"`
	ChannelWrites uint64    `json:"channel_writes"`
	LastSuccess   time.Time `json:"last_success,omitempty"`
}

// Metrics returns current counters.
func (s *Synchronizer) Metrics() Metrics {
	state := s.session.State()
	m := Metrics{
		SessionState:  state.String(),
		Connected:     state.Live(),
		Cycles:        s.metrics.cycles.Load(),
		Timeouts:      s.metrics.timeouts.Load(),
		ParseErrors:   s.metrics.parseErrors.Load(),
		Reconnects:    s.metrics.reconnects.Load(),
		Disconnects:   s.metrics.disconnects.Load(),
		ChannelWrites: s.metrics.channelWrites.Load(),
	}
	if ns := s.metrics.lastSuccess.Load(); ns > 0 {
		m.LastSuccess = time.Unix(0, ns).UTC()
	}
	return m
}
