// Package simulator runs an in-process MQTT broker that behaves like a Dyson
// Pure Link device.
//
// The device firmware hosts its own broker, accepts a single login (the
// serial number and the derived credential) and answers on its status
// topic. Device reproduces that: it embeds a mochi-mqtt broker, subscribes
// to the command topic with an inline client and replies the way the
// firmware does:
//
//	REQUEST-CURRENT-STATE -> CURRENT-STATE, then ENVIRONMENTAL-CURRENT-SENSOR-DATA
//	STATE-SET             -> STATE-CHANGE with [old, new] pairs
//
// Replies can be delayed or muted to exercise timeout handling.
package simulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

const (
	// commandSubscriptionID identifies the inline subscription.
	commandSubscriptionID = 1

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// ErrClosed is returned when the simulator has been shut down.
var ErrClosed = errors.New("simulator: closed")

// Options configures a Device.
type Options struct {
	// Address is the listen address, e.g. "127.0.0.1:1883".
	Address    string
	DeviceType purelink.DeviceType
	Serial     string
	// Password is the device password printed on the sticker. The broker
	// only accepts its derived credential.
	Password string

	// ResponseDelay is applied before every reply.
	ResponseDelay time.Duration

	Logger *slog.Logger
}

// Device is a simulated Pure Link.
//
// Thread Safety: All methods are safe for concurrent use.
type Device struct {
	opts   Options
	topics purelink.Topics
	server *mochi.Server
	logger *slog.Logger

	mu     sync.Mutex
	state  map[string]string
	sensor map[string]string

	muted       atomic.Bool
	sensorMuted atomic.Bool
	requests    atomic.Uint64
	commands    atomic.Uint64

	// lifeMu orders reply goroutine registration against Close.
	lifeMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DefaultState is the product-state a new Device starts with.
func DefaultState() map[string]string {
	return map[string]string{
		purelink.FieldFanMode:           "AUTO",
		purelink.FieldFanState:          "FAN",
		purelink.FieldFanSpeed:          "AUTO",
		purelink.FieldQualityTarget:     "0003",
		purelink.FieldOscillation:       "ON",
		purelink.FieldStandbyMonitoring: "ON",
		purelink.FieldFilterLife:        "2159",
		purelink.FieldNightMode:         "OFF",
		"ercd":                          "02C0",
		"wacd":                          "NONE",
	}
}

// DefaultSensor is the sensor data a new Device starts with: 22.45C, 50%.
func DefaultSensor() map[string]string {
	return map[string]string{
		purelink.FieldTemperature:  "2956",
		purelink.FieldHumidity:     "0050",
		purelink.FieldParticulates: "0003",
		purelink.FieldVOC:          "0004",
		purelink.FieldSleepTimer:   "OFF",
	}
}

// New creates a Device. Call Start to begin serving.
func New(opts Options) (*Device, error) {
	cfg := purelink.ConnectionConfig{
		Address:    "simulator",
		Port:       1,
		DeviceType: opts.DeviceType,
		Serial:     opts.Serial,
		Password:   opts.Password,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Address == "" {
		return nil, errors.New("simulator: listen address is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Device{
		opts:   opts,
		topics: cfg.Topics(),
		logger: logger,
		state:  DefaultState(),
		sensor: DefaultSensor(),
	}, nil
}

// Start launches the broker and subscribes to the command topic.
func (d *Device) Start() error {
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       d.logger,
	})

	credential := purelink.DeriveCredential(d.opts.Password)
	err := server.AddHook(new(auth.Hook), &auth.Options{
		Ledger: &auth.Ledger{
			Auth: auth.AuthRules{
				{Username: auth.RString(d.opts.Serial), Password: auth.RString(string(credential)), Allow: true},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("adding auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "purelink", Address: d.opts.Address})
	if err := server.AddListener(tcp); err != nil {
		return fmt.Errorf("adding listener on %s: %w", d.opts.Address, err)
	}
	if err := server.Serve(); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	if err := server.Subscribe(d.topics.Command(), commandSubscriptionID, d.handleCommand); err != nil {
		_ = server.Close() //nolint:errcheck // already failing
		return fmt.Errorf("subscribing to %s: %w", d.topics.Command(), err)
	}

	d.server = server
	d.logger.Info("simulated device listening",
		"address", d.opts.Address,
		"serial", d.opts.Serial,
		"command_topic", d.topics.Command())
	return nil
}

// Close stops the broker, dropping every client connection.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.lifeMu.Lock()
		d.closed.Store(true)
		d.lifeMu.Unlock()

		d.wg.Wait()
		if d.server != nil {
			err = d.server.Close()
		}
	})
	return err
}

// Topics returns the device topics.
func (d *Device) Topics() purelink.Topics {
	return d.topics
}

// SetMuted stops the device from answering anything.
func (d *Device) SetMuted(muted bool) {
	d.muted.Store(muted)
}

// SetSensorMuted stops the device from sending sensor data while still
// answering with state.
func (d *Device) SetSensorMuted(muted bool) {
	d.sensorMuted.Store(muted)
}

// Requests returns the number of state requests received.
func (d *Device) Requests() uint64 {
	return d.requests.Load()
}

// Commands returns the number of STATE-SET messages received.
func (d *Device) Commands() uint64 {
	return d.commands.Load()
}

// State returns a copy of the current product-state.
func (d *Device) State() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyMap(d.state)
}

// SetSensor replaces one sensor reading, e.g. to simulate warm-up with
// "INIT".
func (d *Device) SetSensor(field, value string) {
	d.mu.Lock()
	d.sensor[field] = value
	d.mu.Unlock()
}

// Press simulates a change made on the device itself: the field is updated
// and an unsolicited STATE-CHANGE carrying only the changed fields is
// published.
func (d *Device) Press(field, value string) error {
	if d.closed.Load() {
		return ErrClosed
	}
	before, after := d.apply(map[string]string{field: value})

	change := make(map[string]any)
	for k, v := range after {
		if before[k] != v {
			change[k] = []string{before[k], v}
		}
	}
	if len(change) == 0 {
		return nil
	}
	return d.publish(stateMessage{
		Msg:          purelink.MsgStateChange,
		Time:         now(),
		ModeReason:   "PRC",
		StateReason:  "MODE",
		ProductState: change,
	})
}

// apply writes the writable fields of data into the product-state and
// returns the state before and after. The motor state follows the fan mode.
func (d *Device) apply(data map[string]string) (before, after map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	before = copyMap(d.state)
	for field, value := range data {
		if !writable[field] {
			continue
		}
		d.state[field] = value
	}
	if d.state[purelink.FieldFanMode] == "OFF" {
		d.state[purelink.FieldFanState] = "OFF"
	} else {
		d.state[purelink.FieldFanState] = "FAN"
	}
	return before, copyMap(d.state)
}

// writable are the fields a STATE-SET can change.
var writable = map[string]bool{
	purelink.FieldFanMode:           true,
	purelink.FieldFanSpeed:          true,
	purelink.FieldNightMode:         true,
	purelink.FieldOscillation:       true,
	purelink.FieldStandbyMonitoring: true,
	purelink.FieldQualityTarget:     true,
}

type inbound struct {
	Msg  string            `json:"msg"`
	Data map[string]string `json:"data"`
}

type stateMessage struct {
	Msg          string         `json:"msg"`
	Time         string         `json:"time"`
	ModeReason   string         `json:"mode-reason"`
	StateReason  string         `json:"state-reason"`
	ProductState map[string]any `json:"product-state"`
}

type sensorMessage struct {
	Msg  string            `json:"msg"`
	Time string            `json:"time"`
	Data map[string]string `json:"data"`
}

// handleCommand runs on the broker's delivery path, so replies are sent
// from a separate goroutine.
func (d *Device) handleCommand(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
	var in inbound
	if err := json.Unmarshal(pk.Payload, &in); err != nil {
		d.logger.Warn("ignoring malformed command", "error", err)
		return
	}
	if d.closed.Load() {
		return
	}

	switch in.Msg {
	case purelink.MsgRequestCurrentState:
		d.requests.Add(1)
		d.reply(d.answerStateRequest)
	case purelink.MsgStateSet:
		d.commands.Add(1)
		data := in.Data
		d.reply(func() error { return d.answerStateSet(data) })
	default:
		d.logger.Debug("ignoring command", "msg", in.Msg)
	}
}

func (d *Device) reply(fn func() error) {
	if d.muted.Load() {
		return
	}
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if d.closed.Load() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.opts.ResponseDelay > 0 {
			time.Sleep(d.opts.ResponseDelay)
		}
		if d.closed.Load() {
			return
		}
		if err := fn(); err != nil {
			d.logger.Warn("simulated reply failed", "error", err)
		}
	}()
}

func (d *Device) answerStateRequest() error {
	d.mu.Lock()
	state := make(map[string]any, len(d.state))
	for k, v := range d.state {
		state[k] = v
	}
	sensor := copyMap(d.sensor)
	d.mu.Unlock()

	err := d.publish(stateMessage{
		Msg:          purelink.MsgCurrentState,
		Time:         now(),
		ModeReason:   "LAPP",
		StateReason:  "MODE",
		ProductState: state,
	})
	if err != nil || d.sensorMuted.Load() {
		return err
	}
	return d.publish(sensorMessage{Msg: purelink.MsgSensorData, Time: now(), Data: sensor})
}

// answerStateSet applies data and reports every field as an [old, new] pair.
func (d *Device) answerStateSet(data map[string]string) error {
	before, after := d.apply(data)

	pairs := make(map[string]any, len(after))
	for k, v := range after {
		pairs[k] = []string{before[k], v}
	}
	return d.publish(stateMessage{
		Msg:          purelink.MsgStateChange,
		Time:         now(),
		ModeReason:   "LAPP",
		StateReason:  "MODE",
		ProductState: pairs,
	})
}

func (d *Device) publish(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.server.Publish(d.topics.Status(), payload, false, 0)
}

func now() string {
	return time.Now().UTC().Format(timestampLayout)
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
