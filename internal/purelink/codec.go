package purelink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Message names used on the wire.
const (
	MsgRequestCurrentState = "REQUEST-CURRENT-STATE"
	MsgStateSet            = "STATE-SET"
	MsgCurrentState        = "CURRENT-STATE"
	MsgStateChange         = "STATE-CHANGE"
	MsgSensorData          = "ENVIRONMENTAL-CURRENT-SENSOR-DATA"

	// modeReasonApp tags a change as coming from the app.
	modeReasonApp = "LAPP"

	// timestampLayout is the ISO-8601 UTC form the device accepts.
	timestampLayout = "2006-01-02T15:04:05Z"

	kelvinOffset = 273.15
)

// clock returns the time used to stamp outgoing messages.
var clock = time.Now

// Kind classifies a decoded message.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindState
	KindSensor
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindSensor:
		return "sensor"
	default:
		return "unrecognized"
	}
}

// Message is the result of Decode. Exactly one of State or Sensor is set
// for KindState and KindSensor; both are nil for KindUnrecognized.
type Message struct {
	Kind   Kind
	Name   string
	State  *StateReport
	Sensor *SensorSnapshot
}

// StateReport is a decoded state message. A full report carries every state
// discriminant and replaces the mirror; a partial one (a STATE-CHANGE echo
// of a few fields) only updates the fields it names.
type StateReport struct {
	Full   bool
	fields map[string]string
}

// Fields returns the reported field values keyed by wire name.
func (r StateReport) Fields() map[string]string {
	out := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Snapshot builds a StateSnapshot from a full report. ok is false for a
// partial report.
func (r StateReport) Snapshot() (snap StateSnapshot, ok bool) {
	if !r.Full {
		return StateSnapshot{}, false
	}
	snap = r.Apply(StateSnapshot{})
	if _, reported := r.fields[FieldFanState]; !reported && snap.FanMode != FanModeOff {
		snap.FanState = FanStateRunning
	}
	return snap, true
}

// Apply returns prior with every reported field overwritten.
func (r StateReport) Apply(prior StateSnapshot) StateSnapshot {
	next := prior
	for field, value := range r.fields {
		// Values were validated by Decode.
		_ = applyStateField(&next, field, value) //nolint:errcheck // validated on decode
	}
	return next
}

// envelope is the common shape of every device message.
type envelope struct {
	Msg          string                     `json:"msg"`
	ProductState map[string]json.RawMessage `json:"product-state"`
	Data         map[string]json.RawMessage `json:"data"`
}

// Decode classifies and parses one payload from the status topic.
//
// Classification is by schema: a "product-state" object carrying every
// state discriminant is a full state report, a STATE-CHANGE carrying some
// of them is a partial report, and a "data" object carrying temperature,
// humidity, VOC and particulate fields is a sensor message. Values reported
// as [old, new] pairs decode to the new value.
//
// Decode is total: any input, including empty or garbled bytes, yields a
// classified Message or a *ParseError with Kind set to KindUnrecognized.
func Decode(raw []byte) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg = Message{}
			err = &ParseError{Reason: fmt.Sprintf("decoder panic: %v", r)}
		}
	}()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Message{}, &ParseError{Reason: "empty payload"}
	}
	if trimmed[0] != '{' {
		return Message{}, &ParseError{Reason: "payload is not a JSON object"}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{}, &ParseError{Reason: "malformed JSON", Err: err}
	}

	if env.ProductState != nil {
		report, err := decodeStateReport(env)
		if err != nil {
			return Message{Name: env.Msg}, err
		}
		return Message{Kind: KindState, Name: env.Msg, State: &report}, nil
	}

	if env.Data != nil && hasAll(env.Data, sensorDiscriminants) {
		snap, err := decodeSensor(env.Data)
		if err != nil {
			return Message{Name: env.Msg}, err
		}
		return Message{Kind: KindSensor, Name: env.Msg, Sensor: &snap}, nil
	}

	return Message{Name: env.Msg}, &ParseError{Reason: fmt.Sprintf("unknown schema for message %q", env.Msg)}
}

func decodeStateReport(env envelope) (StateReport, error) {
	fields := make(map[string]string, len(env.ProductState))
	var scratch StateSnapshot
	for field, raw := range env.ProductState {
		if !isStateField(field) {
			continue
		}
		value, err := fieldValue(raw)
		if err != nil {
			return StateReport{}, &ParseError{Reason: "field " + field, Err: err}
		}
		if err := applyStateField(&scratch, field, value); err != nil {
			return StateReport{}, &ParseError{Reason: "invalid " + field, Err: err}
		}
		fields[field] = value
	}

	full := true
	for _, field := range stateDiscriminants {
		if _, ok := fields[field]; !ok {
			full = false
			break
		}
	}

	switch {
	case full:
		return StateReport{Full: true, fields: fields}, nil
	case env.Msg == MsgStateChange && len(fields) > 0:
		return StateReport{fields: fields}, nil
	default:
		return StateReport{}, &ParseError{Reason: fmt.Sprintf("state message %q is missing discriminant fields", env.Msg)}
	}
}

func decodeSensor(data map[string]json.RawMessage) (SensorSnapshot, error) {
	var snap SensorSnapshot

	read := func(field string) (int, error) {
		value, err := fieldValue(data[field])
		if err != nil {
			return 0, &ParseError{Reason: "field " + field, Err: err}
		}
		if value == "OFF" || value == "INIT" {
			snap.Idle = true
			return 0, nil
		}
		n, err := parseCounter(value)
		if err != nil {
			return 0, &ParseError{Reason: "invalid " + field, Err: err}
		}
		return n, nil
	}

	tenthsKelvin, err := read(FieldTemperature)
	if err != nil {
		return SensorSnapshot{}, err
	}
	if tenthsKelvin > 0 {
		snap.Temperature = math.Round((float64(tenthsKelvin)/10-kelvinOffset)*100) / 100
	}
	if snap.Humidity, err = read(FieldHumidity); err != nil {
		return SensorSnapshot{}, err
	}
	if snap.VOC, err = read(FieldVOC); err != nil {
		return SensorSnapshot{}, err
	}
	if snap.Particulates, err = read(FieldParticulates); err != nil {
		return SensorSnapshot{}, err
	}

	// The sleep timer is optional and reads OFF when unset, which is not
	// an idle sensor.
	if raw, ok := data[FieldSleepTimer]; ok {
		value, err := fieldValue(raw)
		if err != nil {
			return SensorSnapshot{}, &ParseError{Reason: "field " + FieldSleepTimer, Err: err}
		}
		if value != "OFF" {
			if snap.SleepTimer, err = parseCounter(value); err != nil {
				return SensorSnapshot{}, &ParseError{Reason: "invalid " + FieldSleepTimer, Err: err}
			}
		}
	}

	return snap, nil
}

// fieldValue extracts a field as a string. The device sends plain strings in
// CURRENT-STATE and [old, new] pairs in STATE-CHANGE; some firmware sends
// bare numbers.
func fieldValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("missing value")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '[':
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return "", err
		}
		if len(pair) == 0 {
			return "", fmt.Errorf("empty change pair")
		}
		last := bytes.TrimSpace(pair[len(pair)-1])
		if len(last) > 0 && last[0] == '[' {
			return "", fmt.Errorf("nested change pair")
		}
		return fieldValue(last)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("unsupported value %s", raw)
		}
		return n.String(), nil
	}
}

func hasAll(m map[string]json.RawMessage, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

type requestEnvelope struct {
	Msg  string `json:"msg"`
	Time string `json:"time"`
}

type changeEnvelope struct {
	Msg        string            `json:"msg"`
	Time       string            `json:"time"`
	ModeReason string            `json:"mode-reason"`
	Data       map[string]string `json:"data"`
}

func timestamp() string {
	return clock().UTC().Format(timestampLayout)
}

// EncodeStateRequest builds a REQUEST-CURRENT-STATE message stamped with the
// current time.
func EncodeStateRequest() ([]byte, error) {
	return json.Marshal(requestEnvelope{Msg: MsgRequestCurrentState, Time: timestamp()})
}

// EncodeStateChange builds a STATE-SET message carrying cmd.
//
// Every directive is checked against the device value domain before encoding,
// so an out-of-range value never reaches the wire.
//
// Returns:
//   - []byte: JSON payload for the command topic
//   - error: ErrInvalidCommand if cmd is empty or carries an invalid directive
func EncodeStateChange(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(changeEnvelope{
		Msg:        MsgStateSet,
		Time:       timestamp(),
		ModeReason: modeReasonApp,
		Data:       cmd.data(),
	})
}
