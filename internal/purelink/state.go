package purelink

import (
	"fmt"
	"strconv"
)

// Wire field names used in "product-state" and "data" objects.
const (
	FieldFanMode           = "fmod"
	FieldFanState          = "fnst"
	FieldFanSpeed          = "fnsp"
	FieldNightMode         = "nmod"
	FieldOscillation       = "oson"
	FieldStandbyMonitoring = "rhtm"
	FieldFilterLife        = "filf"
	FieldQualityTarget     = "qtar"

	FieldTemperature  = "tact"
	FieldHumidity     = "hact"
	FieldVOC          = "vact"
	FieldParticulates = "pact"
	FieldSleepTimer   = "sltm"
)

// stateDiscriminants must all be present for a state report to count as a
// full snapshot.
var stateDiscriminants = []string{
	FieldFanMode,
	FieldOscillation,
	FieldNightMode,
	FieldFanSpeed,
	FieldFilterLife,
	FieldStandbyMonitoring,
	FieldQualityTarget,
}

// sensorDiscriminants must all be present for a sensor message.
var sensorDiscriminants = []string{FieldTemperature, FieldHumidity, FieldVOC, FieldParticulates}

// settableFields are the fields a STATE-SET may carry.
var settableFields = map[string]bool{
	FieldFanMode:           true,
	FieldFanSpeed:          true,
	FieldNightMode:         true,
	FieldOscillation:       true,
	FieldStandbyMonitoring: true,
	FieldQualityTarget:     true,
}

// FanMode is the fan power mode.
type FanMode int

const (
	FanModeOff FanMode = iota
	FanModeOn
	FanModeAuto
)

func (m FanMode) String() string {
	switch m {
	case FanModeOff:
		return "OFF"
	case FanModeOn:
		return "ON"
	case FanModeAuto:
		return "AUTO"
	default:
		return fmt.Sprintf("FanMode(%d)", int(m))
	}
}

// Wire returns the value the device uses for m. Manual mode is "FAN" on the
// wire.
func (m FanMode) Wire() string {
	if m == FanModeOn {
		return "FAN"
	}
	return m.String()
}

func parseFanMode(s string) (FanMode, error) {
	switch s {
	case "OFF":
		return FanModeOff, nil
	case "FAN", "ON":
		return FanModeOn, nil
	case "AUTO":
		return FanModeAuto, nil
	}
	return 0, fmt.Errorf("fan mode %q", s)
}

// FanState reports whether the motor is running.
type FanState int

const (
	FanStateIdle FanState = iota
	FanStateRunning
)

func (s FanState) String() string {
	if s == FanStateRunning {
		return "FAN"
	}
	return "OFF"
}

func parseFanState(s string) (FanState, error) {
	switch s {
	case "OFF":
		return FanStateIdle, nil
	case "FAN", "ON":
		return FanStateRunning, nil
	}
	return 0, fmt.Errorf("fan state %q", s)
}

// Toggle is an on/off device setting.
type Toggle int

const (
	Off Toggle = iota
	On
)

func (t Toggle) String() string {
	if t == On {
		return "ON"
	}
	return "OFF"
}

func parseToggle(s string) (Toggle, error) {
	switch s {
	case "ON":
		return On, nil
	case "OFF":
		return Off, nil
	}
	return 0, fmt.Errorf("toggle %q", s)
}

// Fan speed bounds.
const (
	MinFanSpeed = 1
	MaxFanSpeed = 10
)

// FanSpeed is either a manual level between MinFanSpeed and MaxFanSpeed or
// automatic.
type FanSpeed struct {
	Auto  bool
	Level int
}

// AutoSpeed is the automatic fan speed.
var AutoSpeed = FanSpeed{Auto: true}

// SpeedLevel returns a manual fan speed, rejecting levels outside the
// device range.
func SpeedLevel(level int) (FanSpeed, error) {
	if level < MinFanSpeed || level > MaxFanSpeed {
		return FanSpeed{}, fmt.Errorf("%w: fan speed %d outside %d-%d", ErrInvalidCommand, level, MinFanSpeed, MaxFanSpeed)
	}
	return FanSpeed{Level: level}, nil
}

// String returns the wire form: "AUTO" or a zero-padded four digit level.
func (s FanSpeed) String() string {
	if s.Auto {
		return "AUTO"
	}
	return fmt.Sprintf("%04d", s.Level)
}

func parseFanSpeed(s string) (FanSpeed, error) {
	if s == "AUTO" {
		return AutoSpeed, nil
	}
	n, err := parseCounter(s)
	if err != nil || n < MinFanSpeed || n > MaxFanSpeed {
		return FanSpeed{}, fmt.Errorf("fan speed %q", s)
	}
	return FanSpeed{Level: n}, nil
}

// Quality target bounds.
const (
	MinQualityTarget = 1
	MaxQualityTarget = 4
)

// StateSnapshot is the device's last known operating state.
type StateSnapshot struct {
	FanMode           FanMode  `json:"fan_mode"`
	FanState          FanState `json:"fan_state"`
	NightMode         Toggle   `json:"night_mode"`
	Oscillation       Toggle   `json:"oscillation"`
	StandbyMonitoring Toggle   `json:"standby_monitoring"`
	FanSpeed          FanSpeed `json:"fan_speed"`
	// FilterLife is the remaining filter life in hours as reported by the device.
	FilterLife    int `json:"filter_life"`
	QualityTarget int `json:"quality_target"`
}

// SensorSnapshot holds the last environmental readings.
type SensorSnapshot struct {
	// Temperature is in degrees Celsius.
	Temperature  float64 `json:"temperature"`
	Humidity     int     `json:"humidity"`
	VOC          int     `json:"voc"`
	Particulates int     `json:"particulates"`
	// SleepTimer is the remaining sleep timer in minutes, zero when off.
	SleepTimer int `json:"sleep_timer"`
	// Idle is set when any reading was reported as OFF or INIT, which the
	// device does while warming up or with monitoring disabled.
	Idle bool `json:"idle"`
}

// applyStateField validates value and stores it in snap.
func applyStateField(snap *StateSnapshot, field, value string) error {
	var err error
	switch field {
	case FieldFanMode:
		snap.FanMode, err = parseFanMode(value)
	case FieldFanState:
		snap.FanState, err = parseFanState(value)
	case FieldFanSpeed:
		snap.FanSpeed, err = parseFanSpeed(value)
	case FieldNightMode:
		snap.NightMode, err = parseToggle(value)
	case FieldOscillation:
		snap.Oscillation, err = parseToggle(value)
	case FieldStandbyMonitoring:
		snap.StandbyMonitoring, err = parseToggle(value)
	case FieldFilterLife:
		snap.FilterLife, err = parseCounter(value)
	case FieldQualityTarget:
		var n int
		n, err = parseCounter(value)
		if err == nil && (n < MinQualityTarget || n > MaxQualityTarget) {
			err = fmt.Errorf("quality target %q", value)
		}
		snap.QualityTarget = n
	default:
		return fmt.Errorf("unknown state field %q", field)
	}
	return err
}

// isStateField reports whether field belongs in a StateSnapshot.
func isStateField(field string) bool {
	switch field {
	case FieldFanMode, FieldFanState, FieldFanSpeed, FieldNightMode, FieldOscillation,
		FieldStandbyMonitoring, FieldFilterLife, FieldQualityTarget:
		return true
	}
	return false
}

// parseCounter parses the device's zero-padded decimal strings.
func parseCounter(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("value %q is not numeric", s)
		}
	}
	return strconv.Atoi(s)
}
