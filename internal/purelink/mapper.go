package purelink

import (
	"fmt"
	"sort"
	"strings"
)

// Host selector levels.
const (
	levelModeOff  = 10
	levelModeOn   = 20
	levelModeAuto = 30

	// levelsPerStep is the selector spacing: speed n is level n*10.
	levelsPerStep = 10

	// levelSpeedMax is the highest speed level; anything above it on the
	// speed selector is its "Auto" entry (110) and goes to the mode mapping.
	levelSpeedMax = MaxFanSpeed * levelsPerStep
)

// Directive sets one device field to a wire value.
type Directive struct {
	Field string
	Value string
}

// Command is the set of directives sent in one STATE-SET.
type Command []Directive

// Validate checks every directive against the device value domain.
func (c Command) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	var scratch StateSnapshot
	for _, d := range c {
		if !settableFields[d.Field] {
			return fmt.Errorf("%w: field %q cannot be set", ErrInvalidCommand, d.Field)
		}
		if err := applyStateField(&scratch, d.Field, d.Value); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
	}
	return nil
}

// Fields returns the directive field names in sorted order.
func (c Command) Fields() []string {
	out := make([]string, 0, len(c))
	for _, d := range c {
		out = append(out, d.Field)
	}
	sort.Strings(out)
	return out
}

// Value returns the value set for field, if any.
func (c Command) Value(field string) (string, bool) {
	for _, d := range c {
		if d.Field == field {
			return d.Value, true
		}
	}
	return "", false
}

func (c Command) data() map[string]string {
	out := make(map[string]string, len(c))
	for _, d := range c {
		out[d.Field] = d.Value
	}
	return out
}

func (c Command) String() string {
	parts := make([]string, 0, len(c))
	for _, d := range c {
		parts = append(parts, d.Field+"="+d.Value)
	}
	return strings.Join(parts, ",")
}

// MapFanSpeed translates a level from the host's fan speed selector.
//
// Levels 10-100 select speed level/10, which also puts the fan in manual
// mode since the device ignores fnsp otherwise. Levels above 100 are the
// selector's "Auto" entry and are handled by MapFanMode. Levels below 10
// would encode speed 0 and are rejected.
func MapFanSpeed(level int) (Command, error) {
	if level > levelSpeedMax {
		return MapFanMode(level)
	}
	speed, err := SpeedLevel(level / levelsPerStep)
	if err != nil {
		return nil, fmt.Errorf("%w: fan speed level %d", ErrInvalidCommand, level)
	}
	return Command{
		{Field: FieldFanMode, Value: FanModeOn.Wire()},
		{Field: FieldFanSpeed, Value: speed.String()},
	}, nil
}

// MapFanMode translates a level from the host's fan mode selector:
// 10 is OFF, 20 is ON, 30-39 and anything above 100 is AUTO.
func MapFanMode(level int) (Command, error) {
	var mode FanMode
	switch {
	case level == levelModeOff:
		mode = FanModeOff
	case level == levelModeOn:
		mode = FanModeOn
	case level >= levelModeAuto && level < levelModeAuto+levelsPerStep, level > levelSpeedMax:
		mode = FanModeAuto
	default:
		return nil, fmt.Errorf("%w: fan mode level %d", ErrInvalidCommand, level)
	}
	return Command{{Field: FieldFanMode, Value: mode.Wire()}}, nil
}

// MapSwitch translates an "On"/"Off" command for a toggle field.
func MapSwitch(field, command string) (Command, error) {
	switch field {
	case FieldNightMode, FieldOscillation, FieldStandbyMonitoring:
	default:
		return nil, fmt.Errorf("%w: %q is not a switch", ErrInvalidCommand, field)
	}
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "on":
		return Command{{Field: field, Value: On.String()}}, nil
	case "off":
		return Command{{Field: field, Value: Off.String()}}, nil
	}
	return nil, fmt.Errorf("%w: switch command %q", ErrInvalidCommand, command)
}

// RouteCommand maps a host (channel, command, level) triple to a device
// command.
func RouteCommand(ch Channel, command string, level int) (Command, error) {
	switch ch {
	case ChannelFanSpeed:
		return MapFanSpeed(level)
	case ChannelFanMode:
		return MapFanMode(level)
	case ChannelNightMode:
		return MapSwitch(FieldNightMode, command)
	case ChannelOscillation:
		return MapSwitch(FieldOscillation, command)
	case ChannelStandbyMonitoring:
		return MapSwitch(FieldStandbyMonitoring, command)
	}
	return nil, fmt.Errorf("%w: channel %s does not accept commands", ErrInvalidCommand, ch)
}
