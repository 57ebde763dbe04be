package purelink

import (
	"fmt"
	"strings"
)

// DeviceType is the product code the device uses as its topic root.
type DeviceType string

// Known Pure Link model families.
const (
	DeviceType455 DeviceType = "455"
	DeviceType465 DeviceType = "465"
	DeviceType475 DeviceType = "475"
)

// DeviceTypes lists the accepted device types.
var DeviceTypes = []DeviceType{DeviceType455, DeviceType465, DeviceType475}

// ParseDeviceType validates a configured device type.
func ParseDeviceType(s string) (DeviceType, error) {
	s = strings.TrimSpace(s)
	for _, t := range DeviceTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown device type %q", ErrInvalidConfig, s)
}

// ConnectionConfig identifies one device and how to reach it.
// It is built once at startup and never mutated.
type ConnectionConfig struct {
	Address    string
	Port       int
	DeviceType DeviceType
	Serial     string
	Password   string
}

// Validate checks that every field needed to open a session is present.
func (c ConnectionConfig) Validate() error {
	var errs []string
	if c.Address == "" {
		errs = append(errs, "address is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if _, err := ParseDeviceType(string(c.DeviceType)); err != nil {
		errs = append(errs, fmt.Sprintf("device type %q is not one of 455, 465, 475", c.DeviceType))
	}
	if c.Serial == "" {
		errs = append(errs, "serial is required")
	}
	if c.Password == "" {
		errs = append(errs, "password is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Topics builds the device's MQTT topic names.
type Topics struct {
	DeviceType DeviceType
	Serial     string
}

// Topics returns the topic builder for this device.
func (c ConnectionConfig) Topics() Topics {
	return Topics{DeviceType: c.DeviceType, Serial: c.Serial}
}

// Command returns the topic the device listens on for requests and commands.
//
// Example: "475/NN2-EU-JEA3830A/command"
func (t Topics) Command() string {
	return fmt.Sprintf("%s/%s/command", t.DeviceType, t.Serial)
}

// Status returns the topic the device publishes state and sensor data on.
//
// Example: "475/NN2-EU-JEA3830A/status/current"
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s/status/current", t.DeviceType, t.Serial)
}
