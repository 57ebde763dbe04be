package purelink

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain errors for the purelink package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailure is returned when the device broker is unreachable
	// or the connection attempt times out.
	ErrConnectionFailure = errors.New("purelink: connection failure")

	// ErrConnectionError is matched by *ConnectionError.
	ErrConnectionError = errors.New("purelink: connection refused by device")

	// ErrDisconnectionError is matched by *DisconnectionError.
	ErrDisconnectionError = errors.New("purelink: disconnection error")

	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("purelink: not connected")

	// ErrTimeout is returned when an awaited response does not arrive in time.
	ErrTimeout = errors.New("purelink: timed out waiting for device")

	// ErrParse is matched by *ParseError.
	ErrParse = errors.New("purelink: unrecognised payload")

	// ErrInvalidCommand is returned when a host command falls outside the
	// device's value domain.
	ErrInvalidCommand = errors.New("purelink: invalid command")

	// ErrInvalidConfig is returned when a ConnectionConfig fails validation.
	ErrInvalidConfig = errors.New("purelink: invalid connection config")

	// ErrPublish is returned when a message cannot be handed to the broker.
	ErrPublish = errors.New("purelink: publish failed")
)

// ParseError describes a payload that matched no known message schema.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("purelink: unrecognised payload: %s: %v", e.Reason, e.Err)
	}
	return "purelink: unrecognised payload: " + e.Reason
}

// Is reports ErrParse as a match.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

func (e *ParseError) Unwrap() error { return e.Err }

// ConnectionError carries a non-zero CONNACK return code from the device broker.
type ConnectionError struct {
	Code byte
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("purelink: device refused connection (return code %d: %s)", e.Code, returnCodeText(e.Code))
}

// Is reports ErrConnectionError as a match.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionError }

// DisconnectionError reports an unclean end of a session, either a lost
// connection or a failed unsubscribe during Disconnect.
type DisconnectionError struct {
	Err error
}

func (e *DisconnectionError) Error() string {
	if e.Err == nil {
		return "purelink: disconnection error"
	}
	return "purelink: disconnection error: " + e.Err.Error()
}

// Is reports ErrDisconnectionError as a match.
func (e *DisconnectionError) Is(target error) bool { return target == ErrDisconnectionError }

func (e *DisconnectionError) Unwrap() error { return e.Err }

// TimeoutError names the message categories that did not arrive within the
// response timeout.
type TimeoutError struct {
	Categories []string
	After      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("purelink: no %s response within %v", strings.Join(e.Categories, "/"), e.After)
}

// Is reports ErrTimeout as a match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// returnCodeText maps MQTT 3.1.1 CONNACK codes to their meaning.
func returnCodeText(code byte) string {
	switch code {
	case 0x01:
		return "unacceptable protocol version"
	case 0x02:
		return "identifier rejected"
	case 0x03:
		return "server unavailable"
	case 0x04:
		return "bad user name or password"
	case 0x05:
		return "not authorised"
	default:
		return "unknown"
	}
}
