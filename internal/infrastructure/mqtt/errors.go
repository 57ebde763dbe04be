package mqtt

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by every operation once the session has
	// been closed or lost.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the broker cannot be reached or
	// the connection attempt times out.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionRefused is matched by *RefusedError.
	ErrConnectionRefused = errors.New("mqtt: connection refused")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	ErrInvalidQoS   = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: topic is empty")

	// ErrTimeout is wrapped with the failing operation's sentinel when the
	// broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// RefusedError is returned by Connect when the broker answers CONNACK with a
// non-zero return code.
type RefusedError struct {
	Code byte
	Err  error
}

func (e *RefusedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mqtt: connection refused (return code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("mqtt: connection refused (return code %d)", e.Code)
}

// Is reports ErrConnectionRefused as a match.
func (e *RefusedError) Is(target error) bool { return target == ErrConnectionRefused }

func (e *RefusedError) Unwrap() error { return e.Err }
