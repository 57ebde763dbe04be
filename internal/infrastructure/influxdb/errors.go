package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed means the initial ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps asynchronous write failures delivered to the
	// SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
