package host

import "errors"

// Domain errors for the host package.
var (
	// ErrChannelNotFound is returned when a unit has no channel row.
	ErrChannelNotFound = errors.New("host: channel not found")

	// ErrNoSinks is returned by NewFanout when no sink is given.
	ErrNoSinks = errors.New("host: fanout needs at least one sink")
)
