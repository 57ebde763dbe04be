package host

import (
	"context"
	"errors"

	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

// Fanout delivers each channel update to several sinks in order.
// Every sink sees the update even when an earlier one fails; the errors are
// joined.
type Fanout struct {
	sinks []purelink.UpdateSink
}

// NewFanout creates a fanout over sinks. Nil sinks are skipped.
func NewFanout(sinks ...purelink.UpdateSink) (*Fanout, error) {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	if len(f.sinks) == 0 {
		return nil, ErrNoSinks
	}
	return f, nil
}

// UpdateChannel implements purelink.UpdateSink.
func (f *Fanout) UpdateChannel(ctx context.Context, unit purelink.Channel, n int, s string) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.UpdateChannel(ctx, unit, n, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
