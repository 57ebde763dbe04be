package host

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []purelink.ChannelValue
	err     error
}

func (r *recordingSink) UpdateChannel(_ context.Context, unit purelink.Channel, n int, s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, purelink.ChannelValue{Channel: unit, NValue: n, SValue: s})
	return r.err
}

func TestNewFanoutRequiresSink(t *testing.T) {
	if _, err := NewFanout(); !errors.Is(err, ErrNoSinks) {
		t.Errorf("NewFanout() error = %v, want ErrNoSinks", err)
	}
	if _, err := NewFanout(nil, nil); !errors.Is(err, ErrNoSinks) {
		t.Errorf("NewFanout(nil, nil) error = %v, want ErrNoSinks", err)
	}
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	boom := errors.New("hub closed")
	first := &recordingSink{err: boom}
	second := &recordingSink{}

	f, err := NewFanout(first, nil, second)
	if err != nil {
		t.Fatalf("NewFanout() error = %v", err)
	}

	err = f.UpdateChannel(context.Background(), purelink.ChannelFanSpeed, 1, "40")
	if !errors.Is(err, boom) {
		t.Errorf("UpdateChannel() error = %v, want %v", err, boom)
	}
	for i, s := range []*recordingSink{first, second} {
		if len(s.updates) != 1 || s.updates[0].SValue != "40" {
			t.Errorf("sink %d updates = %+v", i, s.updates)
		}
	}
}
