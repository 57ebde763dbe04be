package host

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the host side of the bridge: the set of channels the
// purifier is shown as, with their last written values.
//
// It caches rows in memory and writes through to the repository only when a
// value actually changes. All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[purelink.Channel]Channel
	cacheMu sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[purelink.Channel]Channel),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// EnsureChannels creates any missing channel and loads every row into the
// cache. Existing rows keep their values.
func (r *Registry) EnsureChannels(ctx context.Context, specs []purelink.ChannelSpec) error {
	created := 0
	for _, spec := range specs {
		ok, err := r.repo.Create(ctx, spec)
		if err != nil {
			return err
		}
		if ok {
			created++
			r.logger.Info("channel created", "unit", int(spec.Channel), "name", spec.Name)
		}
	}

	channels, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading channels: %w", err)
	}

	r.cacheMu.Lock()
	r.cache = make(map[purelink.Channel]Channel, len(channels))
	for _, ch := range channels {
		r.cache[ch.Unit] = ch
	}
	r.cacheMu.Unlock()

	r.logger.Debug("channels loaded", "count", len(channels), "created", created)
	return nil
}

// UpdateChannel stores a channel value. Writing the value a channel already
// holds is a no-op.
func (r *Registry) UpdateChannel(ctx context.Context, unit purelink.Channel, n int, s string) error {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	ch, ok := r.cache[unit]
	if !ok {
		return fmt.Errorf("%w: unit %d", ErrChannelNotFound, unit)
	}
	if ch.holds(n, s) {
		return nil
	}

	at := r.now().UTC()
	if err := r.repo.SetValue(ctx, unit, n, s, at); err != nil {
		return err
	}
	ch.NValue, ch.SValue, ch.UpdatedAt = n, s, &at
	r.cache[unit] = ch

	r.logger.Debug("channel updated", "unit", int(unit), "n_value", n, "s_value", s)
	return nil
}

// Get returns a channel by unit.
func (r *Registry) Get(_ context.Context, unit purelink.Channel) (Channel, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	ch, ok := r.cache[unit]
	if !ok {
		return Channel{}, ErrChannelNotFound
	}
	return ch, nil
}

// List returns all channels in unit order.
func (r *Registry) List(_ context.Context) []Channel {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]Channel, 0, len(r.cache))
	for _, ch := range r.cache {
		out = append(out, ch)
	}
	slices.SortFunc(out, func(a, b Channel) int { return cmp.Compare(a.Unit, b.Unit) })
	return out
}
