package host

import (
	"time"

	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

// Channel is one host channel row: its identity and the last value written.
type Channel struct {
	Unit      purelink.Channel     `json:"unit"`
	Name      string               `json:"name"`
	Kind      purelink.ChannelKind `json:"kind"`
	NValue    int                  `json:"n_value"`
	SValue    string               `json:"s_value"`
	UpdatedAt *time.Time           `json:"updated_at,omitempty"`
}

// Value returns the channel's current value as a host update.
func (c Channel) Value() purelink.ChannelValue {
	return purelink.ChannelValue{Channel: c.Unit, NValue: c.NValue, SValue: c.SValue}
}

// holds reports whether the channel already shows n and s.
func (c Channel) holds(n int, s string) bool {
	return c.UpdatedAt != nil && c.NValue == n && c.SValue == s
}
