package influxdb

import (
	"maps"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// cycleMeasurement holds one point per synchronizer cycle.
const cycleMeasurement = "purelink_cycle"

// RecordCycle writes one purelink_cycle point tagged with kind (update,
// command, connect) and outcome (ok, timeout, failed, not_connected). It
// satisfies purelink.Telemetry.
func (c *Client) RecordCycle(kind, outcome string, duration time.Duration) {
	c.WritePoint(cycleMeasurement,
		map[string]string{"kind": kind, "outcome": outcome},
		map[string]any{
			"duration_ms": float64(duration) / float64(time.Millisecond),
			"count":       1,
		},
	)
}

// WritePoint queues a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a point at timestamp. The serial tag is added
// when the client has one; the caller's map is not modified.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	tagged := maps.Clone(tags)
	if tagged == nil {
		tagged = make(map[string]string, 1)
	}
	if c.serial != "" {
		tagged["serial"] = c.serial
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tagged, fields, timestamp))
}
