// Package influxdb records bridge telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring. The bridge writes one
// purelink_cycle point per update, command or reconnect cycle; sensor
// readings stay on the host channels.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Device.Serial)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordCycle("update", "ok", 180*time.Millisecond)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write errors arrive asynchronously through SetOnError. Connection and
// health check errors are returned directly.
package influxdb
