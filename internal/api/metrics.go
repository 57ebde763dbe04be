package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                 `json:"timestamp"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Runtime       RuntimeMetrics         `json:"runtime"`
	WebSocket     WSMetrics              `json:"websocket"`
	Bridge        purelink.BridgeMetrics `json:"bridge"`
	Channels      int                    `json:"channels"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleMetrics returns bridge counters plus process statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Bridge:   s.bridge.GetMetrics(),
		Channels: len(s.channels.List(r.Context())),
	})
}
