package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/freesleep-core/internal/device"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Bridge        *BridgeMetrics  `json:"bridge,omitempty"`
	Pod           PodMetrics      `json:"pod"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// BridgeMetrics contains MQTT bridge counters.
type BridgeMetrics struct {
	Connected        bool   `json:"connected"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	StatePublishes   uint64 `json:"state_publishes"`
}

// PodMetrics summarises the cached pod state.
type PodMetrics struct {
	ID                  string            `json:"id"`
	Available           bool              `json:"available"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	BaseDetected        bool              `json:"base_detected"`
	Stale               []string          `json:"stale"`
	LastUpdated         map[string]string `json:"last_updated"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Pod: s.podMetrics(),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	if s.bridge != nil {
		stats := s.bridge.GetMetrics()
		metrics.Bridge = &BridgeMetrics{
			Connected:        stats.Connected,
			CommandsReceived: stats.CommandsReceived,
			CommandsFailed:   stats.CommandsFailed,
			StatePublishes:   stats.StatePublishes,
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// podMetrics summarises availability and freshness per category.
func (s *Server) podMetrics() PodMetrics {
	snap := s.state.Snapshot()
	pm := PodMetrics{
		ID:                  s.podID,
		Available:           snap.Available,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		BaseDetected:        snap.Base.Detected,
		Stale:               []string{},
		LastUpdated:         make(map[string]string),
	}
	for _, c := range device.Categories {
		f := snap.Freshness(c)
		if f.Stale {
			pm.Stale = append(pm.Stale, string(c))
		}
		if f.Loaded() {
			pm.LastUpdated[string(c)] = f.LastUpdated.UTC().Format(time.RFC3339)
		}
	}
	return pm
}
