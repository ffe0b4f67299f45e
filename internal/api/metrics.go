package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the payload of GET /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Gateway       GatewayMetrics    `json:"gateway"`
	Devices       DeviceMetrics     `json:"devices"`
	ReportState   ReportStateCounts `json:"report_state"`
}

// RuntimeMetrics reports Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines int    `json:"goroutines"`
	AllocMB    uint64 `json:"alloc_mb"`
	SysMB      uint64 `json:"sys_mb"`
	NumGC      uint32 `json:"num_gc"`
}

// WSMetrics reports the operator debug feed's connection count.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// GatewayMetrics reports the gateway listener's live connection count.
type GatewayMetrics struct {
	LiveConnections int `json:"live_connections"`
}

// DeviceMetrics reports the device repository's catalog size.
type DeviceMetrics struct {
	Users         int    `json:"users"`
	Total         int    `json:"total"`
	WatchdogTrips uint64 `json:"watchdog_trips"`
}

// ReportStateCounts reports the report-state publisher's running counters.
type ReportStateCounts struct {
	Success uint64 `json:"success"`
	Failure uint64 `json:"failure"`
	Dropped uint64 `json:"dropped"`
}

const bytesPerMB = 1024 * 1024

// handleMetrics returns a snapshot of the bridge's operational metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines: runtime.NumGoroutine(),
			AllocMB:    memStats.Alloc / bytesPerMB,
			SysMB:      memStats.Sys / bytesPerMB,
			NumGC:      memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	if s.connections != nil {
		metrics.Gateway.LiveConnections = s.connections.ConnectionCount()
	}

	if s.devices != nil {
		stats := s.devices.Stats()
		metrics.Devices = DeviceMetrics{
			Users:         stats.Users,
			Total:         stats.Devices,
			WatchdogTrips: stats.WatchdogTrips,
		}
	}

	if s.reportState != nil {
		success, failure, dropped := s.reportState.Counts()
		metrics.ReportState = ReportStateCounts{Success: success, Failure: failure, Dropped: dropped}
	}

	writeJSON(w, http.StatusOK, metrics)
}
