package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"
)

// ConnectionChecker reports whether a backing connection is up.
type ConnectionChecker interface {
	IsConnected() bool
}

// StatsProvider exposes connection pool statistics.
type StatsProvider interface {
	Stats() sql.DBStats
}

// SystemMetrics is the /metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          *MQTTMetrics     `json:"mqtt,omitempty"`
	Entries       []EntryMetrics   `json:"entries"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
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

// EntryMetrics summarises one loaded entry's last poll.
type EntryMetrics struct {
	EntryID           string `json:"entry_id"`
	Title             string `json:"title"`
	Devices           int    `json:"devices"`
	Online            int    `json:"online"`
	Entities          int    `json:"entities"`
	AlertMode         bool   `json:"alert_mode"`
	LastUpdateSuccess bool   `json:"last_update_success"`
	LastPollAgeSec    *int64 `json:"last_poll_age_seconds,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := time.Now()
	metrics := SystemMetrics{
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(now.Sub(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(mem.TotalAlloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Entries:   []EntryMetrics{},
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	for _, rt := range s.manager.Runtimes() {
		coord := rt.Coordinator()
		em := EntryMetrics{
			EntryID:           rt.ID(),
			Title:             rt.Entry().Title,
			Entities:          len(rt.Entities()),
			AlertMode:         rt.AlertMode(),
			LastUpdateSuccess: coord.LastUpdateSuccess(),
		}
		if err := coord.LastError(); err != nil {
			em.LastError = err.Error()
		}
		if snap := rt.Data(); snap != nil {
			em.Devices = snap.Devices.Len()
			em.Online = rt.OnlineCount(snap)
			age := int64(now.Sub(snap.FetchedAt).Seconds())
			em.LastPollAgeSec = &age
		}
		metrics.Entries = append(metrics.Entries, em)
	}

	if s.db != nil {
		st := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
