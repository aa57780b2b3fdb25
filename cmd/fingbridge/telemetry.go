package main

import (
	"time"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
	"github.com/nerrad567/fing-bridge/internal/entry"
	"github.com/nerrad567/fing-bridge/internal/fing"
)

// pollWriter is the subset of *influxdb.Client used for telemetry.
type pollWriter interface {
	WritePollMetrics(entryID string, devices, online int, duration time.Duration)
	WriteDevicePresence(entryID, mac, hostname string, online bool)
}

// telemetrySink writes one poll summary and one presence point per device
// after every successful poll.
type telemetrySink struct {
	entry.BaseObserver
	w pollWriter
}

func newTelemetrySink(w pollWriter) *telemetrySink {
	return &telemetrySink{w: w}
}

func (t *telemetrySink) PollCompleted(rt *entry.Runtime, snap *coordinator.Snapshot) {
	t.record(rt.ID(), snap, rt.IsOnline)
}

func (t *telemetrySink) record(entryID string, snap *coordinator.Snapshot, online func(fing.Device) bool) {
	if snap == nil {
		return
	}
	count := 0
	for _, d := range snap.Devices.Devices {
		on := online(d)
		if on {
			count++
		}
		t.w.WriteDevicePresence(entryID, d.MAC, d.Hostname, on)
	}
	t.w.WritePollMetrics(entryID, snap.Devices.Len(), count, snap.Duration)
}
