package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPoll     = "fing_poll"
	MeasurementPresence = "fing_presence"
)

// WritePollMetrics records one successful poll of an entry.
func (c *Client) WritePollMetrics(entryID string, devices, online int, duration time.Duration) {
	c.WritePoint(MeasurementPoll,
		map[string]string{"entry_id": entryID},
		map[string]any{
			"devices":     devices,
			"online":      online,
			"duration_ms": duration.Milliseconds(),
		})
}

// WriteDevicePresence records whether one device was online at poll time.
// An empty hostname is left out of the tags.
func (c *Client) WriteDevicePresence(entryID, mac, hostname string, online bool) {
	tags := map[string]string{
		"entry_id": entryID,
		"mac":      mac,
	}
	if hostname != "" {
		tags["hostname"] = hostname
	}
	c.WritePoint(MeasurementPresence, tags, map[string]any{"online": online})
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
