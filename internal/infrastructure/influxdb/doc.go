// Package influxdb records poll telemetry in InfluxDB.
//
// It wraps influxdb-client-go v2 with connection management, batched
// non-blocking writes and health checks. The bridge writes two
// measurements:
//
//	fing_poll      one point per successful poll (devices, online, duration_ms)
//	fing_presence  one point per device per poll (online), tagged by MAC
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePollMetrics("entry-1", 42, 37, 180*time.Millisecond)
//
// Writes are batched according to batch_size and flush_interval. Write
// errors arrive asynchronously through SetOnError.
package influxdb
