// Package influxdb writes pod telemetry to InfluxDB v2.
//
// Per-side temperatures, water level, base angles and vitals are written
// as points whenever the pod bridge merges a successful poll. Writes are
// batched and never block the poll loops.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
package influxdb
