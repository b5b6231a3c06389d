package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the pod bridge.
const (
	MeasurementPodSide   = "pod_side"
	MeasurementPodStatus = "pod_status"
	MeasurementPodBase   = "pod_base"
	MeasurementPodVitals = "pod_vitals"
)

// WritePoint writes a point stamped with the current time.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint(influxdb.MeasurementPodSide,
//	    map[string]string{"pod": "bedroom", "side": "left"},
//	    map[string]any{"current_temperature_f": 81.5, "target_temperature_f": 80})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp, used when
// the sample time is the poll time rather than now.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
