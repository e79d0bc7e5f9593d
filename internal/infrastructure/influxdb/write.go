package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/fm-presence/internal/presence"
)

// MeasurementPresence is the measurement presence transitions are written to.
const MeasurementPresence = "presence"

var _ presence.HistoryRecorder = (*Client)(nil)

// RecordTransition writes one presence transition.
//
// The point is tagged with the device and its new classification so
// dashboards can count devices per state. The connected field is 1 only
// for the connected state.
//
//	presence,device_id=bin-7,site=farm-001,state=connected from="new",connected=1i
func (c *Client) RecordTransition(deviceID string, from, to presence.Classification) {
	connected := 0
	if to == presence.ClassConnected {
		connected = 1
	}

	c.writePoint(MeasurementPresence,
		map[string]string{
			"device_id": deviceID,
			"state":     string(to),
		},
		map[string]any{
			"from":      string(from),
			"connected": connected,
		},
		time.Now(),
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
