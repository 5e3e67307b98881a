package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementConnectionState is the measurement name for state history points.
const MeasurementConnectionState = "connection_state"

// StatePoint is one aggregate connection state change of a target feature.
type StatePoint struct {
	Session string
	Target  string
	Feature string
	Child   string

	// State is the wire name (e.g. "CONNECTED"); Level is its ordinal so
	// queries can take max() across targets.
	State  string
	Level  int
	Up     bool
	Reason string
	Time   time.Time
}

// WriteConnectionState records a state change. The write is non-blocking;
// points are batched and sent asynchronously.
func (c *Client) WriteConnectionState(p StatePoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectionStatePoint(p))
}

func connectionStatePoint(p StatePoint) *write.Point {
	at := p.Time
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]interface{}{
		"level": p.Level,
		"up":    p.Up,
		"child": p.Child,
	}
	if p.Reason != "" {
		fields["reason"] = p.Reason
	}

	return write.NewPoint(
		MeasurementConnectionState,
		map[string]string{
			"session": p.Session,
			"target":  p.Target,
			"feature": p.Feature,
			"state":   p.State,
		},
		fields,
		at,
	)
}
