// Package influxdb records connection state history in InfluxDB v2.
//
// Each aggregate state change of a target feature becomes one point in
// the "connection_state" measurement, tagged by session, target, feature
// and state name. Writes are batched and non-blocking; a slow or absent
// InfluxDB never delays a client session.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history not configured
//	}
//	client.WriteConnectionState(influxdb.StatePoint{Target: "r1", State: "CONNECTED"})
package influxdb
