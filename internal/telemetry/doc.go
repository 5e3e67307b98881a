// Package telemetry exports gateway activity outside the websocket
// sessions.
//
// Metrics holds the Prometheus collectors served at the metrics path.
// StateRecorder implementations receive every aggregate connection state
// change of a target feature: Metrics keeps a gauge per target, the MQTT
// recorder mirrors state to retained topics and the InfluxDB recorder
// keeps history. Recorders combines them.
package telemetry
