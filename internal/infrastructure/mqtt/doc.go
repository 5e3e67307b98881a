// Package mqtt publishes gateway connection state to an MQTT broker.
//
// When enabled, every change of a target feature's aggregate connection
// state is published retained on
//
//	{prefix}/state/{target}/{feature}
//
// and the gateway's own liveness on {prefix}/system/status, backed by a
// Last Will so a crash is visible to subscribers.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().ConnectionState("router1", "cli_exec")
//	err = client.PublishRetained(topic, payload)
package mqtt
