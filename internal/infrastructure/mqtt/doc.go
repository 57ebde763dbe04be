// Package mqtt provides the MQTT client used to talk to a device's on-board
// broker.
//
// This package manages:
//   - A single connection attempt with a bounded wait (no auto-reconnect)
//   - Message publishing with QoS validation
//   - Topic subscriptions with panic-safe handlers
//   - Broker return codes surfaced as *RefusedError
//   - Connection-lost notification via Options.OnConnectionLost
//
// Reconnection is the caller's job. Auto-reconnect and connect-retry are
// disabled so a refused or dropped session is visible immediately.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, mqtt.Options{
//	    Host:     "192.168.1.20",
//	    Port:     1883,
//	    ClientID: "purelink-1b2c",
//	    Username: serial,
//	    Password: credential,
//	    OnConnectionLost: func(err error) { ... },
//	})
//	if err != nil {
//	    var refused *mqtt.RefusedError
//	    if errors.As(err, &refused) { ... refused.Code ... }
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(statusTopic, 0, func(topic string, payload []byte) error {
//	    return nil
//	})
package mqtt
