package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outbound payloads. Device messages are a few hundred
// bytes.
const maxPayloadSize = 1 << 20

// checkTopic validates the arguments shared by Publish and Subscribe.
func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// await waits for token up to the operation timeout and wraps any failure
// in op.
func await(token pahomqtt.Token, op error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", op, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}

// Publish sends payload to topic and waits for the broker to accept it
// (QoS 1/2) or for the write to complete (QoS 0). Nothing is retried.
//
// Example:
//
//	err := client.Publish("475/NN2-EU-JEA3830A/command", payload, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// Subscribe registers handler for topic. Handlers run on paho goroutines
// behind panic recovery and must not block for long.
//
// Subscriptions are not restored after a lost connection; the caller
// subscribes again on the next session.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler is nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed)
}

// Unsubscribe stops delivery for a topic previously passed to Subscribe.
// Messages already in flight may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}
