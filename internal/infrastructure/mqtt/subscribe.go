package mqtt

import (
	"fmt"
)

// Subscribe binds handler to the exact topic and subscribes at the broker
// with the client's QoS.
//
// Subscribing to a topic that is already bound replaces its listener; the
// last writer wins. Bindings survive automatic reconnects.
//
// Parameters:
//   - topic: The exact topic to subscribe to
//   - handler: Callback invoked for each message on topic
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	err := client.Subscribe(mqtt.Topics{}.Peer("sensors", uid),
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
func (c *Client) Subscribe(topic string, handler Handler) error {
	return c.registry.Subscribe(topic, handler)
}

// Unsubscribe removes the binding for topic and unsubscribes at the broker.
// Unknown topics are a no-op.
func (c *Client) Unsubscribe(topic string) error {
	return c.registry.Unsubscribe(topic)
}

// UnsubscribeAll removes every binding.
func (c *Client) UnsubscribeAll() error {
	return c.registry.UnsubscribeAll()
}

// SubscriptionCount returns the number of bound topics.
func (c *Client) SubscriptionCount() int {
	return c.registry.Len()
}

// HasSubscription checks if a binding exists for the exact topic.
func (c *Client) HasSubscription(topic string) bool {
	return c.registry.Has(topic)
}

// subscribe performs the broker side of Registry.Subscribe.
func (c *Client) subscribe(topic string) error {
	c.stateMu.RLock()
	box := c.inbox
	c.stateMu.RUnlock()

	client := c.connectedClient()
	if client == nil || box == nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, ErrNotConnected)
	}

	token := client.Subscribe(topic, c.qos, c.enqueueTo(box))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// unsubscribe performs the broker side of Registry.Unsubscribe.
func (c *Client) unsubscribe(topic string) error {
	client := c.connectedClient()
	if client == nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, ErrNotConnected)
	}

	token := client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}
