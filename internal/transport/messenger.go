package transport

import (
	"fmt"
	"strings"

	"github.com/nerrad567/herald-mqtt/internal/infrastructure/mqtt"
)

// Connection is the broker surface the Messenger needs.
// *mqtt.Client implements it.
type Connection interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, handler mqtt.Handler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Listener receives decoded envelopes.
type Listener func(topic string, env Envelope)

// Messenger sends and receives envelopes on Herald topics of one
// application.
//
// Thread Safety:
//   - Send methods may be called concurrently.
//   - Listeners run on the connection's dispatch goroutine, one at a time.
type Messenger struct {
	conn   Connection
	topics mqtt.Topics
	appID  string
	qos    byte
	logger Logger

	// onMalformed is called for every inbound payload that fails to decode.
	onMalformed func(topic string, err error)
}

// MessengerOptions configures a Messenger. Zero values select defaults.
type MessengerOptions struct {
	Topics      mqtt.Topics
	QoS         byte
	Logger      Logger
	OnMalformed func(topic string, err error)
}

// NewMessenger creates a messenger for appID over conn.
func NewMessenger(conn Connection, appID string, opts MessengerOptions) *Messenger {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Messenger{
		conn:        conn,
		topics:      opts.Topics,
		appID:       appID,
		qos:         opts.QoS,
		logger:      logger,
		onMalformed: opts.OnMalformed,
	}
}

// Topics returns the topic namer in use.
func (m *Messenger) Topics() mqtt.Topics {
	return m.topics
}

// AppID returns the application the messenger's topics belong to.
func (m *Messenger) AppID() string {
	return m.appID
}

// Send encodes env and publishes it on topic.
//
// Encoding failures wrap ErrSerialization and nothing is published.
// Broker failures wrap ErrPublish together with the mqtt cause, so
// errors.Is(err, mqtt.ErrNotConnected) holds after a disconnect.
func (m *Messenger) Send(topic string, env Envelope) error {
	payload, err := Encode(env)
	if err != nil {
		return err
	}

	if err := m.conn.Publish(topic, payload, m.qos, false); err != nil {
		return fmt.Errorf("%w on %s: %w", ErrPublish, topic, err)
	}

	return nil
}

// SendToPeer sends env to the unicast topic of peerUID.
func (m *Messenger) SendToPeer(peerUID string, env Envelope) error {
	return m.Send(m.topics.Peer(m.appID, peerUID), env)
}

// SendToGroup sends env to the multicast topic of group.
func (m *Messenger) SendToGroup(group string, env Envelope) error {
	return m.Send(m.topics.Group(m.appID, group), env)
}

// Listen binds listener to topic. Payloads that do not decode are logged
// and dropped; listener never sees them.
func (m *Messenger) Listen(topic string, listener Listener) error {
	return m.conn.Subscribe(topic, func(topic string, payload []byte) error {
		env, err := Decode(payload)
		if err != nil {
			m.logger.Warn("dropping malformed envelope",
				"topic", topic,
				"bytes", len(payload),
				"error", err,
			)
			if m.onMalformed != nil {
				m.onMalformed(topic, err)
			}
			return nil
		}

		listener(topic, env)
		return nil
	})
}

// ListenPeer binds listener to the unicast topic of peerUID.
func (m *Messenger) ListenPeer(peerUID string, listener Listener) error {
	return m.Listen(m.topics.Peer(m.appID, peerUID), listener)
}

// ListenGroup binds listener to the multicast topic of group.
func (m *Messenger) ListenGroup(group string, listener Listener) error {
	return m.Listen(m.topics.Group(m.appID, group), listener)
}

// ListenLiveness binds fn to the application's last-will topic. Will
// payloads are bare peer UIDs, not envelopes.
func (m *Messenger) ListenLiveness(fn func(peerUID string)) error {
	return m.conn.Subscribe(m.topics.Liveness(m.appID), func(_ string, payload []byte) error {
		fn(strings.TrimSpace(string(payload)))
		return nil
	})
}

// Forget removes the listener of topic.
func (m *Messenger) Forget(topic string) error {
	return m.conn.Unsubscribe(topic)
}

// Connected reports whether sends can currently succeed.
func (m *Messenger) Connected() bool {
	return m.conn.IsConnected()
}
