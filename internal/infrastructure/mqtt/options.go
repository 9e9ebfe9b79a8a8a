package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultMaxReconnectDelay caps the automatic reconnect backoff.
	defaultMaxReconnectDelay = 60 * time.Second

	// defaultQueueSize bounds the inbound delivery queue.
	defaultQueueSize = 256

	// Ports used when the caller leaves the port unset.
	defaultPort    = 1883
	defaultTLSPort = 8883

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// ConnectOptions describes one broker session.
type ConnectOptions struct {
	// Host is the broker host name or address. Required.
	Host string

	// Port is the broker port. Zero selects 1883 (8883 with TLS).
	Port int

	// TLS switches the scheme from tcp:// to ssl://.
	TLS bool

	// ClientID identifies the session at the broker. Required, and must be
	// unique per broker: a second session with the same ID evicts the first.
	ClientID string

	Username string
	Password string

	// Will, when set, is registered with the broker at connect time and
	// published by the broker if the session ends uncleanly.
	Will *Will

	// AutoReconnect re-establishes a lost session in the background.
	// The initial attempt made by Connect is never retried.
	AutoReconnect bool

	// MaxReconnectDelay caps the reconnect backoff. Zero selects 60s.
	MaxReconnectDelay time.Duration

	// ConnectTimeout bounds Connect. Zero selects 10s.
	ConnectTimeout time.Duration
}

// Will is the last-will message of a session.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// BrokerURL returns the connection URL for host and port.
// A non-positive port is omitted.
//
// Example: BrokerURL("localhost", 1883, false) returns "tcp://localhost:1883".
func BrokerURL(host string, port int, useTLS bool) string {
	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}
	if port <= 0 {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// brokerURL returns the URL actually dialled, with the default port filled in.
func (o ConnectOptions) brokerURL() string {
	port := o.Port
	if port <= 0 {
		port = defaultPort
		if o.TLS {
			port = defaultTLSPort
		}
	}
	return BrokerURL(o.Host, port, o.TLS)
}

func (o ConnectOptions) connectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return o.ConnectTimeout
}

// validate checks the fields Connect cannot default.
func (o ConnectOptions) validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w: broker host is required", ErrConnectionFailed)
	}
	if o.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrConnectionFailed)
	}
	if o.Will != nil {
		if o.Will.Topic == "" {
			return fmt.Errorf("%w: will %w", ErrConnectionFailed, ErrInvalidTopic)
		}
		if o.Will.QoS > maxQoS {
			return fmt.Errorf("%w: will %w", ErrConnectionFailed, ErrInvalidQoS)
		}
	}
	return nil
}

// buildClientOptions creates paho MQTT options for a session.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Last will (if provided)
//   - Auto-reconnect of an established session (never of the first attempt)
//   - TLS configuration (if enabled)
//   - Clean session mode
//
// Event handlers are attached by the caller.
func buildClientOptions(o ConnectOptions) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(o.brokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// Clean session: subscriptions are owned by the registry and restored
	// on every connect, so nothing is kept on the broker.
	opts.SetCleanSession(true)

	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(o.AutoReconnect)
	maxDelay := o.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxReconnectDelay
	}
	opts.SetMaxReconnectInterval(maxDelay)

	opts.SetConnectTimeout(o.connectTimeout())
	opts.SetKeepAlive(defaultKeepAlive)

	if o.Will != nil {
		opts.SetBinaryWill(o.Will.Topic, o.Will.Payload, o.Will.QoS, o.Will.Retained)
	}

	if o.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
