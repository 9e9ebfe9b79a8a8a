package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client owns a single broker session and the registry routing its inbound
// traffic.
//
// Inbound messages are copied off the paho callback into a bounded queue
// and dispatched to the registry by one goroutine per session. When the
// queue is full the delivery is dropped and counted.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Connect and Disconnect are serialised.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
	qos       byte
	queueSize int

	registry *Registry

	// lifecycleMu serialises Connect and Disconnect.
	lifecycleMu sync.Mutex

	// stateMu guards the session fields below. Paho callbacks only take
	// stateMu, never lifecycleMu.
	stateMu sync.RWMutex
	client  pahomqtt.Client
	options ConnectOptions
	state   ConnectionState
	session uint64 // bumped by Connect and Disconnect; stale callbacks compare against it
	inbox   *inbox

	// Callbacks for connection events (optional).
	onConnect        func()
	onConnectionLost func(err error)
	callbackMu       sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	published    atomic.Uint64
	queueDropped atomic.Uint64
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// delivery is one inbound message copied off the paho callback.
type delivery struct {
	topic   string
	payload []byte
}

// inbox is the delivery queue of one session. done is closed when the
// session ends; the dispatcher exits and late paho callbacks are ignored.
type inbox struct {
	queue chan delivery
	done  chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientFactory replaces pahomqtt.NewClient. Tests use it to run against
// an in-memory broker.
func WithClientFactory(factory func(*pahomqtt.ClientOptions) pahomqtt.Client) ClientOption {
	return func(c *Client) {
		if factory != nil {
			c.newClient = factory
		}
	}
}

// WithQoS sets the QoS used for subscriptions and by PublishDefault.
// Values above 2 are ignored.
func WithQoS(qos byte) ClientOption {
	return func(c *Client) {
		if qos <= maxQoS {
			c.qos = qos
		}
	}
}

// WithQueueSize bounds the inbound delivery queue. Non-positive values
// keep the default of 256.
func WithQueueSize(size int) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithLogger sets the logger used by the client and its registry.
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a disconnected client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		newClient: pahomqtt.NewClient,
		qos:       1,
		queueSize: defaultQueueSize,
		logger:    noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registry = newRegistry(c, c.logger)
	return c
}

// Connect establishes a session with the broker.
//
// It performs the following setup:
//  1. Builds connection options (broker URL, auth, TLS, will)
//  2. Attempts the connection once, bounded by ConnectOptions.ConnectTimeout
//  3. Starts the dispatch goroutine for inbound deliveries
//
// A failed attempt leaves the client in StateFailed with no session; it is
// not retried. Connect returns ErrAlreadyConnected while a session exists.
func (c *Client) Connect(o ConnectOptions) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if err := o.validate(); err != nil {
		return err
	}

	c.stateMu.Lock()
	if c.client != nil {
		c.stateMu.Unlock()
		return ErrAlreadyConnected
	}
	c.session++
	session := c.session
	c.state = StateConnecting
	box := &inbox{
		queue: make(chan delivery, c.queueSize),
		done:  make(chan struct{}),
	}
	c.stateMu.Unlock()

	opts := buildClientOptions(o)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect(session)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(session, err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.handleReconnecting(session)
	})
	opts.SetDefaultPublishHandler(c.enqueueTo(box))

	client := c.newClient(opts)
	token := client.Connect()
	timeout := o.connectTimeout()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		c.setState(session, StateFailed)
		return fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		c.setState(session, StateFailed)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.stateMu.Lock()
	c.client = client
	c.options = o
	c.inbox = box
	// The connect handler runs asynchronously and may not have executed
	// yet, so the state is set here as well.
	if c.session == session {
		c.state = StateConnected
	}
	c.stateMu.Unlock()

	go c.dispatch(box)

	c.getLogger().Info("mqtt connected",
		"broker", o.brokerURL(),
		"client_id", o.ClientID,
	)

	return nil
}

// Disconnect closes the session: every registry binding is removed (and
// unsubscribed at the broker while the link is up), then the session is
// closed with a short quiesce. A clean close suppresses the will.
//
// Disconnect without a session is a no-op.
func (c *Client) Disconnect() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.stateMu.RLock()
	client := c.client
	c.stateMu.RUnlock()

	if client == nil {
		return nil
	}

	if err := c.registry.UnsubscribeAll(); err != nil {
		c.getLogger().Debug("mqtt unsubscribe during disconnect failed", "error", err)
	}

	c.stateMu.Lock()
	c.session++
	c.client = nil
	c.state = StateDisconnected
	box := c.inbox
	c.inbox = nil
	c.stateMu.Unlock()

	client.Disconnect(defaultDisconnectQuiesce)
	close(box.done)

	c.getLogger().Info("mqtt disconnected", "client_id", c.options.ClientID)

	return nil
}

// handleConnect is called by paho when a connection (initial or automatic
// reconnect) is established.
func (c *Client) handleConnect(session uint64) {
	c.stateMu.Lock()
	if session != c.session {
		c.stateMu.Unlock()
		return
	}
	c.state = StateConnected
	client := c.client
	box := c.inbox
	c.stateMu.Unlock()

	// On the initial connect Connect has not stored the session yet and no
	// subscription can exist.
	if client != nil && box != nil {
		c.restoreSubscriptions(client, box)
	}

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleConnectionLost is called by paho when an established session drops.
func (c *Client) handleConnectionLost(session uint64, err error) {
	c.stateMu.Lock()
	if session != c.session {
		c.stateMu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.stateMu.Unlock()

	c.getLogger().Warn("mqtt connection lost", "error", err)

	c.callbackMu.RLock()
	callback := c.onConnectionLost
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) handleReconnecting(session uint64) {
	c.setState(session, StateConnecting)
	c.getLogger().Debug("mqtt reconnecting")
}

// restoreSubscriptions re-subscribes to all bound topics after reconnect.
// paho does the network work asynchronously; failures are only logged.
func (c *Client) restoreSubscriptions(client pahomqtt.Client, box *inbox) {
	for _, topic := range c.registry.Topics() {
		token := client.Subscribe(topic, c.qos, c.enqueueTo(box))
		go func(topic string) {
			if token.WaitTimeout(defaultPublishTimeout) && token.Error() == nil {
				return
			}
			c.getLogger().Warn("mqtt resubscribe failed", "topic", topic, "error", token.Error())
		}(topic)
	}
}

func (c *Client) setState(session uint64, state ConnectionState) {
	c.stateMu.Lock()
	if session == c.session {
		c.state = state
	}
	c.stateMu.Unlock()
}

// enqueueTo returns the paho handler feeding box. It never blocks.
func (c *Client) enqueueTo(box *inbox) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		select {
		case <-box.done:
			return
		default:
		}

		payload := append([]byte(nil), msg.Payload()...)
		select {
		case box.queue <- delivery{topic: msg.Topic(), payload: payload}:
		default:
			c.queueDropped.Add(1)
			c.getLogger().Warn("mqtt delivery queue full, dropping message",
				"topic", msg.Topic(),
				"queue_size", cap(box.queue),
			)
		}
	}
}

// dispatch hands queued deliveries to the registry until the session ends.
func (c *Client) dispatch(box *inbox) {
	for {
		select {
		case <-box.done:
			return
		case d := <-box.queue:
			c.registry.OnDelivery(d.topic, d.payload)
		}
	}
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, c.State())
	}

	return nil
}

// IsConnected reports whether a session is established and its link is up.
func (c *Client) IsConnected() bool {
	return c.connectedClient() != nil
}

// connectedClient returns the paho client when usable, nil otherwise.
func (c *Client) connectedClient() pahomqtt.Client {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.client == nil || c.state != StateConnected || !c.client.IsConnected() {
		return nil
	}
	return c.client
}

// State returns the current lifecycle state.
func (c *Client) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Registry returns the subscription registry routing this client's traffic.
func (c *Client) Registry() *Registry {
	return c.registry
}

// QoS returns the QoS used for subscriptions.
func (c *Client) QoS() byte {
	return c.qos
}

// Stats is a snapshot of the client's traffic counters.
type Stats struct {
	Published    uint64
	Delivered    uint64
	Unrouted     uint64
	QueueDropped uint64
}

// Stats returns the traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		Published:    c.published.Load(),
		Delivered:    c.registry.Delivered(),
		Unrouted:     c.registry.Dropped(),
		QueueDropped: c.queueDropped.Load(),
	}
}

// SetOnConnect sets a callback to be invoked when a connection is
// established. This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnConnectionLost sets a callback to be invoked when an established
// session drops. It is not called for Disconnect.
func (c *Client) SetOnConnectionLost(callback func(err error)) {
	c.callbackMu.Lock()
	c.onConnectionLost = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for the client and its registry.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.registry.setLogger(logger)
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
