// Package mqtttest provides an in-memory MQTT broker whose clients satisfy
// pahomqtt.Client, for tests that need a broker without running one.
//
// Delivery is synchronous: Publish returns after every matching subscriber
// callback has returned. Topic filters support the + and # wildcards.
package mqtttest

import (
	"errors"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned by tokens of operations on a closed client.
var ErrNotConnected = errors.New("mqtttest: not connected")

// ErrConnectionLost is passed to OnConnectionLost by Drop.
var ErrConnectionLost = errors.New("mqtttest: connection lost")

// Publication is one message accepted by the broker.
type Publication struct {
	ClientID string
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Broker routes publications between its clients.
type Broker struct {
	mu           sync.Mutex
	clients      []*Client
	published    []Publication
	connectErr   error
	connectHang  bool
	publishErr   error
	subscribeErr error
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{}
}

// NewClient creates a client bound to this broker. Its signature matches
// pahomqtt.NewClient so it can be passed as a client factory.
func (b *Broker) NewClient(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	c := &Client{
		broker: b,
		opts:   opts,
		subs:   make(map[string]pahomqtt.MessageHandler),
	}
	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	return c
}

// FailConnect makes later Connect calls fail with err. nil restores success.
func (b *Broker) FailConnect(err error) {
	b.mu.Lock()
	b.connectErr = err
	b.mu.Unlock()
}

// HangConnect makes later Connect tokens never complete.
func (b *Broker) HangConnect(hang bool) {
	b.mu.Lock()
	b.connectHang = hang
	b.mu.Unlock()
}

// FailPublish makes later Publish calls fail with err. nil restores success.
func (b *Broker) FailPublish(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// FailSubscribe makes later Subscribe calls fail with err. nil restores success.
func (b *Broker) FailSubscribe(err error) {
	b.mu.Lock()
	b.subscribeErr = err
	b.mu.Unlock()
}

// Published returns every accepted publication, oldest first.
func (b *Broker) Published() []Publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Publication(nil), b.published...)
}

// PublishedOn returns the accepted publications on topic.
func (b *Broker) PublishedOn(topic string) []Publication {
	var out []Publication
	for _, p := range b.Published() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Inject publishes a message as if it came from a client outside the test.
func (b *Broker) Inject(topic string, payload []byte) {
	b.route(Publication{ClientID: "", Topic: topic, Payload: payload})
}

// Client returns the most recent client created with clientID.
func (b *Broker) Client(clientID string) (*Client, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.clients) - 1; i >= 0; i-- {
		if b.clients[i].opts.ClientID == clientID {
			return b.clients[i], true
		}
	}
	return nil, false
}

// Drop ends the session of clientID uncleanly: the broker publishes its
// will and the client's connection-lost handler fires.
func (b *Broker) Drop(clientID string) bool {
	c, ok := b.Client(clientID)
	if !ok || !c.IsConnected() {
		return false
	}

	c.mu.Lock()
	c.connected = false
	c.subs = make(map[string]pahomqtt.MessageHandler)
	c.mu.Unlock()

	if c.opts.WillEnabled {
		b.route(Publication{
			ClientID: clientID,
			Topic:    c.opts.WillTopic,
			Payload:  c.opts.WillPayload,
			QoS:      c.opts.WillQos,
			Retained: c.opts.WillRetained,
		})
	}

	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(c, ErrConnectionLost)
	}
	return true
}

// Reconnect re-establishes a dropped session the way paho's automatic
// reconnect does: reconnecting handler, then connect handler. The session
// is clean, so subscriptions must be restored by the client.
func (b *Broker) Reconnect(clientID string) bool {
	c, ok := b.Client(clientID)
	if !ok || c.IsConnected() {
		return false
	}

	if c.opts.OnReconnecting != nil {
		c.opts.OnReconnecting(c, c.opts)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return true
}

func (b *Broker) route(p Publication) {
	b.mu.Lock()
	b.published = append(b.published, p)
	clients := append([]*Client(nil), b.clients...)
	b.mu.Unlock()

	for _, c := range clients {
		c.deliver(p)
	}
}

// Client is a pahomqtt.Client connected to a Broker.
type Client struct {
	broker *Broker
	opts   *pahomqtt.ClientOptions

	mu          sync.Mutex
	connected   bool
	subs        map[string]pahomqtt.MessageHandler
	disconnects int
}

var _ pahomqtt.Client = (*Client)(nil)

// IsConnected implements pahomqtt.Client.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsConnectionOpen implements pahomqtt.Client.
func (c *Client) IsConnectionOpen() bool {
	return c.IsConnected()
}

// Connect implements pahomqtt.Client. The connect handler runs on its own
// goroutine, as with paho.
func (c *Client) Connect() pahomqtt.Token {
	c.broker.mu.Lock()
	err, hang := c.broker.connectErr, c.broker.connectHang
	c.broker.mu.Unlock()

	if hang {
		return &token{hang: true}
	}
	if err != nil {
		return &token{err: err}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	if c.opts.OnConnect != nil {
		go c.opts.OnConnect(c)
	}
	return &token{}
}

// Disconnect implements pahomqtt.Client. A clean disconnect never
// publishes the will.
func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.subs = make(map[string]pahomqtt.MessageHandler)
	c.disconnects++
}

// Disconnects returns how many times Disconnect was called.
func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Publish implements pahomqtt.Client.
func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	if !c.IsConnected() {
		return &token{err: ErrNotConnected}
	}

	c.broker.mu.Lock()
	err := c.broker.publishErr
	c.broker.mu.Unlock()
	if err != nil {
		return &token{err: err}
	}

	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	default:
		return &token{err: errors.New("mqtttest: unknown payload type")}
	}

	c.broker.route(Publication{
		ClientID: c.opts.ClientID,
		Topic:    topic,
		Payload:  data,
		QoS:      qos,
		Retained: retained,
	})
	return &token{}
}

// Subscribe implements pahomqtt.Client.
func (c *Client) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	if !c.IsConnected() {
		return &token{err: ErrNotConnected}
	}

	c.broker.mu.Lock()
	err := c.broker.subscribeErr
	c.broker.mu.Unlock()
	if err != nil {
		return &token{err: err}
	}

	c.mu.Lock()
	c.subs[topic] = callback
	c.mu.Unlock()
	return &token{}
}

// SubscribeMultiple implements pahomqtt.Client.
func (c *Client) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	for topic, qos := range filters {
		if t := c.Subscribe(topic, qos, callback); t.Error() != nil {
			return t
		}
	}
	return &token{}
}

// Unsubscribe implements pahomqtt.Client.
func (c *Client) Unsubscribe(topics ...string) pahomqtt.Token {
	if !c.IsConnected() {
		return &token{err: ErrNotConnected}
	}

	c.mu.Lock()
	for _, topic := range topics {
		delete(c.subs, topic)
	}
	c.mu.Unlock()
	return &token{}
}

// AddRoute implements pahomqtt.Client.
func (c *Client) AddRoute(topic string, callback pahomqtt.MessageHandler) {
	c.mu.Lock()
	c.subs[topic] = callback
	c.mu.Unlock()
}

// OptionsReader implements pahomqtt.Client.
func (c *Client) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// Options returns the options the client was created with.
func (c *Client) Options() *pahomqtt.ClientOptions {
	return c.opts
}

// Subscriptions returns the topic filters currently subscribed.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	return topics
}

func (c *Client) deliver(p Publication) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	var handlers []pahomqtt.MessageHandler
	for filter, handler := range c.subs {
		if !Match(filter, p.Topic) {
			continue
		}
		if handler == nil {
			handler = c.opts.DefaultPublishHandler
		}
		if handler != nil {
			handlers = append(handlers, handler)
		}
	}
	c.mu.Unlock()

	msg := &message{topic: p.Topic, payload: p.Payload, qos: p.QoS, retained: p.Retained}
	for _, handler := range handlers {
		handler(c, msg)
	}
}

// Match reports whether topic matches the MQTT topic filter.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		switch {
		case f == "#":
			return true
		case i >= len(ts):
			return false
		case f != "+" && f != ts[i]:
			return false
		}
	}
	return len(fs) == len(ts)
}

type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return m.qos }
func (m *message) Retained() bool    { return m.retained }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}

type token struct {
	err  error
	hang bool
}

func (t *token) Wait() bool {
	return !t.hang
}

func (t *token) WaitTimeout(time.Duration) bool {
	return !t.hang
}

func (t *token) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.hang {
		close(ch)
	}
	return ch
}

func (t *token) Error() error {
	return t.err
}
