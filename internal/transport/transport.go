package transport

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/nerrad567/herald-mqtt/internal/herald"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/mqtt"
)

// Broker is the connection manager the transport drives.
// *mqtt.Client implements it.
type Broker interface {
	Connection
	Connect(opts mqtt.ConnectOptions) error
	Disconnect() error
	SetOnConnect(callback func())
	SetOnConnectionLost(callback func(err error))
}

// Options configures a Transport.
type Options struct {
	// Config holds broker, credential, QoS and topic settings.
	Config config.MQTTConfig

	// Directory is the peer directory. Required.
	Directory herald.Directory

	// Core receives inbound messages. Optional.
	Core herald.Core

	// Broker is the connection manager. Nil creates an *mqtt.Client from Config.
	Broker Broker

	Logger    Logger
	Telemetry Telemetry
}

// Transport binds the bus onto MQTT: it sends messages to peers and
// groups, listens on the local peer's topics and on the application's
// last-will topic, and advertises its own address in peer descriptions.
//
// Thread Safety:
//   - Fire, FireGroup, Broadcast and UpdateDescription may be called
//     concurrently, also while Start or Stop runs.
//   - Start and Stop are serialised.
type Transport struct {
	cfg       config.MQTTConfig
	topics    mqtt.Topics
	dir       herald.Directory
	core      herald.Core
	broker    Broker
	messenger *Messenger
	glue      *Directory
	logger    Logger
	telemetry Telemetry

	lifecycleMu sync.Mutex

	mu      sync.RWMutex
	running bool
	lost    bool // session dropped while running, not yet restored
	local   *herald.Peer
	own     PeerAddress

	onPeerLost   func(peer *herald.Peer)
	onPeerLostMu sync.RWMutex

	onReconnect   func()
	onReconnectMu sync.RWMutex
}

// New creates a stopped transport.
func New(opts Options) (*Transport, error) {
	if opts.Directory == nil {
		return nil, ErrNoDirectory
	}
	local := opts.Directory.LocalPeer()
	if local == nil {
		return nil, fmt.Errorf("%w: directory has no local peer", ErrNoDirectory)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	telemetry := opts.Telemetry
	if telemetry == nil {
		telemetry = noopTelemetry{}
	}
	core := opts.Core
	if core == nil {
		core = herald.CoreFunc(func(*herald.MessageReceived) {})
	}

	qos := opts.Config.QoS
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("transport: invalid qos %d", qos)
	}

	broker := opts.Broker
	if broker == nil {
		broker = mqtt.NewClient(
			mqtt.WithQoS(byte(qos)),
			mqtt.WithQueueSize(opts.Config.DeliveryQueueSize),
			mqtt.WithLogger(logger),
		)
	}

	t := &Transport{
		cfg:       opts.Config,
		topics:    mqtt.Topics{Prefix: opts.Config.TopicPrefix},
		dir:       opts.Directory,
		core:      core,
		broker:    broker,
		glue:      NewDirectory(local.UID()),
		logger:    logger,
		telemetry: telemetry,
		local:     local,
	}

	t.messenger = NewMessenger(broker, local.AppID(), MessengerOptions{
		Topics: t.topics,
		QoS:    byte(qos),
		Logger: logger,
		OnMalformed: func(topic string, _ error) {
			t.telemetry.RecordDelivery(DirectionIn, t.category(topic), OutcomeMalformed)
		},
	})

	broker.SetOnConnectionLost(t.handleSessionLost)
	broker.SetOnConnect(t.handleSessionRestored)
	if client, ok := broker.(*mqtt.Client); ok {
		client.Registry().SetOnDrop(func(topic string) {
			t.telemetry.RecordDelivery(DirectionIn, t.category(topic), OutcomeUnrouted)
		})
	}

	return t, nil
}

// Start connects to the broker with the local peer's last will and
// listens on the liveness topic, the local peer's topic and one topic per
// local group.
//
// A failed start leaves the transport unavailable and disconnected.
// Starting a running transport is a no-op. A deadline on ctx bounds the
// connection attempt.
func (t *Transport) Start(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.isRunning() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("starting mqtt transport: %w", err)
	}

	local := t.local
	appID := local.AppID()

	clientID := t.cfg.Broker.ClientID
	if clientID == "" {
		clientID = herald.NewUID()
	}

	opts := mqtt.ConnectOptions{
		Host:     t.cfg.Broker.Host,
		Port:     t.cfg.Broker.Port,
		TLS:      t.cfg.Broker.TLS,
		ClientID: clientID,
		Username: t.cfg.Auth.Username,
		Password: t.cfg.Auth.Password,
		Will: &mqtt.Will{
			Topic:   t.topics.Liveness(appID),
			Payload: []byte(local.UID()),
			QoS:     1,
		},
		AutoReconnect:     t.cfg.Reconnect.Enabled,
		MaxReconnectDelay: t.cfg.MaxReconnectDelay(),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts.ConnectTimeout = time.Until(deadline)
	}

	if err := t.broker.Connect(opts); err != nil {
		return fmt.Errorf("starting mqtt transport: %w", err)
	}

	if err := t.listen(local); err != nil {
		_ = t.broker.Disconnect()
		return fmt.Errorf("starting mqtt transport: %w", err)
	}

	t.mu.Lock()
	t.running = true
	t.lost = false
	t.own = PeerAddress{
		Host:     opts.Host,
		Port:     opts.Port,
		ClientID: clientID,
		Topic:    t.topics.Peer(appID, local.UID()),
	}
	t.mu.Unlock()

	t.logger.Info("mqtt transport started",
		"broker", mqtt.BrokerURL(opts.Host, opts.Port, opts.TLS),
		"client_id", clientID,
		"peer_uid", local.UID(),
		"app_id", appID,
	)

	return nil
}

func (t *Transport) listen(local *herald.Peer) error {
	if err := t.messenger.ListenLiveness(t.handlePeerLost); err != nil {
		return fmt.Errorf("listening on liveness topic: %w", err)
	}
	if err := t.messenger.ListenPeer(local.UID(), t.handleEnvelope); err != nil {
		return fmt.Errorf("listening on peer topic: %w", err)
	}
	for _, group := range local.Groups() {
		if err := t.messenger.ListenGroup(group, t.handleEnvelope); err != nil {
			return fmt.Errorf("listening on group %s: %w", group, err)
		}
	}
	return nil
}

// Stop disconnects from the broker (removing every listener) and clears
// the addresses learnt from the directory. Stopping a stopped transport is
// a no-op.
func (t *Transport) Stop() error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if !t.isRunning() {
		return nil
	}

	t.mu.Lock()
	t.running = false
	t.lost = false
	t.own = PeerAddress{}
	t.mu.Unlock()

	err := t.broker.Disconnect()
	t.glue.Clear()

	t.logger.Info("mqtt transport stopped")

	return err
}

func (t *Transport) isRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Available reports whether the transport is started and connected.
func (t *Transport) Available() bool {
	return t.isRunning() && t.broker.IsConnected()
}

// AccessID returns the access ID of this transport.
func (t *Transport) AccessID() string {
	return AccessID
}

// Directory returns the transport directory to register with the peer
// directory.
func (t *Transport) Directory() *Directory {
	return t.glue
}

// OwnAddress returns the address other peers use to reach this one. ok is
// false while the transport is stopped.
func (t *Transport) OwnAddress() (PeerAddress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.own, t.running
}

// Fire sends msg to peer.
//
// extra (an Extra or *Extra, typically MessageReceived.Extra of the
// message being answered) overrides the peer's stored address field by
// field. Fire fails with *herald.InvalidPeerAccessError when no host or
// topic can be resolved, and with *herald.DeliveryError when encoding or
// publishing fails.
func (t *Transport) Fire(peer *herald.Peer, msg *herald.Message, extra any) error {
	if msg == nil {
		return &herald.DeliveryError{Target: herald.PeerTarget(peer), Err: errNilMessage}
	}
	ex := extraFrom(extra)

	addr, err := Resolve(ResolveOptions{
		Peer:     peer,
		Extra:    ex,
		AccessID: AccessID,
		Known:    t.glue.Address,
	})
	if err != nil {
		t.telemetry.RecordDelivery(DirectionOut, string(mqtt.CategoryUID), OutcomeInvalidAccess)
		return err
	}

	parentUID := msg.RepliesTo()
	if ex != nil && ex.ParentUID != "" {
		parentUID = ex.ParentUID
	}

	target := herald.PeerTarget(peer)
	if err := t.messenger.Send(addr.Topic, t.envelope(msg, parentUID)); err != nil {
		t.telemetry.RecordDelivery(DirectionOut, t.category(addr.Topic), OutcomeFailed)
		return &herald.DeliveryError{Target: target, Err: err}
	}

	t.telemetry.RecordDelivery(DirectionOut, t.category(addr.Topic), OutcomeSent)
	t.logger.Debug("message sent",
		"target", target.String(),
		"subject", msg.Subject,
		"topic", addr.Topic,
		"broker", addr.BrokerURL(t.cfg.Broker.TLS),
		"client_id", addr.ClientID,
	)

	return nil
}

// FireGroup sends msg to every peer of peers that belongs to group and
// returns the peers attempted. Membership is read once per call. Failures
// of individual peers are combined into the returned error; the other
// peers are still attempted.
func (t *Transport) FireGroup(group string, peers []*herald.Peer, msg *herald.Message) ([]*herald.Peer, error) {
	var (
		reached []*herald.Peer
		errs    error
	)

	for _, peer := range peers {
		if peer == nil || !peer.InGroup(group) {
			continue
		}
		reached = append(reached, peer)
		if err := t.Fire(peer, msg, nil); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return reached, errs
}

// Broadcast publishes msg once on the multicast topic of group.
func (t *Transport) Broadcast(group string, msg *herald.Message) error {
	if msg == nil {
		return &herald.DeliveryError{Target: herald.Target{Group: group}, Err: errNilMessage}
	}
	topic := t.topics.Group(t.messenger.AppID(), group)
	if err := t.messenger.Send(topic, t.envelope(msg, msg.RepliesTo())); err != nil {
		t.telemetry.RecordDelivery(DirectionOut, string(mqtt.CategoryGroup), OutcomeFailed)
		return &herald.DeliveryError{Target: herald.Target{Group: group}, Err: err}
	}

	t.telemetry.RecordDelivery(DirectionOut, string(mqtt.CategoryGroup), OutcomeSent)
	return nil
}

// UpdateDescription adds this transport's own address to desc when msg
// arrived over MQTT, so the sender learns how to answer. Accesses of other
// transports are left untouched. desc is not modified; the result is a
// copy.
func (t *Transport) UpdateDescription(msg *herald.MessageReceived, desc herald.Description) herald.Description {
	if msg == nil || msg.AccessID != AccessID {
		return desc
	}

	own, running := t.OwnAddress()
	if !running {
		return desc
	}

	accesses := make(map[string]any, len(desc.Accesses)+1)
	maps.Copy(accesses, desc.Accesses)
	accesses[AccessID] = own.Dump()
	desc.Accesses = accesses

	return desc
}

// envelope wraps msg for the wire, stamping the local peer as sender and
// attaching the local return address.
func (t *Transport) envelope(msg *herald.Message, parentUID string) Envelope {
	headers := make(map[string]string, len(msg.Headers)+2)
	maps.Copy(headers, msg.Headers)
	if headers[herald.HeaderUID] == "" && msg.UID != "" {
		headers[herald.HeaderUID] = msg.UID
	}
	headers[herald.HeaderSenderUID] = t.local.UID()

	own, _ := t.OwnAddress()
	return Envelope{
		Headers:  headers,
		Subject:  msg.Subject,
		Content:  msg.Content,
		AccessID: AccessID,
		Extra: &Extra{
			Host:      own.Host,
			Port:      own.Port,
			ClientID:  own.ClientID,
			Topic:     own.Topic,
			ParentUID: parentUID,
		},
	}
}

// handleEnvelope turns an inbound envelope into a MessageReceived for the
// core. The local peer's own group messages come back from the broker and
// are ignored.
func (t *Transport) handleEnvelope(topic string, env Envelope) {
	sender := env.Headers[herald.HeaderSenderUID]
	if sender == t.local.UID() {
		return
	}

	accessID := env.AccessID
	if accessID == "" {
		accessID = AccessID
	}

	received := &herald.MessageReceived{
		Message: herald.Message{
			UID:     env.Headers[herald.HeaderUID],
			Subject: env.Subject,
			Content: env.Content,
			Headers: env.Headers,
		},
		SenderUID: sender,
		AccessID:  accessID,
	}
	if env.Extra != nil {
		received.Extra = env.Extra
	}

	t.telemetry.RecordDelivery(DirectionIn, t.category(topic), OutcomeReceived)
	t.core.HandleMessage(received)
}

// category names the topic category for telemetry.
func (t *Transport) category(topic string) string {
	if _, category, _, ok := t.topics.Parse(topic); ok {
		return string(category)
	}
	return "other"
}
