package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/herald-mqtt/internal/herald"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/mqtt/mqtttest"
)

// fakeDirectory is a minimal herald.Directory.
type fakeDirectory struct {
	local *herald.Peer

	mu    sync.Mutex
	peers map[string]*herald.Peer
	unset []string
}

func newFakeDirectory(local *herald.Peer) *fakeDirectory {
	return &fakeDirectory{local: local, peers: map[string]*herald.Peer{local.UID(): local}}
}

func (d *fakeDirectory) LocalPeer() *herald.Peer { return d.local }

func (d *fakeDirectory) Peer(uid string) (*herald.Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[uid]; ok {
		return p, nil
	}
	return nil, herald.ErrUnknownPeer
}

func (d *fakeDirectory) UnsetAccess(peer *herald.Peer, accessID string) error {
	peer.UnsetAccess(accessID)
	d.mu.Lock()
	d.unset = append(d.unset, peer.UID()+"/"+accessID)
	d.mu.Unlock()
	return nil
}

func (d *fakeDirectory) add(p *herald.Peer) {
	d.mu.Lock()
	d.peers[p.UID()] = p
	d.mu.Unlock()
}

// coreRecorder collects inbound messages.
type coreRecorder struct {
	ch chan *herald.MessageReceived
}

func newCoreRecorder() *coreRecorder {
	return &coreRecorder{ch: make(chan *herald.MessageReceived, 16)}
}

func (c *coreRecorder) HandleMessage(msg *herald.MessageReceived) {
	c.ch <- msg
}

func (c *coreRecorder) next(t *testing.T) *herald.MessageReceived {
	t.Helper()
	select {
	case msg := <-c.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message reached the core")
		return nil
	}
}

func (c *coreRecorder) none(t *testing.T) {
	t.Helper()
	select {
	case msg := <-c.ch:
		t.Fatalf("unexpected message %q reached the core", msg.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

// telemetryRecorder counts telemetry events.
type telemetryRecorder struct {
	mu         sync.Mutex
	deliveries map[string]int
	peerEvents []string
}

func newTelemetryRecorder() *telemetryRecorder {
	return &telemetryRecorder{deliveries: make(map[string]int)}
}

func (r *telemetryRecorder) RecordDelivery(direction, category, outcome string) {
	r.mu.Lock()
	r.deliveries[direction+"/"+category+"/"+outcome]++
	r.mu.Unlock()
}

func (r *telemetryRecorder) RecordPeerEvent(peerUID, event string) {
	r.mu.Lock()
	r.peerEvents = append(r.peerEvents, peerUID+"/"+event)
	r.mu.Unlock()
}

func (r *telemetryRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliveries[key]
}

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host: "localhost",
			Port: 1883,
		},
		QoS:               1,
		TopicPrefix:       mqtt.DefaultTopicPrefix,
		DeliveryQueueSize: 16,
	}
}

// node is one started transport on the shared in-memory broker.
type node struct {
	transport *Transport
	dir       *fakeDirectory
	core      *coreRecorder
	telemetry *telemetryRecorder
	peer      *herald.Peer
}

func newNode(t *testing.T, broker *mqtttest.Broker, uid string, groups ...string) *node {
	t.Helper()

	peer := herald.NewPeer(uid, "peer-"+uid, "app", groups...)
	n := &node{
		dir:       newFakeDirectory(peer),
		core:      newCoreRecorder(),
		telemetry: newTelemetryRecorder(),
		peer:      peer,
	}

	tr, err := New(Options{
		Config:    testMQTTConfig(),
		Directory: n.dir,
		Core:      n.core,
		Broker:    mqtt.NewClient(mqtt.WithClientFactory(broker.NewClient)),
		Telemetry: n.telemetry,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	n.transport = tr
	return n
}

func (n *node) start(t *testing.T) {
	t.Helper()
	if err := n.transport.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = n.transport.Stop() })
}

// learn records other's current mqtt address in n's directory, as the
// description handshake would.
func (n *node) learn(t *testing.T, other *node) *herald.Peer {
	t.Helper()
	addr, ok := other.transport.OwnAddress()
	if !ok {
		t.Fatal("other transport not started")
	}
	remote := herald.NewPeer(other.peer.UID(), other.peer.Name(), other.peer.AppID(), other.peer.Groups()...)
	remote.SetAccess(addr)
	n.dir.add(remote)
	n.transport.Directory().PeerAccessSet(remote, addr)
	return remote
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
