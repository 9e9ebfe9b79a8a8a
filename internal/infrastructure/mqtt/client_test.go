package mqtt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/herald-mqtt/internal/infrastructure/mqtt/mqtttest"
)

// newTestClient returns a client wired to an in-memory broker.
func newTestClient(t *testing.T, opts ...ClientOption) (*Client, *mqtttest.Broker) {
	t.Helper()
	broker := mqtttest.NewBroker()
	opts = append([]ClientOption{WithClientFactory(broker.NewClient)}, opts...)
	return NewClient(opts...), broker
}

func testConnectOptions(clientID string) ConnectOptions {
	return ConnectOptions{
		Host:     "127.0.0.1",
		Port:     1883,
		ClientID: clientID,
	}
}

// eventually polls cond until it holds or the deadline passes.
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

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client, _ := newTestClient(t)

	if client.State() != StateDisconnected {
		t.Errorf("State() before Connect = %v, want disconnected", client.State())
	}

	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if client.State() != StateConnected {
		t.Errorf("State() = %v, want connected", client.State())
	}
}

func TestConnect_Failure(t *testing.T) {
	client, broker := newTestClient(t)
	broker.FailConnect(errors.New("connection refused"))

	err := client.Connect(testConnectOptions("herald-test"))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if client.State() != StateFailed {
		t.Errorf("State() = %v, want failed", client.State())
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after failed connect")
	}

	// A failed attempt leaves no session behind: a later attempt may succeed.
	broker.FailConnect(nil)
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() after failure error = %v", err)
	}
	defer client.Disconnect()
}

func TestConnect_Timeout(t *testing.T) {
	client, broker := newTestClient(t)
	broker.HangConnect(true)

	err := client.Connect(testConnectOptions("herald-test"))
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed and ErrTimeout", err)
	}
	if client.State() != StateFailed {
		t.Errorf("State() = %v, want failed", client.State())
	}
}

func TestConnect_Validation(t *testing.T) {
	client, _ := newTestClient(t)

	tests := []struct {
		name string
		opts ConnectOptions
	}{
		{"missing host", ConnectOptions{ClientID: "c"}},
		{"missing client id", ConnectOptions{Host: "h"}},
		{"will without topic", ConnectOptions{Host: "h", ClientID: "c", Will: &Will{}}},
		{"will with bad qos", ConnectOptions{Host: "h", ClientID: "c", Will: &Will{Topic: "t", QoS: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Connect(tt.opts); !errors.Is(err, ErrConnectionFailed) {
				t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
			}
		})
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	if err := client.Connect(testConnectOptions("herald-test")); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestConnect_RegistersWill(t *testing.T) {
	client, broker := newTestClient(t)

	opts := testConnectOptions("herald-will")
	opts.Will = &Will{Topic: "cohorte/herald/app/rip", Payload: []byte("PEER"), QoS: 1}
	if err := client.Connect(opts); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	fake, ok := broker.Client("herald-will")
	if !ok {
		t.Fatal("broker has no client")
	}
	o := fake.Options()
	if !o.WillEnabled || o.WillTopic != "cohorte/herald/app/rip" || string(o.WillPayload) != "PEER" || o.WillQos != 1 {
		t.Errorf("will = enabled:%v topic:%q payload:%q qos:%d", o.WillEnabled, o.WillTopic, o.WillPayload, o.WillQos)
	}
}

func TestDisconnect(t *testing.T) {
	client, broker := newTestClient(t)
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_ = client.Subscribe("t/a", func(string, []byte) error { return nil })

	if err := client.Disconnect(); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after Disconnect()")
	}
	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", client.State())
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Disconnect, want 0", client.SubscriptionCount())
	}

	fake, _ := broker.Client("herald-test")
	if fake.Disconnects() != 1 {
		t.Errorf("broker disconnects = %d, want 1", fake.Disconnects())
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	client, broker := newTestClient(t)

	if err := client.Disconnect(); err != nil {
		t.Errorf("Disconnect() before Connect error = %v", err)
	}

	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_ = client.Disconnect()
	if err := client.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}

	fake, _ := broker.Client("herald-test")
	if fake.Disconnects() != 1 {
		t.Errorf("broker disconnects = %d, want 1", fake.Disconnects())
	}
}

func TestDisconnect_SuppressesWill(t *testing.T) {
	client, broker := newTestClient(t)

	opts := testConnectOptions("herald-test")
	opts.Will = &Will{Topic: "will/topic", Payload: []byte("x")}
	if err := client.Connect(opts); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_ = client.Disconnect()

	if got := broker.PublishedOn("will/topic"); len(got) != 0 {
		t.Errorf("will published on clean disconnect: %v", got)
	}
}

func TestConnectionLost(t *testing.T) {
	client, broker := newTestClient(t)

	opts := testConnectOptions("herald-test")
	opts.Will = &Will{Topic: "will/topic", Payload: []byte("PEER")}
	if err := client.Connect(opts); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	lost := make(chan error, 1)
	client.SetOnConnectionLost(func(err error) { lost <- err })

	broker.Drop("herald-test")

	select {
	case err := <-lost:
		if !errors.Is(err, mqtttest.ErrConnectionLost) {
			t.Errorf("connection lost error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection-lost callback not invoked")
	}

	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", client.State())
	}
	if err := client.Publish("t", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after loss error = %v, want ErrNotConnected", err)
	}
	if got := broker.PublishedOn("will/topic"); len(got) != 1 || string(got[0].Payload) != "PEER" {
		t.Errorf("will publications = %v, want one with payload PEER", got)
	}
}

func TestReconnect_RestoresSubscriptions(t *testing.T) {
	client, broker := newTestClient(t)
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	received := make(chan string, 1)
	err := client.Subscribe("t/a", func(_ string, payload []byte) error {
		received <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	broker.Drop("herald-test")
	broker.Reconnect("herald-test")

	eventually(t, "reconnected state", func() bool { return client.State() == StateConnected })

	fake, _ := broker.Client("herald-test")
	eventually(t, "resubscription", func() bool { return len(fake.Subscriptions()) == 1 })

	broker.Inject("t/a", []byte("after"))
	select {
	case got := <-received:
		if got != "after" {
			t.Errorf("payload = %q, want after", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after reconnect")
	}
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	client, _ := newTestClient(t)

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() before connect = %v, want ErrNotConnected", err)
	}

	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() with cancelled context = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	client, broker := newTestClient(t)
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	if err := client.Publish("t/a", []byte("hello"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := broker.PublishedOn("t/a")
	if len(got) != 1 || string(got[0].Payload) != "hello" || got[0].QoS != 1 {
		t.Errorf("publications = %+v", got)
	}
	if client.Stats().Published != 1 {
		t.Errorf("Stats().Published = %d, want 1", client.Stats().Published)
	}
}

func TestPublish_Validation(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "t", nil, 3, ErrInvalidQoS},
		{"oversized payload", "t", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublish_NotConnected(t *testing.T) {
	client, _ := newTestClient(t)

	if err := client.Publish("t", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_BrokerError(t *testing.T) {
	client, broker := newTestClient(t)
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	broker.FailPublish(errors.New("quota exceeded"))
	if err := client.Publish("t", []byte("x"), 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribe_RoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	received := make(chan string, 3)
	err := client.Subscribe("t/a", func(topic string, payload []byte) error {
		received <- topic + "=" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := client.PublishDefault("t/a", []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("PublishDefault() error = %v", err)
		}
	}

	// One dispatcher per session: arrival order is preserved.
	for i := 0; i < 3; i++ {
		select {
		case got := <-received:
			if want := fmt.Sprintf("t/a=%d", i); got != want {
				t.Errorf("delivery %d = %q, want %q", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("delivery %d not received", i)
		}
	}
}

func TestSubscribe_NotConnected(t *testing.T) {
	client, _ := newTestClient(t)

	err := client.Subscribe("t", func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed wrapping ErrNotConnected", err)
	}
	if client.HasSubscription("t") {
		t.Error("binding recorded without a session")
	}
}

func TestSubscribe_BrokerError(t *testing.T) {
	client, broker := newTestClient(t)
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	broker.FailSubscribe(errors.New("not authorised"))
	err := client.Subscribe("t", func(string, []byte) error { return nil })
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if client.HasSubscription("t") {
		t.Error("binding kept after broker refused subscription")
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	client, broker := newTestClient(t)
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	_ = client.Subscribe("t/a", func(string, []byte) error { return nil })
	if err := client.Unsubscribe("t/a"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	fake, _ := broker.Client("herald-test")
	if len(fake.Subscriptions()) != 0 {
		t.Errorf("broker subscriptions = %v, want none", fake.Subscriptions())
	}
	if client.HasSubscription("t/a") {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
}

func TestDeliveryQueueFull_Drops(t *testing.T) {
	client, broker := newTestClient(t, WithQueueSize(1))
	if err := client.Connect(testConnectOptions("herald-test")); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	_ = client.Subscribe("t", func(string, []byte) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})

	// First message occupies the dispatcher, second fills the queue,
	// the rest are dropped.
	broker.Inject("t", []byte("1"))
	<-started
	for i := 0; i < 5; i++ {
		broker.Inject("t", []byte("x"))
	}
	close(block)

	if got := client.Stats().QueueDropped; got != 4 {
		t.Errorf("Stats().QueueDropped = %d, want 4", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateFailed, "failed"},
		{ConnectionState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
