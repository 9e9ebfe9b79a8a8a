package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeSubscriber records broker calls and fails on demand.
type fakeSubscriber struct {
	mu             sync.Mutex
	subscribed     []string
	unsubscribed   []string
	failSubscribe  error
	failUnsubcribe error
}

func (f *fakeSubscriber) subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubscribe != nil {
		return f.failSubscribe
	}
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeSubscriber) unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topic)
	return f.failUnsubcribe
}

func newTestRegistry() (*Registry, *fakeSubscriber) {
	broker := &fakeSubscriber{}
	return newRegistry(broker, noopLogger{}), broker
}

func TestRegistry_SubscribeAndDeliver(t *testing.T) {
	r, broker := newTestRegistry()

	var got []string
	err := r.Subscribe("t/a", func(topic string, payload []byte) error {
		got = append(got, topic+"="+string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	r.OnDelivery("t/a", []byte("1"))
	r.OnDelivery("t/a", []byte("2"))

	if len(got) != 2 || got[0] != "t/a=1" || got[1] != "t/a=2" {
		t.Errorf("deliveries = %v", got)
	}
	if len(broker.subscribed) != 1 {
		t.Errorf("broker subscribe calls = %d, want 1", len(broker.subscribed))
	}
	if r.Delivered() != 2 {
		t.Errorf("Delivered() = %d, want 2", r.Delivered())
	}
}

func TestRegistry_ResubscribeReplacesListener(t *testing.T) {
	r, broker := newTestRegistry()

	var first, second int
	_ = r.Subscribe("t", func(string, []byte) error { first++; return nil })
	_ = r.Subscribe("t", func(string, []byte) error { second++; return nil })

	r.OnDelivery("t", nil)

	if first != 0 || second != 1 {
		t.Errorf("first = %d, second = %d; want 0, 1", first, second)
	}
	if len(broker.subscribed) != 1 {
		t.Errorf("broker subscribe calls = %d, want 1", len(broker.subscribed))
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_SubscribeFailureRollsBack(t *testing.T) {
	r, broker := newTestRegistry()
	broker.failSubscribe = ErrNotConnected

	err := r.Subscribe("t", func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if r.Has("t") {
		t.Error("binding kept after failed broker subscribe")
	}
}

func TestRegistry_SubscribeValidation(t *testing.T) {
	r, _ := newTestRegistry()

	if err := r.Subscribe("", func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := r.Subscribe("t", nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
}

func TestRegistry_Unsubscribe(t *testing.T) {
	r, broker := newTestRegistry()

	called := false
	_ = r.Subscribe("t", func(string, []byte) error { called = true; return nil })

	if err := r.Unsubscribe("t"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	r.OnDelivery("t", nil)

	if called {
		t.Error("listener invoked after Unsubscribe")
	}
	if len(broker.unsubscribed) != 1 {
		t.Errorf("broker unsubscribe calls = %d, want 1", len(broker.unsubscribed))
	}
}

func TestRegistry_UnsubscribeUnknownIsNoop(t *testing.T) {
	r, broker := newTestRegistry()

	if err := r.Unsubscribe("never"); err != nil {
		t.Errorf("Unsubscribe(unknown) error = %v", err)
	}
	if len(broker.unsubscribed) != 0 {
		t.Error("broker called for unknown topic")
	}
}

func TestRegistry_UnsubscribeAll(t *testing.T) {
	r, broker := newTestRegistry()

	for i := 0; i < 3; i++ {
		_ = r.Subscribe(fmt.Sprintf("t/%d", i), func(string, []byte) error { return nil })
	}
	broker.failUnsubcribe = ErrNotConnected

	err := r.UnsubscribeAll()
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("UnsubscribeAll() error = %v, want ErrNotConnected", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after UnsubscribeAll, want 0", r.Len())
	}
}

func TestRegistry_UnroutedDeliveryDropped(t *testing.T) {
	r, _ := newTestRegistry()
	_ = r.Subscribe("known", func(string, []byte) error { return nil })

	var dropped []string
	r.SetOnDrop(func(topic string) { dropped = append(dropped, topic) })

	before := r.Topics()
	r.OnDelivery("unknown", []byte("x"))
	after := r.Topics()

	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}
	if len(dropped) != 1 || dropped[0] != "unknown" {
		t.Errorf("drop callback topics = %v", dropped)
	}
	if len(before) != len(after) || before[0] != after[0] {
		t.Errorf("registry changed by dropped delivery: %v -> %v", before, after)
	}
}

func TestRegistry_HandlerPanicRecovered(t *testing.T) {
	r, _ := newTestRegistry()
	_ = r.Subscribe("t", func(string, []byte) error { panic("boom") })

	r.OnDelivery("t", nil) // must not panic
}

func TestRegistry_HandlerMaySubscribe(t *testing.T) {
	r, _ := newTestRegistry()

	_ = r.Subscribe("t", func(string, []byte) error {
		return r.Subscribe("t/child", func(string, []byte) error { return nil })
	})
	r.OnDelivery("t", nil)

	if !r.Has("t/child") {
		t.Error("subscription from inside a handler not recorded")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r, _ := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			topic := fmt.Sprintf("t/%d", n%2)
			for j := 0; j < 100; j++ {
				_ = r.Subscribe(topic, func(string, []byte) error { return nil })
				r.OnDelivery(topic, nil)
				_ = r.Unsubscribe(topic)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_TopicsSorted(t *testing.T) {
	r, _ := newTestRegistry()
	for _, topic := range []string{"c", "a", "b"} {
		_ = r.Subscribe(topic, func(string, []byte) error { return nil })
	}

	got := r.Topics()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Topics() = %v", got)
	}
}
