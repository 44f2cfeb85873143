package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianly1003/cbridge/internal/domain/events"
	"github.com/brianly1003/cbridge/internal/testutil"
)

const waitFor = time.Second

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func TestHub_StartStop(t *testing.T) {
	h := New()

	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !h.IsRunning() {
		t.Error("hub should be running after Start()")
	}
	// Starting again should be a no-op
	if err := h.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if h.IsRunning() {
		t.Error("hub should not be running after Stop()")
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestHub_SubscribeGet(t *testing.T) {
	h := startHub(t)

	sub := testutil.NewMockSubscriber("c1")
	h.Subscribe(sub)

	// Registration is synchronous.
	got, ok := h.Get("c1")
	if !ok || got != sub {
		t.Fatalf("Get(c1) = %v, %v", got, ok)
	}
	if _, ok := h.Get("missing"); ok {
		t.Error("Get(missing) should fail")
	}
	if h.SubscriberCount() != 1 || len(h.Subscribers()) != 1 {
		t.Errorf("count = %d, subscribers = %d", h.SubscriberCount(), len(h.Subscribers()))
	}
}

func TestHub_SubscribeReplacesSameID(t *testing.T) {
	h := startHub(t)
	old := testutil.NewMockSubscriber("c1")
	h.Subscribe(old)
	h.Subscribe(testutil.NewMockSubscriber("c1"))

	if h.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", h.SubscriberCount())
	}
	if !old.IsClosed() {
		t.Error("replaced subscriber should be closed")
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := startHub(t)
	sub := testutil.NewMockSubscriber("c1")
	h.Subscribe(sub)

	h.Unsubscribe("c1")
	h.Unsubscribe("c1")

	if h.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() after unsubscribe = %d, want 0", h.SubscriberCount())
	}
	if !sub.IsClosed() {
		t.Error("subscriber should be closed after unsubscribe")
	}
}

func TestHub_Publish(t *testing.T) {
	h := startHub(t)
	subs := []*testutil.MockSubscriber{
		testutil.NewMockSubscriber("c1"),
		testutil.NewMockSubscriber("c2"),
		testutil.NewMockSubscriber("c3"),
	}
	for _, s := range subs {
		h.Subscribe(s)
	}

	for i := 0; i < 5; i++ {
		h.Publish(events.NewHeartbeatEvent(int64(i), 0))
	}

	testutil.Eventually(t, waitFor, func() bool {
		for _, s := range subs {
			if s.EventCount() != 5 {
				return false
			}
		}
		return true
	}, "every subscriber gets every event")

	for _, s := range subs {
		for i, e := range s.Events() {
			hb := e.(*events.HeartbeatEvent)
			if hb.Sequence != int64(i) {
				t.Errorf("%s event %d has sequence %d", s.ID(), i, hb.Sequence)
			}
		}
	}
}

func TestHub_FailedSendRemovesSubscriber(t *testing.T) {
	h := startHub(t)

	failing := testutil.NewMockSubscriber("failing")
	failing.SetSendError(fmt.Errorf("test send failed"))
	good := testutil.NewMockSubscriber("good")
	h.Subscribe(failing)
	h.Subscribe(good)

	h.Publish(events.NewHeartbeatEvent(1, 0))

	testutil.Eventually(t, waitFor, func() bool {
		return h.SubscriberCount() == 1 && good.EventCount() == 1
	}, "failing subscriber removed, good one served")
	if !failing.IsClosed() {
		t.Error("failing subscriber should be closed")
	}
}

func TestHub_ConcurrentOperations(t *testing.T) {
	h := startHub(t)

	const publishers, perPublisher = 4, 50
	subs := make([]*testutil.MockSubscriber, 5)
	for i := range subs {
		subs[i] = testutil.NewMockSubscriber(fmt.Sprintf("c%d", i))
		h.Subscribe(subs[i])
	}

	var wg sync.WaitGroup
	wg.Add(publishers)
	for i := 0; i < publishers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				h.Publish(events.NewHeartbeatEvent(int64(id*perPublisher+j), 0))
			}
		}(i)
	}
	// Churn an unrelated subscriber meanwhile.
	for i := 0; i < 20; i++ {
		h.Subscribe(testutil.NewMockSubscriber("churn"))
		h.Unsubscribe("churn")
	}
	wg.Wait()

	testutil.Eventually(t, waitFor, func() bool {
		for _, s := range subs {
			if s.EventCount() != publishers*perPublisher {
				return false
			}
		}
		return true
	}, "all events delivered")
}

func TestHub_StopClosesAllSubscribers(t *testing.T) {
	h := New()
	_ = h.Start()

	sub1 := testutil.NewMockSubscriber("c1")
	sub2 := testutil.NewMockSubscriber("c2")
	h.Subscribe(sub1)
	h.Subscribe(sub2)

	_ = h.Stop()

	if !sub1.IsClosed() || !sub2.IsClosed() {
		t.Error("subscribers should be closed after hub stop")
	}
	if h.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d after stop", h.SubscriberCount())
	}
}
