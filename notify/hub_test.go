package notify

import (
	"errors"
	"sync"
	"testing"
	"time"
)

const testTopic = "record.created"

func receive(t *testing.T, l *Listener[int]) int {
	t.Helper()
	select {
	case v, ok := <-l.C():
		if !ok {
			t.Fatalf("listener %d closed unexpectedly (err=%v)", l.ID(), l.Err())
		}
		return v
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for value on listener %d", l.ID())
	}
	return 0
}

func expectNothing(t *testing.T, l *Listener[int]) {
	t.Helper()
	select {
	case v, ok := <-l.C():
		if ok {
			t.Fatalf("listener %d should not receive, got %d", l.ID(), v)
		}
	case <-time.After(30 * time.Millisecond):
	}
}

func TestHub_BasicSubscribePublish(t *testing.T) {
	hub := NewHub[int](0)

	l := hub.Subscribe(testTopic)
	defer hub.Unsubscribe(l)

	if n := hub.Publish(testTopic, 1); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if v := receive(t, l); v != 1 {
		t.Errorf("expected 1, got %d", v)
	}
}

func TestHub_PublishWithoutListenersIsNoop(t *testing.T) {
	hub := NewHub[int](0)

	if n := hub.Publish(testTopic, 1); n != 0 {
		t.Errorf("expected 0 deliveries, got %d", n)
	}
	if topics := hub.Topics(); len(topics) != 0 {
		t.Errorf("expected no topics, got %v", topics)
	}
}

func TestHub_NoBacklog(t *testing.T) {
	hub := NewHub[int](0)

	early := hub.Subscribe(testTopic)
	hub.Publish(testTopic, 3)

	late := hub.Subscribe(testTopic)
	hub.Publish(testTopic, 4)

	if v := receive(t, early); v != 3 {
		t.Errorf("early: expected 3, got %d", v)
	}
	if v := receive(t, early); v != 4 {
		t.Errorf("early: expected 4, got %d", v)
	}
	if v := receive(t, late); v != 4 {
		t.Errorf("late: expected 4, got %d", v)
	}
	expectNothing(t, late)
}

func TestHub_FanOutPreservesOrderPerListener(t *testing.T) {
	hub := NewHub[int](256)

	listeners := make([]*Listener[int], 4)
	for i := range listeners {
		listeners[i] = hub.Subscribe(testTopic)
	}

	for v := 1; v <= 100; v++ {
		if n := hub.Publish(testTopic, v); n != len(listeners) {
			t.Fatalf("publish %d: expected %d deliveries, got %d", v, len(listeners), n)
		}
	}

	for _, l := range listeners {
		for want := 1; want <= 100; want++ {
			if got := receive(t, l); got != want {
				t.Fatalf("listener %d: expected %d, got %d", l.ID(), want, got)
			}
		}
	}
}

func TestHub_TopicsAreIsolated(t *testing.T) {
	hub := NewHub[int](0)

	a := hub.Subscribe("a")
	b := hub.Subscribe("b")

	hub.Publish("a", 1)

	if v := receive(t, a); v != 1 {
		t.Errorf("expected 1, got %d", v)
	}
	expectNothing(t, b)

	if got := hub.Topics(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected topics %v", got)
	}
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub[int](0)

	l := hub.Subscribe(testTopic)
	hub.Unsubscribe(l)
	hub.Unsubscribe(l)
	hub.Unsubscribe(nil)

	if _, ok := <-l.C(); ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if l.Err() != nil {
		t.Errorf("regular unsubscribe should leave no error, got %v", l.Err())
	}
	if n := hub.Listeners(testTopic); n != 0 {
		t.Errorf("expected 0 listeners, got %d", n)
	}
	if n := hub.Publish(testTopic, 1); n != 0 {
		t.Errorf("expected 0 deliveries, got %d", n)
	}
}

func TestHub_UnsubscribeIgnoresForeignListener(t *testing.T) {
	a := NewHub[int](0)
	b := NewHub[int](0)

	l := a.Subscribe(testTopic)
	defer a.Unsubscribe(l)

	b.Unsubscribe(l)
	if l.Closed() {
		t.Fatal("listener closed by a hub that does not own it")
	}
	if n := a.Listeners(testTopic); n != 1 {
		t.Fatalf("expected 1 listener on owning hub, got %d", n)
	}

	if n := a.Publish(testTopic, 3); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if v := receive(t, l); v != 3 {
		t.Errorf("expected 3, got %d", v)
	}
}

func TestHub_UnsubscribedListenerDoesNotAffectOthers(t *testing.T) {
	hub := NewHub[int](0)

	l1 := hub.Subscribe(testTopic)
	l2 := hub.Subscribe(testTopic)
	defer hub.Unsubscribe(l2)

	hub.Unsubscribe(l1)
	hub.Publish(testTopic, 5)

	if v := receive(t, l2); v != 5 {
		t.Errorf("expected 5, got %d", v)
	}
}

func TestHub_SlowListenerIsDropped(t *testing.T) {
	hub := NewHub[int](2)

	slow := hub.Subscribe(testTopic)
	fast := hub.SubscribeBuffered(testTopic, 16)
	defer hub.Unsubscribe(fast)

	// Fill the slow listener's queue, then overflow it.
	for v := 1; v <= 3; v++ {
		hub.Publish(testTopic, v)
	}

	// Queued values are still readable, then the channel closes.
	got := []int{}
	for v := range slow.C() {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("slow listener: expected [1 2], got %v", got)
	}
	if !errors.Is(slow.Err(), ErrSlowListener) {
		t.Errorf("expected ErrSlowListener, got %v", slow.Err())
	}

	for want := 1; want <= 3; want++ {
		if v := receive(t, fast); v != want {
			t.Errorf("fast listener: expected %d, got %d", want, v)
		}
	}
	if n := hub.Listeners(testTopic); n != 1 {
		t.Errorf("expected 1 listener left, got %d", n)
	}

	// Unsubscribing a dropped listener is harmless.
	hub.Unsubscribe(slow)
}

func TestHub_CloseClosesListeners(t *testing.T) {
	hub := NewHub[int](0)

	l := hub.Subscribe(testTopic)
	hub.Close()
	hub.Close()

	if _, ok := <-l.C(); ok {
		t.Error("channel should be closed")
	}
	if !errors.Is(l.Err(), ErrHubClosed) {
		t.Errorf("expected ErrHubClosed, got %v", l.Err())
	}

	late := hub.Subscribe(testTopic)
	if !late.Closed() || !errors.Is(late.Err(), ErrHubClosed) {
		t.Error("subscribe after close should return a closed listener")
	}
	if n := hub.Publish(testTopic, 1); n != 0 {
		t.Errorf("expected 0 deliveries after close, got %d", n)
	}
}

func TestHub_ConcurrentSubscribePublish(t *testing.T) {
	hub := NewHub[int](1024)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := hub.Subscribe(testTopic)
			for j := 0; j < 10; j++ {
				hub.Publish(testTopic, j)
			}
			hub.Unsubscribe(l)
		}()
	}
	wg.Wait()

	if n := hub.Listeners(testTopic); n != 0 {
		t.Errorf("expected 0 listeners, got %d", n)
	}
}

func TestListener_Accessors(t *testing.T) {
	hub := NewHub[int](7)
	l := hub.Subscribe(testTopic)

	if l.Topic() != testTopic {
		t.Errorf("expected topic %q, got %q", testTopic, l.Topic())
	}
	if l.Capacity() != 7 {
		t.Errorf("expected capacity 7, got %d", l.Capacity())
	}
	if l.Closed() {
		t.Error("listener should be open")
	}
	other := hub.Subscribe(testTopic)
	if other.ID() == l.ID() {
		t.Error("listener ids must be unique")
	}
}
