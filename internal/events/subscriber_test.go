package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSubscription_DeliverBlocksUntilCancel(t *testing.T) {
	s := newSubscription(1)
	if !s.deliver(Message{Body: []byte("1")}) {
		t.Fatal("first deliver should be accepted")
	}

	accepted := make(chan bool, 1)
	go func() { accepted <- s.deliver(Message{Body: []byte("2")}) }()

	select {
	case <-accepted:
		t.Fatal("deliver into a full queue should block")
	case <-time.After(50 * time.Millisecond):
	}

	s.cancel(nil)
	select {
	case ok := <-accepted:
		if ok {
			t.Error("blocked deliver should report rejection after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("deliver still blocked after cancel")
	}

	if _, ok := <-s.ch; ok {
		t.Fatal("channel should be drained and closed")
	}
	if s.deliver(Message{}) {
		t.Error("deliver after cancel should be rejected")
	}
}

func TestSubscription_ConcurrentCancel(t *testing.T) {
	s := newSubscription(4)
	var calls int
	var mu sync.Mutex
	unsub := func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.deliver(Message{})
		}()
		go func() {
			defer wg.Done()
			s.cancel(unsub)
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("unsubscribe called %d times, want 1", calls)
	}
}

func TestNoop(t *testing.T) {
	pub := &NoopPublisher{}
	if err := pub.Publish(context.Background(), "/topic/x", []byte(`{}`), nil); err != nil {
		t.Fatalf("NoopPublisher.Publish returned unexpected error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("NoopPublisher.Close returned unexpected error: %v", err)
	}

	sub := &NoopSubscriber{}
	ch, cancel, err := sub.Subscribe("/topic/x")
	if err != nil {
		t.Fatalf("NoopSubscriber.Subscribe: %v", err)
	}
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}

func TestOpen(t *testing.T) {
	for _, kind := range []string{"", KindNoop} {
		pub, sub, err := Open(Options{Kind: kind})
		if err != nil {
			t.Fatalf("Open(%q): %v", kind, err)
		}
		if _, ok := pub.(*NoopPublisher); !ok {
			t.Errorf("Open(%q) publisher = %T", kind, pub)
		}
		if _, ok := sub.(*NoopSubscriber); !ok {
			t.Errorf("Open(%q) subscriber = %T", kind, sub)
		}
	}

	if _, _, err := Open(Options{Kind: "kafka"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestOpen_NATS(t *testing.T) {
	url := startTestNATS(t)
	pub, sub, err := Open(Options{Kind: KindNATS, URL: url})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pub.Close()
	defer sub.Close()
	if _, ok := pub.(*NATSPublisher); !ok {
		t.Errorf("publisher = %T", pub)
	}
}

func TestOpen_STOMP(t *testing.T) {
	addr := startTestSTOMP(t)
	pub, sub, err := Open(Options{Kind: KindSTOMP, URL: addr})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pub.Close()
	if pub.(*STOMPClient) != sub.(*STOMPClient) {
		t.Error("STOMP publisher and subscriber should share a connection")
	}
}
