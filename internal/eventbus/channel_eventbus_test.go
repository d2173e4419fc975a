package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestChannelEventBus_PublishAndSubscribe(t *testing.T) {
	eb := NewChannelEventBus(WithBufferSize(1), WithWorkerCount(1))
	defer eb.Close()

	received := make(chan string, 1)
	handler := func(ctx context.Context, event Event) error {
		received <- string(event.Type())
		return nil
	}
	_, err := eb.Subscribe([]EventType{EventRoutingSuccess}, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	evt := NewEvent(EventRoutingSuccess, nil, "test", nil)
	if err := eb.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case typ := <-received:
		if typ != string(EventRoutingSuccess) {
			t.Errorf("expected event type %v, got %v", EventRoutingSuccess, typ)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event handler")
	}
}

func TestChannelEventBus_SubscribeAllReceivesEveryType(t *testing.T) {
	eb := NewChannelEventBus(WithBufferSize(4), WithWorkerCount(1))
	defer eb.Close()

	var mu sync.Mutex
	seen := make(map[EventType]bool)
	_, err := eb.SubscribeAll(func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[event.Type()] = true
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}

	types := []EventType{EventQueryStarted, EventRetrievalStarted, EventSynthesisSuccess}
	for _, et := range types {
		if err := eb.Publish(context.Background(), NewEvent(et, nil, "test", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		count := len(seen)
		mu.Unlock()
		if count == len(types) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d event types, saw %d", len(types), count)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChannelEventBus_Unsubscribe(t *testing.T) {
	eb := NewChannelEventBus(WithBufferSize(1), WithWorkerCount(1))
	defer eb.Close()

	received := make(chan struct{}, 1)
	id, err := eb.Subscribe([]EventType{EventQueryStarted}, func(ctx context.Context, event Event) error {
		received <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := eb.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	if err := eb.Publish(context.Background(), NewEvent(EventQueryStarted, nil, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-received:
		t.Error("handler should not be called after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}

	if err := eb.Unsubscribe("no-such-id"); err == nil {
		t.Error("expected an error for an unknown subscription ID")
	}
}

func TestChannelEventBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	eb := NewChannelEventBus(WithBufferSize(1), WithWorkerCount(1))
	defer eb.Close()

	failing := func(ctx context.Context, event Event) error {
		return errors.New("handler failed")
	}
	received := make(chan struct{}, 1)
	succeeding := func(ctx context.Context, event Event) error {
		received <- struct{}{}
		return nil
	}

	if _, err := eb.Subscribe([]EventType{EventQueryFailure}, failing); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := eb.SubscribeAll(succeeding); err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}

	if err := eb.Publish(context.Background(), NewEvent(EventQueryFailure, nil, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-received:
	case <-time.After(100 * time.Millisecond):
		t.Error("a failing handler must not block other handlers")
	}
}

func TestChannelEventBus_PublishAfterClose(t *testing.T) {
	eb := NewChannelEventBus(WithBufferSize(1), WithWorkerCount(1))
	if err := eb.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := eb.Publish(context.Background(), NewEvent(EventQueryStarted, nil, "test", nil)); err == nil {
		t.Error("expected an error when publishing to a closed bus")
	}
	// Close is idempotent.
	if err := eb.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if _, err := eb.Subscribe([]EventType{EventQueryStarted}, func(ctx context.Context, event Event) error { return nil }); err == nil {
		t.Error("expected an error when subscribing to a closed bus")
	}
}
