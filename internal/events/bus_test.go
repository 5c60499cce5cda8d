package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New(4)
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(TypeRequestSubmitted, map[string]any{"id": "abc123"})

	select {
	case evt := <-sub.Events():
		if evt.Type != TypeRequestSubmitted {
			t.Errorf("expected %q, got %q", TypeRequestSubmitted, evt.Type)
		}
		if evt.Data["id"] != "abc123" {
			t.Errorf("expected id abc123, got %v", evt.Data["id"])
		}
		if evt.Timestamp.IsZero() {
			t.Error("expected a non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := New(4)
	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	bus.Publish(TypeRequestCompleted, nil)

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case <-sub.Events():
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestPublishNeverBlocksOnFullSubscriberBuffer(t *testing.T) {
	bus := New(2)
	sub := bus.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(TypeRequestProcessing, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber instead of dropping events")
	}
}

func TestPublishWithNoSubscribersDoesNotPanic(t *testing.T) {
	bus := New(4)
	bus.Publish(TypeDiscussionStarted, map[string]any{"session_id": "s1"})
}

func TestCloseStopsFurtherDelivery(t *testing.T) {
	bus := New(4)
	sub := bus.Subscribe()
	sub.Close()

	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", bus.SubscriberCount())
	}

	// Closing again must not panic.
	sub.Close()

	bus.Publish(TypeRequestFailed, nil)

	_, ok := <-sub.Events()
	if ok {
		t.Error("expected the events channel to be closed")
	}
}

func TestSubscriberCountTracksLiveSubscriptions(t *testing.T) {
	bus := New(4)
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0, got %d", bus.SubscriberCount())
	}

	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()
	if bus.SubscriberCount() != 2 {
		t.Fatalf("expected 2, got %d", bus.SubscriberCount())
	}

	sub1.Close()
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1, got %d", bus.SubscriberCount())
	}
	sub2.Close()
}
