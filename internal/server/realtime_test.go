package server

import (
	"context"
	"testing"
	"time"
)

func TestRealtimeDispatcherBroadcastsToSubscribers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst := dispatcher.Subscribe(ctx)
	defer cleanupFirst()
	second, cleanupSecond := dispatcher.Subscribe(ctx)
	defer cleanupSecond()

	dispatcher.Publish(RealtimeMessage{
		EventType: RealtimeEventXPAwarded,
		UserID:    "learner-1",
		XP:        150,
		Delta:     50,
		Timestamp: time.Now().UTC(),
	})

	for _, stream := range []<-chan RealtimeMessage{first, second} {
		select {
		case received := <-stream:
			if received.UserID != "learner-1" || received.XP != 150 {
				t.Fatalf("unexpected message %+v", received)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected realtime message within deadline")
		}
	}
}

func TestRealtimeDispatcherDropsWhenSubscriberIsFull(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		for index := 0; index < realtimeBufferSize*4; index++ {
			dispatcher.Publish(RealtimeMessage{EventType: RealtimeEventXPAwarded, Delta: int64(index)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	if len(stream) != realtimeBufferSize {
		t.Fatalf("expected a full buffer of %d, got %d", realtimeBufferSize, len(stream))
	}
	if dropped := dispatcher.Dropped(); dropped != int64(realtimeBufferSize*3) {
		t.Fatalf("expected %d dropped deliveries, got %d", realtimeBufferSize*3, dropped)
	}
}

func TestRealtimeDispatcherCloseEndsStreams(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background())
	defer cleanup()

	dispatcher.Close()
	if _, open := <-stream; open {
		t.Fatalf("expected stream to be closed")
	}
	if dispatcher.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers after close")
	}

	late, lateCleanup := dispatcher.Subscribe(context.Background())
	defer lateCleanup()
	if _, open := <-late; open {
		t.Fatalf("expected subscriptions after close to end immediately")
	}
	dispatcher.Publish(RealtimeMessage{EventType: RealtimeEventXPAwarded})
}

func TestRealtimeDispatcherUnsubscribesOnContextEnd(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	_, _ = dispatcher.Subscribe(ctx)
	if dispatcher.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if dispatcher.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber to be removed after cancellation")
	}
}
