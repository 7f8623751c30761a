package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/pinpoint-labs/pinpoint/internal/threads"
)

func receiveEvent(t *testing.T, stream <-chan Event) Event {
	t.Helper()
	select {
	case event := <-stream:
		return event
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestDispatcherDeliversToRoomSubscribers(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repoStream, repoCleanup := dispatcher.Subscribe(ctx, []string{"acme/storefront"})
	defer repoCleanup()
	branchStream, branchCleanup := dispatcher.Subscribe(ctx, []string{"acme/storefront:main"})
	defer branchCleanup()

	dispatcher.Publish("acme/storefront", threads.EventThreadCreated, threads.ThreadEventPayload{ThreadID: "thread-1"})

	event := receiveEvent(t, repoStream)
	if event.Op != threads.EventThreadCreated || event.Room != "acme/storefront" {
		t.Fatalf("unexpected event %+v", event)
	}
	select {
	case unexpected := <-branchStream:
		t.Fatalf("branch room must not receive repo-room publish: %+v", unexpected)
	default:
	}
}

func TestDispatcherSubscriberSpansMultipleRooms(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, []string{"acme/storefront", "acme/storefront:main"})
	defer cleanup()

	dispatcher.Publish("acme/storefront:main", threads.EventThreadUpdated, threads.ThreadEventPayload{ThreadID: "thread-1"})

	event := receiveEvent(t, stream)
	if event.Room != "acme/storefront:main" {
		t.Fatalf("unexpected room %s", event.Room)
	}
}

func TestDispatcherCleanupStopsDelivery(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, []string{"acme/storefront"})
	cleanup()

	if count := dispatcher.SubscriberCount("acme/storefront"); count != 0 {
		t.Fatalf("expected no subscribers after cleanup, got %d", count)
	}
	dispatcher.Publish("acme/storefront", threads.EventThreadCreated, threads.ThreadEventPayload{ThreadID: "thread-1"})
	select {
	case event := <-stream:
		t.Fatalf("unexpected event after cleanup: %+v", event)
	default:
	}
}

func TestDispatcherContextCancellationUnsubscribes(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, []string{"acme/storefront"})
	defer cleanup()
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if dispatcher.SubscriberCount("acme/storefront") == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected context cancellation to unsubscribe")
}

func TestDispatcherEmptyRoomListYieldsClosedStream(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	stream, cleanup := dispatcher.Subscribe(context.Background(), nil)
	defer cleanup()

	if _, open := <-stream; open {
		t.Fatalf("expected closed stream for empty room list")
	}
}
