package server

import (
	"context"
	"testing"
	"time"
)

func TestRealtimeDispatcherDeliversToUserSubscribersOnly(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine := dispatcher.Subscribe(ctx, "user-1")
	theirs := dispatcher.Subscribe(ctx, "user-2")

	dispatcher.Publish(RealtimeMessage{UserID: "user-1", EventType: RealtimeEventDocumentChanged, Collection: "reviews", DocumentIDs: []string{"doc-1"}})

	select {
	case message := <-mine.Events():
		if message.Collection != "reviews" || len(message.DocumentIDs) != 1 || message.DocumentIDs[0] != "doc-1" {
			t.Fatalf("unexpected message %#v", message)
		}
		if message.Timestamp.IsZero() {
			t.Fatalf("expected publish to stamp the message")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected message for subscriber")
	}
	select {
	case message := <-theirs.Events():
		t.Fatalf("unexpected cross-user message %#v", message)
	default:
	}
}

func TestRealtimeDispatcherFiltersByCollection(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	subscription := dispatcher.Subscribe(context.Background(), "user-1", "milestones")
	defer subscription.Close()

	dispatcher.Publish(RealtimeMessage{UserID: "user-1", EventType: RealtimeEventDocumentChanged, Collection: "mediaItems"})
	dispatcher.Publish(RealtimeMessage{UserID: "user-1", EventType: RealtimeEventDocumentChanged, Collection: "milestones"})

	if len(subscription.Events()) != 1 {
		t.Fatalf("expected only the milestones message, got %d", len(subscription.Events()))
	}
	if message := <-subscription.Events(); message.Collection != "milestones" {
		t.Fatalf("unexpected collection %q", message.Collection)
	}
}

func TestRealtimeDispatcherCountsDroppedMessages(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	subscription := dispatcher.Subscribe(context.Background(), "user-1")
	defer subscription.Close()

	for index := 0; index < dispatcher.bufferSize+5; index++ {
		dispatcher.Publish(RealtimeMessage{UserID: "user-1", EventType: RealtimeEventDocumentChanged})
	}
	if len(subscription.Events()) != dispatcher.bufferSize {
		t.Fatalf("expected buffer to cap at %d, got %d", dispatcher.bufferSize, len(subscription.Events()))
	}
	if subscription.Dropped() != 5 {
		t.Fatalf("expected 5 dropped messages, got %d", subscription.Dropped())
	}
}

func TestRealtimeDispatcherUnsubscribesWhenContextEnds(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Subscribe(ctx, "user-1")
	if dispatcher.subscriberCount("user-1") != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.subscriberCount("user-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRealtimeDispatcherShutdownClosesStreams(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	subscription := dispatcher.Subscribe(context.Background(), "user-1")

	dispatcher.Shutdown()
	subscription.Close()

	if _, open := <-subscription.Events(); open {
		t.Fatalf("expected closed stream after shutdown")
	}
	if dispatcher.subscriberCount("user-1") != 0 {
		t.Fatalf("expected no subscribers after shutdown")
	}
	late := dispatcher.Subscribe(context.Background(), "user-1")
	if _, open := <-late.Events(); open {
		t.Fatalf("expected subscriptions after shutdown to start closed")
	}
}

func TestRealtimeDispatcherIgnoresBlankUser(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	subscription := dispatcher.Subscribe(context.Background(), "")
	if _, open := <-subscription.Events(); open {
		t.Fatalf("expected closed stream for blank user")
	}
	dispatcher.Publish(RealtimeMessage{EventType: RealtimeEventDocumentChanged})
}
