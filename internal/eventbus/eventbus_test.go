package eventbus

import (
	"context"
	"errors"
	"testing"
)

func TestDispatchSyncFanOut(t *testing.T) {
	bus := New(nil)
	var calls []string

	bus.Subscribe("topic.a", func(ctx context.Context, e Event) error {
		calls = append(calls, "first")
		return nil
	})
	bus.Subscribe("topic.a", func(ctx context.Context, e Event) error {
		calls = append(calls, "second")
		return nil
	})
	bus.Subscribe("topic.b", func(ctx context.Context, e Event) error {
		calls = append(calls, "other-topic")
		return nil
	})

	errs := bus.DispatchSync(context.Background(), Event{Topic: "topic.a", Payload: 42})
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("expected both topic.a subscribers to run in order, got %v", calls)
	}
}

func TestDispatchSyncIsolatesFailures(t *testing.T) {
	bus := New(nil)
	secondRan := false

	bus.Subscribe("topic", func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})
	bus.Subscribe("topic", func(ctx context.Context, e Event) error {
		secondRan = true
		return nil
	})

	errs := bus.DispatchSync(context.Background(), Event{Topic: "topic"})
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %d", len(errs))
	}
	if !secondRan {
		t.Fatal("expected second subscriber to run despite first failing")
	}

	stats := bus.Stats()
	if stats.Failed != 1 || stats.Published != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := New(nil)
	ran := false
	sub := bus.Subscribe("topic", func(ctx context.Context, e Event) error {
		ran = true
		return nil
	})
	bus.Unsubscribe(sub)

	bus.DispatchSync(context.Background(), Event{Topic: "topic"})
	if ran {
		t.Fatal("expected unsubscribed handler not to run")
	}
}

func TestPublishDiscardsErrors(t *testing.T) {
	bus := New(nil)
	bus.Subscribe("topic", func(ctx context.Context, e Event) error {
		return errors.New("ignored by Publish")
	})
	bus.Publish(context.Background(), "topic", nil)
	if bus.Stats().Failed != 1 {
		t.Fatalf("expected Publish to still record failure count")
	}
}
