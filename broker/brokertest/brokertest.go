// Package brokertest is a conformance suite for broker.Broker
// implementations.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ggoodman/mcp-router-go/broker"
	"github.com/ggoodman/mcp-router-go/internal/jsonrpc"
	"github.com/google/go-cmp/cmp"
)

// Factory returns a fresh, empty broker. The suite closes it.
type Factory func(t *testing.T) broker.Broker

// Run runs the suite against brokers produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("PublishAfterSubscribe", func(t *testing.T) { testPublishAfterSubscribe(t, factory(t)) })
	t.Run("NoReplayWithoutLastEventID", func(t *testing.T) { testNoReplayWithoutLastEventID(t, factory(t)) })
	t.Run("ResumeFromLastEventID", func(t *testing.T) { testResumeFromLastEventID(t, factory(t)) })
	t.Run("UnknownLastEventID", func(t *testing.T) { testUnknownLastEventID(t, factory(t)) })
	t.Run("MultipleSubscribers", func(t *testing.T) { testMultipleSubscribers(t, factory(t)) })
	t.Run("TopicIsolation", func(t *testing.T) { testTopicIsolation(t, factory(t)) })
	t.Run("NextHonorsContext", func(t *testing.T) { testNextHonorsContext(t, factory(t)) })
	t.Run("ClosedStream", func(t *testing.T) { testClosedStream(t, factory(t)) })
}

func message(i int) jsonrpc.Message {
	return jsonrpc.Message(fmt.Sprintf(`{"jsonrpc":"2.0","method":"notifications/test","params":{"n":%d}}`, i))
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func closeBroker(t *testing.T, b broker.Broker) {
	t.Helper()
	t.Cleanup(func() { _ = b.Close() })
}

func publish(t *testing.T, ctx context.Context, b broker.Broker, topic string, msgs ...jsonrpc.Message) []string {
	t.Helper()
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		id, err := b.Publish(ctx, topic, m)
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if id == "" {
			t.Fatal("Publish returned an empty event ID")
		}
		ids = append(ids, id)
	}
	return ids
}

func subscribe(t *testing.T, ctx context.Context, b broker.Broker, topic, lastEventID string) broker.Stream {
	t.Helper()
	s, err := b.Subscribe(ctx, topic, lastEventID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collect(t *testing.T, ctx context.Context, s broker.Stream, n int) []broker.Envelope {
	t.Helper()
	out := make([]broker.Envelope, 0, n)
	for range n {
		env, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next after %d messages: %v", len(out), err)
		}
		out = append(out, env)
	}
	return out
}

func envelopes(ids []string, msgs ...jsonrpc.Message) []broker.Envelope {
	out := make([]broker.Envelope, len(msgs))
	for i, m := range msgs {
		out[i] = broker.Envelope{ID: ids[i], Data: []byte(m)}
	}
	return out
}

func assertNothingPending(t *testing.T, s broker.Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if env, err := s.Next(ctx); err == nil {
		t.Fatalf("unexpected message %s: %s", env.ID, env.Data)
	}
}

func testPublishAfterSubscribe(t *testing.T, b broker.Broker) {
	closeBroker(t, b)
	ctx := testContext(t)

	s := subscribe(t, ctx, b, "t", "")
	ids := publish(t, ctx, b, "t", message(1), message(2))

	got := collect(t, ctx, s, 2)
	if diff := cmp.Diff(envelopes(ids, message(1), message(2)), got); diff != "" {
		t.Fatalf("envelopes mismatch (-want +got):\n%s", diff)
	}
}

func testNoReplayWithoutLastEventID(t *testing.T, b broker.Broker) {
	closeBroker(t, b)
	ctx := testContext(t)

	publish(t, ctx, b, "t", message(1))
	s := subscribe(t, ctx, b, "t", "")
	ids := publish(t, ctx, b, "t", message(2))

	got := collect(t, ctx, s, 1)
	if diff := cmp.Diff(envelopes(ids, message(2)), got); diff != "" {
		t.Fatalf("envelopes mismatch (-want +got):\n%s", diff)
	}
}

func testResumeFromLastEventID(t *testing.T, b broker.Broker) {
	closeBroker(t, b)
	ctx := testContext(t)

	ids := publish(t, ctx, b, "t", message(1), message(2), message(3))
	s := subscribe(t, ctx, b, "t", ids[0])
	more := publish(t, ctx, b, "t", message(4))

	got := collect(t, ctx, s, 3)
	want := envelopes(append(ids[1:], more...), message(2), message(3), message(4))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("envelopes mismatch (-want +got):\n%s", diff)
	}
}

func testUnknownLastEventID(t *testing.T, b broker.Broker) {
	closeBroker(t, b)
	ctx := testContext(t)

	publish(t, ctx, b, "t", message(1))
	s := subscribe(t, ctx, b, "t", "999999999999-0")
	ids := publish(t, ctx, b, "t", message(2))

	got := collect(t, ctx, s, 1)
	if diff := cmp.Diff(envelopes(ids, message(2)), got); diff != "" {
		t.Fatalf("envelopes mismatch (-want +got):\n%s", diff)
	}
}

func testMultipleSubscribers(t *testing.T, b broker.Broker) {
	closeBroker(t, b)
	ctx := testContext(t)

	s1 := subscribe(t, ctx, b, "t", "")
	s2 := subscribe(t, ctx, b, "t", "")
	ids := publish(t, ctx, b, "t", message(1))

	want := envelopes(ids, message(1))
	for i, s := range []broker.Stream{s1, s2} {
		if diff := cmp.Diff(want, collect(t, ctx, s, 1)); diff != "" {
			t.Fatalf("subscriber %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func testTopicIsolation(t *testing.T, b broker.Broker) {
	closeBroker(t, b)
	ctx := testContext(t)

	a := subscribe(t, ctx, b, "a", "")
	other := subscribe(t, ctx, b, "b", "")
	ids := publish(t, ctx, b, "a", message(1))

	if diff := cmp.Diff(envelopes(ids, message(1)), collect(t, ctx, a, 1)); diff != "" {
		t.Fatalf("topic a mismatch (-want +got):\n%s", diff)
	}
	assertNothingPending(t, other)
}

func testNextHonorsContext(t *testing.T, b broker.Broker) {
	closeBroker(t, b)
	s := subscribe(t, testContext(t), b, "t", "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func testClosedStream(t *testing.T, b broker.Broker) {
	closeBroker(t, b)
	ctx := testContext(t)

	s := subscribe(t, ctx, b, "t", "")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Next(ctx); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
