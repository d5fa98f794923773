package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/qls-chat/qls-server/internal/identity"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestSubscriberSkipsOwnOrigin(t *testing.T) {
	rdb := newTestRedis(t)
	pub := NewPublisher(rdb, "instance-a", zerolog.Nop())
	sub := NewSubscriber(rdb, "instance-a", zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	delivered := make(chan []byte, 1)
	go sub.Watch(ctx, 10000, func(b []byte) { delivered <- b })
	time.Sleep(50 * time.Millisecond) // let the subscription establish

	if err := pub.Publish(ctx, identity.UserID(10000), []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-delivered:
		t.Fatal("expected own-origin publish to be filtered out")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSubscriberDeliversRemoteOrigin(t *testing.T) {
	rdb := newTestRedis(t)
	pub := NewPublisher(rdb, "instance-a", zerolog.Nop())
	sub := NewSubscriber(rdb, "instance-b", zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	delivered := make(chan []byte, 1)
	go sub.Watch(ctx, 10000, func(b []byte) { delivered <- b })
	time.Sleep(50 * time.Millisecond)

	if err := pub.Publish(ctx, identity.UserID(10000), []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-delivered:
		if string(got) != "hello" {
			t.Fatalf("expected payload 'hello', got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected remote-origin publish to be delivered")
	}
}

func TestReplayBufferAppendAndDrain(t *testing.T) {
	rdb := newTestRedis(t)
	buf := NewReplayBuffer(rdb, time.Minute, 10)
	ctx := context.Background()

	if err := buf.Append(ctx, 10000, []byte("one")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := buf.Append(ctx, 10000, []byte("two")); err != nil {
		t.Fatalf("append: %v", err)
	}

	out, err := buf.Drain(ctx, 10000)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(out) != 2 || string(out[0]) != "one" || string(out[1]) != "two" {
		t.Fatalf("expected [one two], got %v", out)
	}

	out, err = buf.Drain(ctx, 10000)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(out) != 0 {
		t.Fatal("expected buffer cleared after drain")
	}
}

func TestReplayBufferTrimsToCapacity(t *testing.T) {
	rdb := newTestRedis(t)
	buf := NewReplayBuffer(rdb, time.Minute, 2)
	ctx := context.Background()

	buf.Append(ctx, 10000, []byte("one"))
	buf.Append(ctx, 10000, []byte("two"))
	buf.Append(ctx, 10000, []byte("three"))

	out, err := buf.Drain(ctx, 10000)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(out) != 2 || string(out[0]) != "two" || string(out[1]) != "three" {
		t.Fatalf("expected [two three], got %v", out)
	}
}
