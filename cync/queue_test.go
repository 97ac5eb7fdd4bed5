package cync

import (
	"context"
	"testing"
	"time"
)

func TestBoundedQueuePutGet(t *testing.T) {
	q := NewBoundedQueue("test", 4, QueueBlock)
	item := &TrackedPacket{DedupKey: "x"}
	res, err := q.Put(context.Background(), item, time.Second)
	if err != nil || !res.Success {
		t.Fatalf("put failed: %v %+v", err, res)
	}
	got, err := q.Get(time.Second)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != item {
		t.Errorf("got different item back")
	}
}

func TestBoundedQueueRejectPolicy(t *testing.T) {
	q := NewBoundedQueue("test", 1, QueueReject)
	ctx := context.Background()
	if _, err := q.Put(ctx, &TrackedPacket{}, 0); err != nil {
		t.Fatalf("first put should succeed: %v", err)
	}
	res, err := q.Put(ctx, &TrackedPacket{}, 0)
	if err == nil {
		t.Fatal("expected QueueFullError")
	}
	if _, ok := err.(*QueueFullError); !ok {
		t.Errorf("got %T, want *QueueFullError", err)
	}
	if res.Success || res.Reason != "queue_full" {
		t.Errorf("got %+v, want reason queue_full", res)
	}
}

func TestBoundedQueueDropOldest(t *testing.T) {
	q := NewBoundedQueue("test", 2, QueueDropOldest)
	ctx := context.Background()
	first := &TrackedPacket{DedupKey: "first"}
	second := &TrackedPacket{DedupKey: "second"}
	third := &TrackedPacket{DedupKey: "third"}

	q.Put(ctx, first, 0)
	q.Put(ctx, second, 0)
	res, err := q.Put(ctx, third, 0)
	if err != nil || !res.Success || !res.Dropped {
		t.Fatalf("expected successful drop-oldest put, got %+v %v", res, err)
	}

	got, _ := q.Get(time.Second)
	if got.DedupKey != "second" {
		t.Errorf("got %q, want %q (first should have been dropped)", got.DedupKey, "second")
	}
}

func TestBoundedQueueBlockTimesOut(t *testing.T) {
	q := NewBoundedQueue("test", 1, QueueBlock)
	ctx := context.Background()
	q.Put(ctx, &TrackedPacket{}, 0)

	res, err := q.Put(ctx, &TrackedPacket{}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Reason != "timeout" {
		t.Errorf("got %+v, want a timeout result", res)
	}
}

func TestBoundedQueueBlockDegradesAfterRepeatedTimeouts(t *testing.T) {
	q := NewBoundedQueue("test", 1, QueueBlock)
	ctx := context.Background()
	q.Put(ctx, &TrackedPacket{DedupKey: "head"}, 0)

	var switches []string
	q.OnPolicySwitch(func(reason string) { switches = append(switches, reason) })

	for i := 0; i < degradeAfterTimeouts; i++ {
		res, _ := q.Put(ctx, &TrackedPacket{}, 5*time.Millisecond)
		if res.Success {
			t.Fatalf("attempt %d: expected timeout while queue stays full", i)
		}
	}

	// The policy should now have degraded to DROP_OLDEST, so this put
	// succeeds instead of timing out.
	res, err := q.Put(ctx, &TrackedPacket{DedupKey: "after-degrade"}, 5*time.Millisecond)
	if err != nil || !res.Success {
		t.Fatalf("expected degraded put to succeed, got %+v %v", res, err)
	}
	if len(switches) != 1 || switches[0] != "degrade" {
		t.Errorf("got policy switches %v, want exactly one degrade", switches)
	}
}

func TestBoundedQueueQSize(t *testing.T) {
	q := NewBoundedQueue("test", 4, QueueBlock)
	ctx := context.Background()
	q.Put(ctx, &TrackedPacket{}, 0)
	q.Put(ctx, &TrackedPacket{}, 0)
	if got := q.QSize(); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}
