package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/opentranscribe/mpo/pkg/broker"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, "test")
}

func TestPushPopAck(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	id, err := b.Push(ctx, broker.QueueCPU, []byte("payload-a"))
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	job, err := b.Pop(ctx, broker.QueueCPU, time.Minute)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if job.ID != id || string(job.Payload) != "payload-a" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Redeliveries != 0 {
		t.Fatalf("expected zero redeliveries, got %d", job.Redeliveries)
	}

	if err := b.Ack(ctx, broker.QueueCPU, job.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	depth, err := b.Depth(ctx, broker.QueueCPU)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected empty queue after ack, got depth %d", depth)
	}
}

func TestNackRedelivers(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	id, _ := b.Push(ctx, broker.QueueGPU, []byte("x"))
	job, err := b.Pop(ctx, broker.QueueGPU, time.Minute)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}

	if err := b.Nack(ctx, broker.QueueGPU, job.ID); err != nil {
		t.Fatalf("nack: %v", err)
	}

	redelivered, err := b.Pop(ctx, broker.QueueGPU, time.Minute)
	if err != nil {
		t.Fatalf("pop after nack: %v", err)
	}
	if redelivered.ID != id {
		t.Fatalf("expected same job redelivered, got %s", redelivered.ID)
	}
	if redelivered.Redeliveries != 1 {
		t.Fatalf("expected redeliveries=1, got %d", redelivered.Redeliveries)
	}
}

func TestRequestCancelVisibleOnRedelivery(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	id, _ := b.Push(ctx, broker.QueueUtility, []byte("x"))
	job, err := b.Pop(ctx, broker.QueueUtility, time.Minute)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}

	if err := b.RequestCancel(ctx, broker.QueueUtility, id); err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if err := b.Nack(ctx, broker.QueueUtility, job.ID); err != nil {
		t.Fatalf("nack: %v", err)
	}

	redelivered, err := b.Pop(ctx, broker.QueueUtility, time.Minute)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if !redelivered.CancelRequest {
		t.Fatalf("expected cancel request to survive redelivery")
	}
}

func TestPopEmptyReturnsErrEmptyOnCancel(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.Pop(ctx, broker.QueueDownload, time.Minute)
	if err != broker.ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}
