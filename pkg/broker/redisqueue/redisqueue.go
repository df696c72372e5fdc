// Package redisqueue implements broker.Broker on Redis lists, using a
// processing list per queue plus a deadline sorted set for visibility-
// timeout based redelivery, in the style of the classic "reliable queue"
// pattern (BRPOPLPUSH + housekeeping).
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/opentranscribe/mpo/pkg/broker"
)

// Broker is a Redis-backed broker.Broker.
type Broker struct {
	rdb    *redis.Client
	prefix string
}

// New wraps an existing *redis.Client. prefix namespaces all keys, e.g. "mpo".
func New(rdb *redis.Client, prefix string) *Broker {
	if prefix == "" {
		prefix = "mpo"
	}
	return &Broker{rdb: rdb, prefix: prefix}
}

func (b *Broker) queueKey(queue string) string      { return fmt.Sprintf("%s:queue:%s", b.prefix, queue) }
func (b *Broker) processingKey(queue string) string { return fmt.Sprintf("%s:processing:%s", b.prefix, queue) }
func (b *Broker) deadlineKey(queue string) string   { return fmt.Sprintf("%s:deadlines:%s", b.prefix, queue) }
func (b *Broker) jobKey(jobID string) string        { return fmt.Sprintf("%s:job:%s", b.prefix, jobID) }

func (b *Broker) Push(ctx context.Context, queue string, payload []byte) (string, error) {
	id := uuid.New().String()
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, b.jobKey(id), map[string]any{
		"queue":        queue,
		"payload":      payload,
		"enqueued_at":  time.Now().UTC().Format(time.RFC3339Nano),
		"redeliveries": 0,
		"cancel":       0,
	})
	pipe.LPush(ctx, b.queueKey(queue), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redisqueue: push: %w", err)
	}
	return id, nil
}

// Pop reclaims any jobs whose visibility deadline has elapsed, then blocks
// for the next available job, moving it atomically onto the processing list.
func (b *Broker) Pop(ctx context.Context, queue string, visibility time.Duration) (*broker.Job, error) {
	if err := b.reclaimExpired(ctx, queue); err != nil {
		return nil, err
	}

	id, err := b.rdb.BRPopLPush(ctx, b.queueKey(queue), b.processingKey(queue), 2*time.Second).Result()
	if errors.Is(err, redis.Nil) {
		return nil, broker.ErrEmpty
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, broker.ErrEmpty
		}
		return nil, fmt.Errorf("redisqueue: pop: %w", err)
	}

	deadline := time.Now().Add(visibility).Unix()
	if err := b.rdb.ZAdd(ctx, b.deadlineKey(queue), redis.Z{Score: float64(deadline), Member: id}).Err(); err != nil {
		return nil, fmt.Errorf("redisqueue: set deadline: %w", err)
	}

	return b.loadJob(ctx, queue, id)
}

func (b *Broker) loadJob(ctx context.Context, queue, id string) (*broker.Job, error) {
	fields, err := b.rdb.HGetAll(ctx, b.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: load job: %w", err)
	}
	if len(fields) == 0 {
		return nil, broker.ErrEmpty
	}
	redeliveries, _ := strconv.Atoi(fields["redeliveries"])
	enqueuedAt, _ := time.Parse(time.RFC3339Nano, fields["enqueued_at"])
	return &broker.Job{
		ID:            id,
		Queue:         queue,
		Payload:       []byte(fields["payload"]),
		EnqueuedAt:    enqueuedAt,
		Redeliveries:  redeliveries,
		CancelRequest: fields["cancel"] == "1",
	}, nil
}

// reclaimExpired moves jobs whose deadline has passed back onto the queue
// and increments their redelivery count, preserving at-least-once delivery
// across worker crashes.
func (b *Broker) reclaimExpired(ctx context.Context, queue string) error {
	now := float64(time.Now().Unix())
	ids, err := b.rdb.ZRangeByScore(ctx, b.deadlineKey(queue), &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatFloat(now, 'f', -1, 64)}).Result()
	if err != nil {
		return fmt.Errorf("redisqueue: reclaim scan: %w", err)
	}
	for _, id := range ids {
		pipe := b.rdb.TxPipeline()
		pipe.LRem(ctx, b.processingKey(queue), 0, id)
		pipe.LPush(ctx, b.queueKey(queue), id)
		pipe.HIncrBy(ctx, b.jobKey(id), "redeliveries", 1)
		pipe.ZRem(ctx, b.deadlineKey(queue), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redisqueue: reclaim job %s: %w", id, err)
		}
	}
	return nil
}

func (b *Broker) Ack(ctx context.Context, queue, jobID string) error {
	pipe := b.rdb.TxPipeline()
	pipe.LRem(ctx, b.processingKey(queue), 0, jobID)
	pipe.ZRem(ctx, b.deadlineKey(queue), jobID)
	pipe.Del(ctx, b.jobKey(jobID))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisqueue: ack: %w", err)
	}
	return nil
}

func (b *Broker) Nack(ctx context.Context, queue, jobID string) error {
	pipe := b.rdb.TxPipeline()
	pipe.LRem(ctx, b.processingKey(queue), 0, jobID)
	pipe.ZRem(ctx, b.deadlineKey(queue), jobID)
	pipe.LPush(ctx, b.queueKey(queue), jobID)
	pipe.HIncrBy(ctx, b.jobKey(jobID), "redeliveries", 1)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisqueue: nack: %w", err)
	}
	return nil
}

func (b *Broker) RequestCancel(ctx context.Context, queue, jobID string) error {
	if err := b.rdb.HSet(ctx, b.jobKey(jobID), "cancel", 1).Err(); err != nil {
		return fmt.Errorf("redisqueue: request cancel: %w", err)
	}
	return nil
}

func (b *Broker) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := b.rdb.LLen(ctx, b.queueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("redisqueue: depth: %w", err)
	}
	return n, nil
}

func (b *Broker) Healthcheck(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *Broker) Close() error {
	return b.rdb.Close()
}

var _ broker.Broker = (*Broker)(nil)
