// Package queue provides verification queue backends.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/facturo/internal/config"
	domain "github.com/smallbiznis/facturo/internal/verification/domain"
)

const payloadField = "payload"

// RedisQueue is a Redis Streams queue with consumer-group delivery.
//
// Immediate messages go straight onto the stream. Delayed messages sit in a
// sorted set scored by due time and are promoted onto the stream at the top
// of each Dequeue, so backoff never blocks a consumer.
type RedisQueue struct {
	rdb        *redis.Client
	log        *zap.Logger
	stream     string
	dlqStream  string
	delayedKey string
	group      string
	consumer   string
}

// NewRedis builds the queue and ensures the consumer group exists.
func NewRedis(rdb *redis.Client, cfg config.VerifactConfig, log *zap.Logger) (*RedisQueue, error) {
	q := &RedisQueue{
		rdb:        rdb,
		log:        log,
		stream:     cfg.StreamKey,
		dlqStream:  cfg.DLQStreamKey,
		delayedKey: cfg.StreamKey + ":delayed",
		group:      cfg.ConsumerGroup,
		consumer:   cfg.ConsumerName,
	}

	err := rdb.XGroupCreateMkStream(context.Background(), q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, err
	}
	return q, nil
}

func (q *RedisQueue) Publish(ctx context.Context, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{payloadField: string(payload)},
	}).Err()
}

func (q *RedisQueue) PublishDelayed(ctx context.Context, msg domain.Message, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(ctx, msg)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	return q.rdb.ZAdd(ctx, q.delayedKey, redis.Z{
		Score:  float64(due),
		Member: string(payload),
	}).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, max int) ([]domain.Delivery, error) {
	if err := q.promoteDue(ctx); err != nil {
		q.log.Warn("promote delayed messages", zap.Error(err))
	}

	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max),
		Block:    -1,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var deliveries []domain.Delivery
	for _, stream := range res {
		for _, entry := range stream.Messages {
			raw, _ := entry.Values[payloadField].(string)
			var msg domain.Message
			if err := json.Unmarshal([]byte(raw), &msg); err != nil || msg.InvoiceID == 0 {
				// Poison entry. Redelivering it can never succeed, so
				// drop it here instead of letting it loop.
				q.log.Warn("dropping malformed queue entry",
					zap.String("entry_id", entry.ID),
					zap.Error(err),
				)
				_ = q.rdb.XAck(ctx, q.stream, q.group, entry.ID).Err()
				continue
			}
			deliveries = append(deliveries, domain.Delivery{
				ID:      entry.ID,
				Message: msg,
				Payload: raw,
			})
		}
	}
	return deliveries, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d domain.Delivery) error {
	return q.rdb.XAck(ctx, q.stream, q.group, d.ID).Err()
}

func (q *RedisQueue) DeadLetter(ctx context.Context, d domain.Delivery, reason string) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dlqStream,
		Values: map[string]any{
			payloadField:  d.Payload,
			"reason":      reason,
			"retry_count": strconv.Itoa(d.Message.RetryCount),
		},
	}).Err()
	if err != nil {
		return err
	}
	return q.Ack(ctx, d)
}

// promoteDue moves delayed messages whose due time has passed onto the
// stream. Promotion and removal are not atomic; a crash between the two
// re-promotes the message, which at-least-once delivery already absorbs.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil || len(members) == 0 {
		return err
	}
	for _, member := range members {
		if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: map[string]any{payloadField: member},
		}).Err(); err != nil {
			return err
		}
		if err := q.rdb.ZRem(ctx, q.delayedKey, member).Err(); err != nil {
			return err
		}
	}
	return nil
}
