package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

type RedisQueue struct {
	rdb    *redis.Client
	stream string
}

func NewRedisQueue(rdb *redis.Client, stream string) *RedisQueue {
	return &RedisQueue{rdb: rdb, stream: stream}
}

func (q *RedisQueue) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return q.rdb.Ping(ctx).Err() == nil
}

// Publish appends all messages in a single pipelined call, so a bulk
// dispatch of N targets is one round trip to the broker.
func (q *RedisQueue) Publish(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	pipe := q.rdb.Pipeline()
	for _, msg := range msgs {
		b, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: map[string]any{payloadField: string(b)},
		})
	}

	_, err := pipe.Exec(ctx)
	return err
}
