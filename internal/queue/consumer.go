package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler completes one queued dispatch, typically gateway.Dispatch with
// the message's pre-created log id.
type Handler func(ctx context.Context, msg Message) error

// Consumer drains the dispatch stream one message at a time as part of a
// consumer group. Malformed or failed messages are logged and acked; the
// ledger's failed state is the recovery surface, not redelivery.
type Consumer struct {
	rdb     *redis.Client
	stream  string
	group   string
	name    string
	handler Handler
}

func NewConsumer(rdb *redis.Client, stream, group, name string, handler Handler) *Consumer {
	return &Consumer{
		rdb:     rdb,
		stream:  stream,
		group:   group,
		name:    name,
		handler: handler,
	}
}

// Run blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	slog.Info("queue consumer started", "stream", c.stream, "group", c.group, "consumer", c.name)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("queue read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				c.process(ctx, entry)
				if err := c.rdb.XAck(ctx, c.stream, c.group, entry.ID).Err(); err != nil {
					slog.Warn("failed to ack dispatch message", "id", entry.ID, "error", err)
				}
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, entry redis.XMessage) {
	raw, _ := entry.Values[payloadField].(string)

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		slog.Error("malformed dispatch message", "id", entry.ID, "error", err)
		return
	}

	if err := c.handler(ctx, msg); err != nil {
		slog.Error("dispatch message failed", "id", entry.ID, "logId", msg.LogID, "error", err)
	}
}

// ensureGroup creates the consumer group at the current stream offset, so
// new consumers do not replay history.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}
