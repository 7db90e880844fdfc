// Package redis consumes bar-close events pushed by the charting host
// bridge onto Redis Streams. One stream per feed ("bar:{symbol}:{chart}"),
// read through a consumer group so a restarted service resumes where it
// stopped and unACKed events are recovered.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"snapsig/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ConsumerConfig configures the bar-event consumer.
type ConsumerConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // e.g. "snapsig"
	ConsumerName  string // unique per instance, e.g. hostname
}

// Consumer reads bar events from Redis Streams via consumer groups.
type Consumer struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
}

// NewConsumer connects to Redis and pings it.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "snapsig"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Printf("[bar-consumer] connected to %s (group=%s, consumer=%s)", cfg.Addr, group, consumer)
	return &Consumer{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (c *Consumer) Client() *goredis.Client { return c.client }

// Streams builds the stream names for a set of feeds.
func Streams(feeds []model.Feed) []string {
	streams := make([]string, 0, len(feeds))
	for i := range feeds {
		streams = append(streams, "bar:"+feeds[i].Symbol+":"+model.Itoa(feeds[i].Chart))
	}
	return streams
}

// EnsureConsumerGroup creates the consumer group on each stream if missing.
// Fresh groups start at "$" (only new events).
func (c *Consumer) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.consumerGroup, "$").Err()
		if err != nil {
			// BUSYGROUP means the group already exists
			if err.Error() != "BUSYGROUP Consumer Group name already exists" {
				return fmt.Errorf("xgroup create %s: %w", stream, err)
			}
		}
	}
	return nil
}

// Consume blocks on XREADGROUP and sends parsed bar events to out.
// Returns when ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, streams []string, out chan<- model.BarEvent) error {
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.consumerGroup,
			Consumer: c.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[bar-consumer] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				ev, ok := c.parse(ctx, stream.Stream, msg)
				if !ok {
					continue
				}
				select {
				case out <- ev:
					c.client.XAck(ctx, stream.Stream, c.consumerGroup, msg.ID)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// RecoverPending re-reads this consumer's unACKed events from a previous
// crash and pushes them through the same output channel.
func (c *Consumer) RecoverPending(ctx context.Context, streams []string, out chan<- model.BarEvent) error {
	for _, stream := range streams {
		args := []string{stream, "0"}

		results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.consumerGroup,
			Consumer: c.consumerName,
			Streams:  args,
			Count:    1000,
		}).Result()
		if err != nil {
			if err == goredis.Nil {
				continue
			}
			return fmt.Errorf("recover pending on %s: %w", stream, err)
		}

		recovered := 0
		for _, res := range results {
			for _, msg := range res.Messages {
				ev, ok := c.parse(ctx, res.Stream, msg)
				if !ok {
					continue
				}
				select {
				case out <- ev:
					c.client.XAck(ctx, res.Stream, c.consumerGroup, msg.ID)
					recovered++
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if recovered > 0 {
			log.Printf("[bar-consumer] recovered %d pending events from %s", recovered, stream)
		}
	}
	return nil
}

// parse decodes one stream message. Malformed messages are ACKed and
// dropped so a poison pill cannot wedge the group.
func (c *Consumer) parse(ctx context.Context, stream string, msg goredis.XMessage) (model.BarEvent, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.client.XAck(ctx, stream, c.consumerGroup, msg.ID)
		return model.BarEvent{}, false
	}

	var ev model.BarEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		log.Printf("[bar-consumer] unmarshal bar event error: %v", err)
		c.client.XAck(ctx, stream, c.consumerGroup, msg.ID)
		return model.BarEvent{}, false
	}
	return ev, true
}

// Close releases the Redis connection.
func (c *Consumer) Close() error {
	return c.client.Close()
}
