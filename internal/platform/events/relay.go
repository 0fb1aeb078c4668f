package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannel = "agenda:calendar-events"

// RedisRelay fans events out across server replicas. Publish sends to a Redis
// channel; every replica's relay, this one included, delivers received events
// to its local hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   Publisher
	logger  zerolog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, local Publisher, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, local: local, logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Start subscribes to the channel and returns once the subscription is
// confirmed. Delivery continues in the background until ctx ends.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					r.logger.Warn().Err(err).Msg("discarding malformed calendar event")
					continue
				}
				if err := r.local.Publish(ctx, event); err != nil {
					r.logger.Error().Err(err).Str("topic", event.Topic).Msg("local event delivery failed")
				}
			}
		}
	}()
	return nil
}
