package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "carconnect:"

// RedisBus fans events out across replicas over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisBus connects to redisURL and pings it.
func NewRedisBus(ctx context.Context, redisURL string, log *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisBus{
		client: client,
		log:    log.With(zap.String("component", "redis_bus")),
	}, nil
}

func (b *RedisBus) Subscribe(topic string, h Handler) func() {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, channelPrefix+topic)

	go func() {
		for msg := range pubsub.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.log.Warn("Dropping undecodable event",
					zap.String("channel", msg.Channel),
					zap.Error(err))
				continue
			}
			h(e)
		}
	}()

	return func() {
		cancel()
		if err := pubsub.Close(); err != nil {
			b.log.Debug("Closing subscription", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, e Event) error {
	e.Topic = topic
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", topic, err)
	}

	if err := b.client.Publish(ctx, channelPrefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
