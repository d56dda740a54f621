package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sentinelops/orchestrator/core"
	"github.com/sentinelops/orchestrator/resilience"
)

// Redis implements Bus using Redis lists: LPUSH to publish, BRPOP to
// receive, giving reliable FIFO delivery per topic.
type Redis struct {
	client    *redis.Client
	namespace string
	breaker   *resilience.CircuitBreaker
	logger    core.Logger

	retryAttempts int
	retryDelay    time.Duration
}

// RedisConfig configures the Redis-backed bus.
type RedisConfig struct {
	Namespace      string
	CircuitBreaker *resilience.CircuitBreaker
	Logger         core.Logger
	RetryAttempts  int
	RetryDelay     time.Duration
}

// NewRedis creates a Redis-backed Bus. The client should already be connected.
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Namespace == "" {
		cfg.Namespace = "sentinelops"
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("bus/redis")
	}
	return &Redis{
		client:        client,
		namespace:     cfg.Namespace,
		breaker:       cfg.CircuitBreaker,
		logger:        logger,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
	}
}

func (b *Redis) queueKey(topic string) string {
	return fmt.Sprintf("%s:topic:%s", b.namespace, topic)
}

func (b *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	retryCfg := &resilience.RetryConfig{
		MaxAttempts:   b.retryAttempts,
		InitialDelay:  b.retryDelay,
		MaxDelay:      b.retryDelay * time.Duration(b.retryAttempts),
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}

	push := func() error {
		return b.client.LPush(ctx, b.queueKey(topic), payload).Err()
	}

	var err error
	if b.breaker != nil {
		err = resilience.RetryWithCircuitBreaker(ctx, retryCfg, b.breaker, push)
	} else {
		err = resilience.Retry(ctx, retryCfg, push)
	}
	if err != nil {
		b.logger.WarnWithContext(ctx, "publish failed after retries", map[string]interface{}{
			"topic": topic, "attempts": b.retryAttempts, "error": err.Error(),
		})
		return fmt.Errorf("failed to publish to %s after %d attempts: %w", topic, b.retryAttempts, err)
	}
	return nil
}

func (b *Redis) Receive(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	result, err := b.client.BRPop(ctx, timeout, b.queueKey(topic)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("receiving from %s: %w", topic, err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected BRPOP result for %s", topic)
	}

	payload := []byte(result[1])
	return &Message{
		Topic:   topic,
		Payload: payload,
		Ack:     func(context.Context) error { return nil },
		Reject: func(ctx context.Context, reason string) error {
			b.logger.WarnWithContext(ctx, "message rejected", map[string]interface{}{
				"topic": topic, "reason": reason,
			})
			return b.client.LPush(ctx, b.queueKey(topic), payload).Err()
		},
	}, nil
}

func (b *Redis) Close() error {
	return nil
}
