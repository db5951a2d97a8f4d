// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
)

// RedisPublisher fans job events out over Redis Pub/Sub, one channel per
// owner so a client can subscribe to just its own jobs.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisPublisher opens a client for cfg and pings it once.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = DefaultConfig().Redis.DialTimeout
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dial,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dial)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info().Str("addr", cfg.Addr).Str("channel", cfg.Channel).
		Msg("job events will be published to redis")
	return NewRedisPublisherWithClient(rdb, cfg.Channel), nil
}

// NewRedisPublisherWithClient takes ownership of rdb; Close closes it.
func NewRedisPublisherWithClient(rdb *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultConfig().Redis.Channel
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

func (p *RedisPublisher) Name() string { return "redis" }

// Channel is "{prefix}:{owner}".
func (p *RedisPublisher) Channel(owner string) string {
	return fmt.Sprintf("%s:%s", p.prefix, owner)
}

func (p *RedisPublisher) Publish(ctx context.Context, owner string, payload []byte) error {
	ch := p.Channel(owner)
	receivers, err := p.rdb.Publish(ctx, ch, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	logger.Debug().Str("channel", ch).Int64("receivers", receivers).Msg("job event sent to redis")
	return nil
}

func (p *RedisPublisher) Close() error {
	if p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
