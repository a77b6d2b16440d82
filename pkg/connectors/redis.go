// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package connectors

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/capture/pkg/commons"
)

// RedisConfig holds everything needed to reach a redis instance.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
}

// RedisConnector hands out the shared redis client. Kept as an interface so
// stores can be tested against redismock without a live server.
type RedisConnector interface {
	Client() *redis.Client
	Ping(ctx context.Context) error
	Close() error
}

type redisConnector struct {
	client *redis.Client
	logger commons.Logger
}

// NewRedisConnector connects to redis and verifies the connection once.
func NewRedisConnector(ctx context.Context, cfg RedisConfig, logger commons.Logger) (RedisConnector, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.Database,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect redis at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	logger.Infof("redis connected at %s:%d db=%d", cfg.Host, cfg.Port, cfg.Database)
	return &redisConnector{client: client, logger: logger}, nil
}

func (c *redisConnector) Client() *redis.Client { return c.client }

func (c *redisConnector) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *redisConnector) Close() error {
	return c.client.Close()
}
