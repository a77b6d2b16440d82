// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package capture_health_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/capture/config"
	"github.com/rapidaai/capture/pkg/commons"
	"github.com/rapidaai/capture/pkg/connectors"
)

type HealthApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	redis  connectors.RedisConnector
}

// New builds the health api. redis may be nil when the service runs on the
// in-memory store.
func New(cfg *config.AppConfig, logger commons.Logger, redis connectors.RedisConnector) *HealthApi {
	return &HealthApi{cfg: cfg, logger: logger, redis: redis}
}

func (api *HealthApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": api.cfg.Name,
		"version": api.cfg.Version,
	})
}

// Readiness also verifies the chunk store backend is reachable.
func (api *HealthApi) Readiness(c *gin.Context) {
	if api.redis != nil {
		if err := api.redis.Ping(c.Request.Context()); err != nil {
			api.logger.Errorf("readiness: redis unreachable: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
