// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	internal_chunkstore "github.com/rapidaai/capture/api/capture-api/internal/chunkstore"
	internal_controller "github.com/rapidaai/capture/api/capture-api/internal/controller"
	internal_session "github.com/rapidaai/capture/api/capture-api/internal/session"
	internal_surface "github.com/rapidaai/capture/api/capture-api/internal/surface"
	internal_type "github.com/rapidaai/capture/api/capture-api/internal/type"
	capture_routers "github.com/rapidaai/capture/api/capture-api/router"
	"github.com/rapidaai/capture/config"
	isolation_client "github.com/rapidaai/capture/pkg/clients/isolation"
	"github.com/rapidaai/capture/pkg/commons"
	"github.com/rapidaai/capture/pkg/connectors"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("unable to initialize config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("unable to read application config: %v", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(cfg.Name),
		commons.Path(cfg.LogPath),
		commons.Level(cfg.LogLevel),
	)
	if err != nil {
		log.Fatalf("unable to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Chunk store: redis when configured, otherwise in-process.
	var redis connectors.RedisConnector
	var store internal_chunkstore.Store
	if cfg.RedisConfig.Host != "" {
		redis, err = connectors.NewRedisConnector(ctx, cfg.RedisConfig, logger)
		if err != nil {
			logger.Fatalf("unable to connect redis: %v", err)
		}
		defer redis.Close()
		store = internal_chunkstore.NewRedisStore(redis.Client(), logger, cfg.CaptureConfig.SnapshotBudgetBytes)
	} else {
		logger.Warn("redis not configured, recordings will not survive a restart")
		store = internal_chunkstore.NewMemoryStore(cfg.CaptureConfig.SnapshotBudgetBytes)
	}

	gateway := internal_surface.NewHTTPGateway(cfg.MediaHost, logger)
	acquirer := internal_surface.NewAcquirer(gateway, store, logger,
		time.Duration(cfg.CaptureConfig.InitialGraceMs)*time.Millisecond,
		time.Duration(cfg.CaptureConfig.ConflictGraceMs)*time.Millisecond,
	)

	chunkInterval := time.Duration(cfg.CaptureConfig.ChunkIntervalMs) * time.Millisecond
	session, err := internal_session.New(ctx, logger, store, gateway, acquirer,
		func(src internal_type.AudioSource) internal_session.Recorder {
			return internal_session.NewStreamRecorder(logger, src, chunkInterval)
		})
	if err != nil {
		logger.Fatalf("unable to build recording session: %v", err)
	}

	controller := internal_controller.New(logger, session)

	if cfg.IsolationHost != "" {
		isolation := isolation_client.NewIsolationServiceClient(cfg.IsolationHost, logger)
		if status, err := isolation.Health(ctx); err != nil {
			logger.Warnf("isolation server not reachable: %v", err)
		} else {
			logger.Infof("isolation server ready, model_loaded=%v device=%s", status.ModelLoaded, status.Device)
		}
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	capture_routers.HealthCheckRoutes(cfg, engine, logger, redis)
	capture_routers.CaptureRoutes(cfg, engine, logger, controller)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("%s %s listening on %s", cfg.Name, cfg.Version, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()

		// Host-initiated teardown: best-effort resource release, persisted
		// recording state kept for the next process.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		controller.Shutdown(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("capture service stopped")
}
