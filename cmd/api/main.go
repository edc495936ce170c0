package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/readmaster-api/internal/app"
	"github.com/noah-isme/readmaster-api/internal/config"
	"github.com/noah-isme/readmaster-api/internal/handler"
	"github.com/noah-isme/readmaster-api/internal/logging"
	"github.com/noah-isme/readmaster-api/internal/middleware"
	"github.com/noah-isme/readmaster-api/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Service: "readmaster-api"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise application")
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn().Err(err).Msg("close resources")
		}
	}()

	if container.Cluster.Enabled() {
		container.Cluster.Start(ctx)
	}

	var workers sync.WaitGroup
	if cfg.WorkerEnabled {
		pool := container.NewWorkerPool(cfg.WorkerConcurrency)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := pool.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("analysis workers stopped")
			}
		}()
	}

	assessmentHandler := handler.NewAssessmentHandler(container.Assessments, logger)
	notificationHandler := handler.NewNotificationHandler(container.Notifications, logger)
	realtimeHandler := handler.NewRealtimeHandler(container.Registry, handler.RealtimeConfig{
		JWTSecret:    cfg.JWTSecret,
		WriteTimeout: cfg.WSWriteTimeout,
	}, logger)

	server := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(server, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(server, cfg, router.Dependencies{
		AssessmentHandler:   assessmentHandler,
		NotificationHandler: notificationHandler,
		RealtimeHandler:     realtimeHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes:        container.HealthProbes(),
		UploadRateLimit:     cfg.UploadRateLimit,
	})

	go func() {
		if err := server.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	shutdown(server)
	workers.Wait()
	logger.Info().Msg("server stopped")
}

func shutdown(server *fiber.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
