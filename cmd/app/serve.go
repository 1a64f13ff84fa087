package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"toko/internal/auth"
	"toko/internal/cache"
	"toko/internal/events"
	"toko/internal/fulfillment"
	"toko/internal/httpserver"
	"toko/internal/metrics"
	"toko/internal/outbox"
	"toko/internal/wa"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, outbox relay and chat channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	logger.Info("starting toko", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(cfg.MetricsNamespace, prometheus.DefaultRegisterer)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()

	var invalidator fulfillment.CatalogInvalidator
	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		invalidator = cache.NewCatalogInvalidator(redisClient, m, logger)
	}

	hub := events.NewHub(m, logger)
	defer hub.Close()
	var mirror events.Broadcaster
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger), cfg.KafkaTopic, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("failed closing kafka publisher", "error", err)
			}
		}()
		mirror = publisher
	}

	relay := outbox.NewRelay(repository, outbox.Config{
		Interval:  cfg.OutboxInterval,
		BatchSize: cfg.OutboxBatchSize,
	}, m, logger)

	deps := fulfillment.Deps{Repo: repository, Kicker: relay, Metrics: m, Logger: logger}
	notifier := fulfillment.NewNotificationService(deps, nil, cfg.RatingBaseURL)

	deviceStore, err := wa.OpenStore(ctx, wa.StoreConfig{Path: cfg.WhatsAppStorePath, LogLevel: cfg.WhatsAppLogLevel})
	if err != nil {
		return fmt.Errorf("init whatsapp store: %w", err)
	}
	registry := wa.NewRegistry(deviceStore, repository, notifier, m, logger)
	notifier.SetSender(registry)

	fulfillment.RegisterHandlers(relay, hub, mirror, notifier, invalidator)

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}
	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, m, httpserver.Dependencies{
		Orders:     fulfillment.NewOrderService(deps),
		Payments:   fulfillment.NewPaymentService(deps),
		Deliveries: fulfillment.NewDeliveryService(deps),
		Chats:      notifier,
		Hub:        hub,
		Channel:    registry,
		Verifier:   verifier,
		Health:     repository,
		Gatherer:   prometheus.DefaultGatherer,
	}, cfg.PublicBasePath)

	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("start whatsapp registry: %w", err)
	}
	defer registry.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(httpSrv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
