// The checker binary consumes verification requests, looks profiles up on
// VRChat through the rate-limited scheduler and publishes results.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vrcverify/internal/broker"
	"vrcverify/internal/checker"
	"vrcverify/internal/platform/config"
	"vrcverify/internal/platform/httpserver"
	"vrcverify/internal/platform/logger"
	"vrcverify/internal/platform/metrics"
	platformredis "vrcverify/internal/platform/redis"
	"vrcverify/internal/scheduler"
	"vrcverify/internal/vrchat"
)

func main() {
	cfg, err := config.LoadChecker()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vrcClient, err := vrchat.New(vrchat.Config{
		BaseURL:   cfg.VRChatBaseURL,
		Username:  cfg.VRChatUsername,
		Password:  cfg.VRChatPassword,
		TwoFactor: cfg.VRChatTwoFactor,
		UserAgent: cfg.VRChatUserAgent,
	}, log)
	if err != nil {
		log.Error("build vrchat client", "error", err)
		os.Exit(1)
	}

	m := metrics.NewChecker()

	var cache checker.ProfileCache
	if cfg.RedisURL != "" {
		redisClient, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			log.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		cache = checker.NewRedisCache(redisClient, cfg.CacheTTL, log)
		log.Info("using redis profile cache")
	} else {
		cache = checker.NewMemoryCache(cfg.CacheTTL, cfg.CacheSize)
	}

	sched := scheduler.New(cfg.LookupInterval, log,
		scheduler.WithDepthObserver(func(depth int) { m.QueueDepth.Set(float64(depth)) }))
	defer sched.Close()

	publisher, err := broker.NewPublisher(cfg.Broker.Seeds, cfg.Broker.ResultTopic, log)
	if err != nil {
		log.Error("connect publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	chk := checker.New(vrcClient, cache, sched, publisher, log, m)

	srv := httpserver.New(cfg.Addr, httpserver.NewRouter())

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("checker listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return consumeRequests(ctx, cfg, chk, log)
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("checker exited", "error", err)
		os.Exit(1)
	}
}

func consumeRequests(ctx context.Context, cfg *config.Checker, chk *checker.Checker, log *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		consumer, err := broker.NewConsumer(cfg.Broker.Seeds, cfg.ConsumerGroup, cfg.Broker.RequestTopic, log)
		if err != nil {
			log.Error("connect consumer", "error", err)
		} else {
			log.Info("consuming verification requests", "topic", cfg.Broker.RequestTopic)
			err = consumer.Run(ctx, chk.HandleRequest)
			consumer.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("request consumer stopped, restarting", "error", err)
		}

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
