// The bot binary is the verification coordinator: it owns the relational
// store, consumes checker results and applies them to guild membership.
// The interactive Discord surface (slash commands, modals) drives the same
// verify.Service operations and lives outside this repository's scope.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vrcverify/internal/broker"
	"vrcverify/internal/discord"
	"vrcverify/internal/domain"
	"vrcverify/internal/notify"
	"vrcverify/internal/platform/config"
	"vrcverify/internal/platform/httpserver"
	"vrcverify/internal/platform/logger"
	"vrcverify/internal/platform/metrics"
	"vrcverify/internal/reconcile"
	"vrcverify/internal/storage"
	"vrcverify/internal/verify"
)

func main() {
	cfg, err := config.LoadBot()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	discordClient := discord.New(cfg.DiscordToken, log)
	members := discord.NewMemberCache(discordClient, cfg.MemberTTL, cfg.MemberFetches)
	notifier := notify.New(discordClient, store.Guilds(), log)
	reconciler := reconcile.New(store.Guilds(), members, discordClient, notifier, log,
		reconcile.WithRecheckDelay(cfg.RecheckDelay))

	publisher, err := broker.NewPublisher(cfg.Broker.Seeds, cfg.Broker.RequestTopic, log)
	if err != nil {
		log.Error("connect publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	service := verify.New(store, store, publisher, reconciler, notifier, log,
		verify.WithMetrics(metrics.NewBot()))

	srv := httpserver.New(cfg.Addr, httpserver.NewRouter())

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("bot listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return consumeResults(ctx, cfg, service, log)
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("bot exited", "error", err)
		os.Exit(1)
	}
}

// consumeResults keeps a result consumer running until shutdown. A handler
// or connection failure tears the session down and a fresh one resumes at
// the last committed offset, redelivering anything unacknowledged.
func consumeResults(ctx context.Context, cfg *config.Bot, service *verify.Service, log *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		consumer, err := broker.NewConsumer(cfg.Broker.Seeds, cfg.ConsumerGroup, cfg.Broker.ResultTopic, log)
		if err != nil {
			log.Error("connect consumer", "error", err)
		} else {
			log.Info("consuming verification results", "topic", cfg.Broker.ResultTopic)
			err = consumer.Run(ctx, func(ctx context.Context, payload []byte) error {
				var res domain.VerificationResult
				if err := json.Unmarshal(payload, &res); err != nil {
					log.Error("malformed verification result, dropping", "error", err)
					return nil
				}
				return service.HandleResult(ctx, res)
			})
			consumer.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("result consumer stopped, restarting", "error", err)
		}

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
