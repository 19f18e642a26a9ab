// Package main запускает HTTP-сервер сервиса доставки цифровых товаров.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/filedrop/internal/app"
	"github.com/mmeshcher/filedrop/internal/config"
	"github.com/mmeshcher/filedrop/internal/events"
	"github.com/mmeshcher/filedrop/internal/handler"
	"github.com/mmeshcher/filedrop/internal/middleware"
)

const (
	purgeInterval = time.Hour
	purgeAge      = 24 * time.Hour
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		sugar.Warnw("failed to load .env file", "error", err.Error())
	}

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		sugar.Fatalw("initialization error", "error", err.Error())
	}
	defer a.Close()

	if cfg.AdminAPIKey == "" {
		sugar.Warn("ADMIN_API_KEY is not set, admin endpoints will reject every request")
	}

	h := handler.NewHandler(handler.Services{
		Download: a.Download,
		Delivery: a.Dispatcher,
		Webhook:  a.Reconciler,
		Refund:   a.Refunds,
		Health:   a.Repo,
	}, logger, middleware.NewAdminAuth(cfg.AdminAPIKey))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Потребитель событий об оплаченных заказах
	if cfg.Kafka.BootstrapServers != "" {
		kc, err := kafka.NewConsumer(events.NewConsumerConfig(cfg.Kafka.BootstrapServers, cfg.Kafka.GroupID))
		if err != nil {
			sugar.Fatalw("kafka consumer error", "error", err.Error())
		}
		consumer, err := events.NewKafkaConsumer(kc, cfg.Kafka.PaidOrdersTopic, events.NewPaidOrderHandler(a.Dispatcher), logger)
		if err != nil {
			sugar.Fatalw("kafka subscribe error", "error", err.Error())
		}
		defer consumer.Close()

		g.Go(func() error {
			sugar.Infow("starting paid orders consumer", "topic", cfg.Kafka.PaidOrdersTopic)
			return consumer.Start(ctx)
		})
	}

	// Очистка устаревших окон лимита запросов
	if cfg.RateLimitBackend == config.RateLimitPostgres {
		g.Go(func() error {
			ticker := time.NewTicker(purgeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					n, err := a.Repo.PurgeRateLimits(ctx, time.Now().Add(-purgeAge))
					if err != nil {
						logger.Warn("purge rate limits failed", zap.Error(err))
						continue
					}
					logger.Debug("purged rate limit windows", zap.Int64("rows", n))
				}
			}
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting filedrop server", "addr", cfg.RunAddress, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
