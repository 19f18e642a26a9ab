// Package app собирает сервисы из конфигурации. Используется сервером и CLI.
package app

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/config"
	"github.com/mmeshcher/filedrop/internal/delivery"
	"github.com/mmeshcher/filedrop/internal/download"
	"github.com/mmeshcher/filedrop/internal/email"
	"github.com/mmeshcher/filedrop/internal/razorpay"
	"github.com/mmeshcher/filedrop/internal/ratelimit"
	"github.com/mmeshcher/filedrop/internal/refund"
	"github.com/mmeshcher/filedrop/internal/repository"
	"github.com/mmeshcher/filedrop/internal/storage"
	"github.com/mmeshcher/filedrop/internal/tokens"
	"github.com/mmeshcher/filedrop/internal/webhook"
	"github.com/mmeshcher/filedrop/internal/whatsapp"
)

// App содержит собранные сервисы.
type App struct {
	Repo       *repository.PostgresRepository
	Resolver   *config.Resolver
	Tokens     *tokens.Store
	Download   *download.Service
	Dispatcher *delivery.Dispatcher
	Reconciler *webhook.Reconciler
	Refunds    *refund.Service
}

// New подключается к базе и собирает сервисы. Закрывать App нужно через Close.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("database initialization: %w", err)
	}

	a, err := build(ctx, cfg, repo, logger)
	if err != nil {
		repo.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, repo *repository.PostgresRepository, logger *zap.Logger) (*App, error) {
	resolver := config.NewResolver(repo, cfg.Credentials, logger)
	tokenStore := tokens.NewStore(repo)

	var signer download.URLSigner
	if cfg.S3Bucket != "" {
		s3Signer, err := storage.NewS3Signer(ctx, cfg.AWSRegion, cfg.S3Bucket)
		if err != nil {
			return nil, fmt.Errorf("s3 signer: %w", err)
		}
		signer = s3Signer
	} else {
		logger.Warn("S3_BUCKET is not set, only external file URLs can be served")
	}

	limiter, err := newLimiter(ctx, cfg, repo)
	if err != nil {
		return nil, err
	}

	wa := whatsapp.NewClient("")

	return &App{
		Repo:     repo,
		Resolver: resolver,
		Tokens:   tokenStore,
		Download: download.NewService(repo, tokenStore, limiter, signer, logger),
		Dispatcher: delivery.NewDispatcher(repo, tokenStore, resolver, newMailer(cfg), wa, delivery.Options{
			PublicBaseURL: cfg.PublicBaseURL,
			MessageDelay:  cfg.MessageDelay,
		}, logger),
		Reconciler: webhook.NewReconciler(repo, resolver, cfg.IsProduction(), logger),
		Refunds:    refund.NewService(repo, razorpay.NewClient(""), wa, resolver, logger),
	}, nil
}

func newLimiter(ctx context.Context, cfg *config.Config, repo *repository.PostgresRepository) (*ratelimit.Limiter, error) {
	if cfg.RateLimitBackend != config.RateLimitDynamoDB {
		return ratelimit.New(repo), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	store := ratelimit.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.RateLimitTable)
	return ratelimit.New(store), nil
}

func newMailer(cfg *config.Config) email.Sender {
	if cfg.EmailTransport == config.TransportSMTP {
		return email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password)
	}
	return email.NewResendClient("")
}

// Close освобождает пул соединений.
func (a *App) Close() error {
	return a.Repo.Close()
}
