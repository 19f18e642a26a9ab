// Package download реализует выдачу файлов по токенам скачивания.
package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/model"
	"github.com/mmeshcher/filedrop/internal/ratelimit"
	"github.com/mmeshcher/filedrop/internal/repository"
)

// Параметры публичной точки скачивания.
const (
	Endpoint        = "download-file"
	RateLimitMax    = 10
	RateLimitWindow = 60 * time.Second
	SignedURLTTL    = 5 * time.Minute
	tokenPrefixLen  = 8
)

var (
	// ErrNoFiles возвращается, если у товара нет ни одного файла.
	ErrNoFiles = errors.New("no files available for product")
	// ErrFileUnavailable возвращается, если токен не удаётся сопоставить с файлом.
	ErrFileUnavailable = errors.New("product file not available")
	// ErrStorageNotConfigured возвращается, если файл лежит в хранилище, а подписчик не настроен.
	ErrStorageNotConfigured = errors.New("object storage is not configured")
)

// RateLimitedError сообщает о превышении частоты запросов.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// QuotaExceededError сообщает об исчерпании лимита скачиваний по токену.
type QuotaExceededError struct {
	DownloadCount int
	MaxDownloads  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("download limit reached: %d of %d", e.DownloadCount, e.MaxDownloads)
}

// Repository описывает контракт доступа к данным, используемый сервисом скачивания.
type Repository interface {
	ListTokensForProduct(ctx context.Context, orderID, productID uuid.UUID) ([]model.DownloadToken, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error)
	ListProductFiles(ctx context.Context, productID uuid.UUID) ([]model.ProductFile, []model.ProductFile, error)
	GetProductFile(ctx context.Context, kind model.FileKind, id uuid.UUID) (*model.ProductFile, error)
	IncrementDownloadCount(ctx context.Context, tokenID uuid.UUID, limit int) (int, error)
	IncrementProductDownloads(ctx context.Context, productID uuid.UUID) error
}

// TokenValidator проверяет токен скачивания.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*model.DownloadToken, error)
}

// RateLimiter проверяет частоту запросов.
type RateLimiter interface {
	Check(ctx context.Context, identifier, endpoint string, maxRequests int, window time.Duration) (ratelimit.Decision, error)
}

// URLSigner выдаёт короткоживущие ссылки на объекты хранилища.
type URLSigner interface {
	SignedURL(ctx context.Context, path, fileName string, ttl time.Duration) (string, error)
}

// Result описывает, куда отправить клиента.
// RedirectURL заполнен для файлов в хранилище, DirectURL заполнен для устаревших внешних ссылок.
type Result struct {
	RedirectURL        string
	DirectURL          string
	ProductName        string
	FileName           string
	DownloadsRemaining int
}

// Service выдаёт файлы по токенам.
type Service struct {
	repo    Repository
	tokens  TokenValidator
	limiter RateLimiter
	signer  URLSigner
	logger  *zap.Logger
}

// NewService создаёт сервис скачивания.
func NewService(repo Repository, tokens TokenValidator, limiter RateLimiter, signer URLSigner, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		tokens:  tokens,
		limiter: limiter,
		signer:  signer,
		logger:  logger,
	}
}

// Download проверяет токен, списывает одно скачивание и возвращает ссылку на файл.
func (s *Service) Download(ctx context.Context, clientIP, token string) (*Result, error) {
	if err := s.checkRateLimit(ctx, clientIP, token); err != nil {
		return nil, err
	}

	t, err := s.tokens.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	if t.Exhausted() {
		return nil, &QuotaExceededError{DownloadCount: t.DownloadCount, MaxDownloads: model.MaxDownloads}
	}

	product, err := s.repo.GetProduct(ctx, t.ProductID)
	if err != nil {
		return nil, err
	}

	file, err := s.resolveFile(ctx, t)
	if err != nil {
		return nil, err
	}

	// Скачивание списывается только после того, как ссылка получена.
	res := &Result{ProductName: product.Name, FileName: file.FileName}
	if file.IsExternal() {
		res.DirectURL = file.ExternalURL
	} else {
		if s.signer == nil {
			return nil, ErrStorageNotConfigured
		}
		url, err := s.signer.SignedURL(ctx, file.StoragePath, file.FileName, SignedURLTTL)
		if err != nil {
			return nil, fmt.Errorf("sign file url: %w", err)
		}
		res.RedirectURL = url
	}

	count, err := s.repo.IncrementDownloadCount(ctx, t.ID, model.MaxDownloads)
	if err != nil {
		if errors.Is(err, repository.ErrQuotaExceeded) {
			return nil, &QuotaExceededError{DownloadCount: model.MaxDownloads, MaxDownloads: model.MaxDownloads}
		}
		return nil, err
	}
	res.DownloadsRemaining = model.MaxDownloads - count

	if err := s.repo.IncrementProductDownloads(ctx, product.ID); err != nil {
		s.logger.Warn("increment product downloads failed",
			zap.Error(err), zap.String("product_id", product.ID.String()))
	}

	return res, nil
}

func (s *Service) checkRateLimit(ctx context.Context, clientIP, token string) error {
	if s.limiter == nil {
		return nil
	}

	prefix := token
	if len(prefix) > tokenPrefixLen {
		prefix = prefix[:tokenPrefixLen]
	}

	d, err := s.limiter.Check(ctx, clientIP+":"+prefix, Endpoint, RateLimitMax, RateLimitWindow)
	if err != nil {
		s.logger.Warn("rate limiter failed, allowing request", zap.Error(err))
		return nil
	}
	if !d.Allowed {
		return &RateLimitedError{RetryAfter: d.RetryAfter}
	}
	return nil
}

func (s *Service) resolveFile(ctx context.Context, t *model.DownloadToken) (*model.ProductFile, error) {
	docs, audio, err := s.repo.ListProductFiles(ctx, t.ProductID)
	if err != nil {
		return nil, err
	}
	if len(docs)+len(audio) == 0 {
		return nil, ErrNoFiles
	}

	if t.FileID != nil {
		f, err := s.repo.GetProductFile(ctx, t.FileKind, *t.FileID)
		if err != nil {
			if errors.Is(err, repository.ErrFileNotFound) {
				return nil, ErrFileUnavailable
			}
			return nil, err
		}
		if f.ProductID != t.ProductID {
			return nil, ErrFileUnavailable
		}
		return f, nil
	}

	siblings, err := s.repo.ListTokensForProduct(ctx, t.OrderID, t.ProductID)
	if err != nil {
		return nil, err
	}

	return ResolvePositional(t.ID, siblings, docs, audio)
}

// ResolvePositional сопоставляет токен без явной ссылки на файл по его порядковому номеру
// среди токенов пары (заказ, товар): первые len(docs) токенов получают документы, следующие получают аудио.
func ResolvePositional(tokenID uuid.UUID, siblings []model.DownloadToken, docs, audio []model.ProductFile) (*model.ProductFile, error) {
	pos := -1
	for i := range siblings {
		if siblings[i].ID == tokenID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, ErrFileUnavailable
	}

	if pos < len(docs) {
		f := docs[pos]
		return &f, nil
	}
	if idx := pos - len(docs); idx < len(audio) {
		f := audio[idx]
		return &f, nil
	}

	return nil, ErrFileUnavailable
}
