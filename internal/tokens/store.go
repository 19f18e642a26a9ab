// Package tokens выпускает и проверяет токены скачивания.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/filedrop/internal/model"
)

// ErrTokenExpired возвращается, если срок действия токена истёк.
var ErrTokenExpired = errors.New("download token expired")

// Repository описывает контракт доступа к данным, используемый хранилищем токенов.
type Repository interface {
	GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error)
	ListProductFiles(ctx context.Context, productID uuid.UUID) ([]model.ProductFile, []model.ProductFile, error)
	InsertTokens(ctx context.Context, tokens []model.DownloadToken) (int, error)
	ListTokensByOrder(ctx context.Context, orderID uuid.UUID) ([]model.DownloadToken, error)
	GetToken(ctx context.Context, token string) (*model.DownloadToken, error)
}

// Store выпускает токены: по одному на каждый файл каждого товара заказа.
type Store struct {
	repo     Repository
	now      func() time.Time
	newToken func() string
}

// NewStore создаёт хранилище токенов.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:     repo,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// CreateTokens выпускает токены для позиций заказа и возвращает все токены заказа.
// Токен ссылается на конкретный файл; товар без файлов получает один токен без ссылки.
// Повторный вызов не создаёт дубликатов для уже обслуженных файлов.
func (s *Store) CreateTokens(ctx context.Context, orderID uuid.UUID, items []model.OrderItem) ([]model.DownloadToken, error) {
	now := s.now().UTC()
	seen := make(map[uuid.UUID]bool, len(items))

	var batch []model.DownloadToken
	for _, it := range items {
		if seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true

		docs, audio, err := s.repo.ListProductFiles(ctx, it.ProductID)
		if err != nil {
			return nil, fmt.Errorf("list product files: %w", err)
		}

		files := append(append([]model.ProductFile{}, docs...), audio...)
		if len(files) == 0 {
			batch = append(batch, s.mint(orderID, it.ProductID, nil, now, len(batch)))
			continue
		}

		for i := range files {
			batch = append(batch, s.mint(orderID, it.ProductID, &files[i], now, len(batch)))
		}
	}

	if len(batch) > 0 {
		if _, err := s.repo.InsertTokens(ctx, batch); err != nil {
			return nil, fmt.Errorf("insert tokens: %w", err)
		}
	}

	return s.repo.ListTokensByOrder(ctx, orderID)
}

// mint создаёт токен; seq сдвигает created_at на микросекунды, чтобы порядок выпуска был строгим.
func (s *Store) mint(orderID, productID uuid.UUID, file *model.ProductFile, now time.Time, seq int) model.DownloadToken {
	created := now.Add(time.Duration(seq) * time.Microsecond)
	t := model.DownloadToken{
		Token:     s.newToken(),
		OrderID:   orderID,
		ProductID: productID,
		ExpiresAt: created.Add(model.TokenTTL),
		CreatedAt: created,
	}
	if file != nil {
		id := file.ID
		t.FileKind = file.Kind
		t.FileID = &id
	}
	return t
}

// EnsureTokens лениво выпускает токены для товаров заказа, у которых их ещё нет.
func (s *Store) EnsureTokens(ctx context.Context, orderID uuid.UUID) ([]model.DownloadToken, error) {
	existing, err := s.repo.ListTokensByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	covered := make(map[uuid.UUID]bool, len(existing))
	for _, t := range existing {
		covered[t.ProductID] = true
	}

	items, err := s.repo.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}

	var missing []model.OrderItem
	for _, it := range items {
		if !covered[it.ProductID] {
			missing = append(missing, it)
		}
	}

	if len(missing) == 0 {
		return existing, nil
	}

	return s.CreateTokens(ctx, orderID, missing)
}

// Validate возвращает запись токена. Для истёкшего токена возвращается запись и ErrTokenExpired.
func (s *Store) Validate(ctx context.Context, token string) (*model.DownloadToken, error) {
	t, err := s.repo.GetToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if t.Expired(s.now()) {
		return t, ErrTokenExpired
	}

	return t, nil
}
