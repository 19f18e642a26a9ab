package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/filedrop/internal/model"
)

const tokenColumns = `id, token, order_id, product_id, COALESCE(file_kind, ''), file_id,
	download_count, expires_at, created_at`

func scanToken(row pgx.Row) (*model.DownloadToken, error) {
	var (
		t    model.DownloadToken
		kind string
	)
	if err := row.Scan(&t.ID, &t.Token, &t.OrderID, &t.ProductID, &kind, &t.FileID,
		&t.DownloadCount, &t.ExpiresAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.FileKind = model.FileKind(kind)
	return &t, nil
}

// InsertTokens сохраняет токены скачивания в одной транзакции.
// Токены, уже выпущенные на тот же файл заказа, пропускаются; возвращается число вставленных строк.
func (r *PostgresRepository) InsertTokens(ctx context.Context, tokens []model.DownloadToken) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, t := range tokens {
		tag, err := tx.Exec(ctx,
			`INSERT INTO download_tokens (token, order_id, product_id, file_kind, file_id, expires_at, created_at)
			 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
			 ON CONFLICT DO NOTHING`,
			t.Token, t.OrderID, t.ProductID, string(t.FileKind), t.FileID, t.ExpiresAt, t.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert token: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return inserted, nil
}

// ListTokensByOrder возвращает все токены заказа в порядке выпуска.
func (r *PostgresRepository) ListTokensByOrder(ctx context.Context, orderID uuid.UUID) ([]model.DownloadToken, error) {
	return r.listTokens(ctx,
		`SELECT `+tokenColumns+` FROM download_tokens
		 WHERE order_id = $1
		 ORDER BY created_at, id`,
		orderID,
	)
}

// ListTokensForProduct возвращает токены пары (заказ, товар), упорядоченные по created_at.
func (r *PostgresRepository) ListTokensForProduct(ctx context.Context, orderID, productID uuid.UUID) ([]model.DownloadToken, error) {
	return r.listTokens(ctx,
		`SELECT `+tokenColumns+` FROM download_tokens
		 WHERE order_id = $1 AND product_id = $2
		 ORDER BY created_at, id`,
		orderID, productID,
	)
}

func (r *PostgresRepository) listTokens(ctx context.Context, query string, args ...any) ([]model.DownloadToken, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select tokens: %w", err)
	}
	defer rows.Close()

	var res []model.DownloadToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetToken возвращает запись токена по его значению.
func (r *PostgresRepository) GetToken(ctx context.Context, token string) (*model.DownloadToken, error) {
	var t *model.DownloadToken
	err := r.withRetry(ctx, func() error {
		var err error
		t, err = scanToken(r.pool.QueryRow(ctx,
			`SELECT `+tokenColumns+` FROM download_tokens WHERE token = $1`,
			token,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// IncrementDownloadCount атомарно увеличивает счётчик скачиваний, если он меньше limit.
// Возвращает новое значение счётчика или ErrQuotaExceeded.
func (r *PostgresRepository) IncrementDownloadCount(ctx context.Context, tokenID uuid.UUID, limit int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`UPDATE download_tokens
		 SET download_count = download_count + 1
		 WHERE id = $1 AND download_count < $2
		 RETURNING download_count`,
		tokenID, limit,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrQuotaExceeded
		}
		return 0, fmt.Errorf("increment download count: %w", err)
	}
	return count, nil
}
