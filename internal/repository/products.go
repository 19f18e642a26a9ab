package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/filedrop/internal/model"
)

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	var p model.Product
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, download_count FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.DownloadCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// ListProductFiles возвращает документы и аудиофайлы товара, упорядоченные по file_order.
func (r *PostgresRepository) ListProductFiles(ctx context.Context, productID uuid.UUID) ([]model.ProductFile, []model.ProductFile, error) {
	docs, err := r.listFiles(ctx, "product_documents", model.FileKindDocument, productID)
	if err != nil {
		return nil, nil, err
	}

	audio, err := r.listFiles(ctx, "product_audio_files", model.FileKindAudio, productID)
	if err != nil {
		return nil, nil, err
	}

	return docs, audio, nil
}

func (r *PostgresRepository) listFiles(ctx context.Context, table string, kind model.FileKind, productID uuid.UUID) ([]model.ProductFile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, file_name, COALESCE(storage_path, ''), COALESCE(external_url, ''), file_order
		 FROM `+table+`
		 WHERE product_id = $1
		 ORDER BY file_order, created_at`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var files []model.ProductFile
	for rows.Next() {
		f := model.ProductFile{Kind: kind}
		if err := rows.Scan(&f.ID, &f.ProductID, &f.FileName, &f.StoragePath, &f.ExternalURL, &f.FileOrder); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return files, nil
}

// GetProductFile возвращает файл товара по виду и идентификатору.
func (r *PostgresRepository) GetProductFile(ctx context.Context, kind model.FileKind, id uuid.UUID) (*model.ProductFile, error) {
	table := "product_documents"
	if kind == model.FileKindAudio {
		table = "product_audio_files"
	}

	f := model.ProductFile{Kind: kind}
	err := r.pool.QueryRow(ctx,
		`SELECT id, product_id, file_name, COALESCE(storage_path, ''), COALESCE(external_url, ''), file_order
		 FROM `+table+` WHERE id = $1`,
		id,
	).Scan(&f.ID, &f.ProductID, &f.FileName, &f.StoragePath, &f.ExternalURL, &f.FileOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("get product file: %w", err)
	}
	return &f, nil
}

// IncrementProductDownloads увеличивает агрегированный счётчик скачиваний товара.
func (r *PostgresRepository) IncrementProductDownloads(ctx context.Context, productID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE products SET download_count = download_count + 1 WHERE id = $1`,
		productID,
	)
	if err != nil {
		return fmt.Errorf("increment product downloads: %w", err)
	}
	return nil
}
