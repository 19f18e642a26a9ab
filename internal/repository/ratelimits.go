package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/filedrop/internal/model"
)

// HitRateLimit атомарно регистрирует запрос в окне (identifier, endpoint).
// Если окно старше window, оно начинается заново со счётчиком 1.
func (r *PostgresRepository) HitRateLimit(ctx context.Context, identifier, endpoint string, window time.Duration, now time.Time) (model.RateWindow, error) {
	var w model.RateWindow
	err := r.pool.QueryRow(ctx,
		`INSERT INTO rate_limits (identifier, endpoint, window_start, request_count)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (identifier, endpoint) DO UPDATE SET
		   window_start = CASE
		     WHEN rate_limits.window_start < $3 - make_interval(secs => $4) THEN EXCLUDED.window_start
		     ELSE rate_limits.window_start END,
		   request_count = CASE
		     WHEN rate_limits.window_start < $3 - make_interval(secs => $4) THEN 1
		     ELSE rate_limits.request_count + 1 END
		 RETURNING request_count, window_start`,
		identifier, endpoint, now, window.Seconds(),
	).Scan(&w.Count, &w.Start)
	if err != nil {
		return model.RateWindow{}, fmt.Errorf("hit rate limit: %w", err)
	}
	return w, nil
}

// PurgeRateLimits удаляет окна, начавшиеся раньше before.
func (r *PostgresRepository) PurgeRateLimits(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge rate limits: %w", err)
	}
	return tag.RowsAffected(), nil
}
