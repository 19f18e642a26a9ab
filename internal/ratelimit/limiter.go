// Package ratelimit реализует ограничение частоты запросов с фиксированным окном
// поверх персистентного счётчика.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/filedrop/internal/model"
)

// Store атомарно регистрирует запрос и возвращает состояние окна после него.
type Store interface {
	HitRateLimit(ctx context.Context, identifier, endpoint string, window time.Duration, now time.Time) (model.RateWindow, error)
}

// Decision содержит результат проверки лимита.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// Limiter проверяет лимиты запросов по ключу (identifier, endpoint).
type Limiter struct {
	store Store
	now   func() time.Time
}

// New создаёт Limiter поверх хранилища счётчиков.
func New(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Check регистрирует запрос и сообщает, укладывается ли он в maxRequests за window.
// Ошибка хранилища возвращается вызывающему, который сам решает, пропускать ли запрос.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string, maxRequests int, window time.Duration) (Decision, error) {
	now := l.now()

	w, err := l.store.HitRateLimit(ctx, identifier, endpoint, window, now)
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("rate limit store: %w", err)
	}

	d := Decision{
		Allowed: w.Count <= maxRequests,
		Count:   w.Count,
		Limit:   maxRequests,
	}

	if !d.Allowed {
		d.RetryAfter = w.Start.Add(window).Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}

	return d, nil
}
