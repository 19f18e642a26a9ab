package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/filedrop/internal/model"
)

const refundColumns = `id, order_id, COALESCE(razorpay_payment_id, ''), COALESCE(razorpay_refund_id, ''),
	amount, currency, reason, COALESCE(failed_email, ''), status, COALESCE(error_message, ''),
	whatsapp_sent, processed_at, created_at, updated_at`

func scanRefund(row pgx.Row) (*model.Refund, error) {
	var (
		rf     model.Refund
		reason string
		status string
	)
	if err := row.Scan(&rf.ID, &rf.OrderID, &rf.RazorpayPaymentID, &rf.RazorpayRefundID,
		&rf.Amount, &rf.Currency, &reason, &rf.FailedEmail, &status, &rf.ErrorMessage,
		&rf.WhatsAppSent, &rf.ProcessedAt, &rf.CreatedAt, &rf.UpdatedAt); err != nil {
		return nil, err
	}
	rf.Reason = model.RefundReason(reason)
	rf.Status = model.RefundStatus(status)
	return &rf, nil
}

// CreateRefund создаёт возврат, если по заказу ещё нет возврата.
// Уникальный индекс по order_id закрывает гонку между параллельными вебхуками;
// при конфликте возвращается ErrRefundExists.
func (r *PostgresRepository) CreateRefund(ctx context.Context, rf *model.Refund) error {
	status := rf.Status
	if status == "" {
		status = model.RefundEligible
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO refunds (order_id, razorpay_payment_id, amount, currency, reason, failed_email, status)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7)
		 ON CONFLICT (order_id) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		rf.OrderID, rf.RazorpayPaymentID, rf.Amount, rf.Currency, string(rf.Reason), rf.FailedEmail, string(status),
	).Scan(&rf.ID, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return ErrRefundExists
		}
		return fmt.Errorf("insert refund: %w", err)
	}

	rf.Status = status
	return nil
}

// GetRefund возвращает возврат по идентификатору.
func (r *PostgresRepository) GetRefund(ctx context.Context, id uuid.UUID) (*model.Refund, error) {
	rf, err := scanRefund(r.pool.QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("get refund: %w", err)
	}
	return rf, nil
}

// GetRefundByOrder возвращает возврат заказа.
func (r *PostgresRepository) GetRefundByOrder(ctx context.Context, orderID uuid.UUID) (*model.Refund, error) {
	rf, err := scanRefund(r.pool.QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE order_id = $1`,
		orderID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("get refund by order: %w", err)
	}
	return rf, nil
}

// TransitionRefund переводит возврат из состояния from в to (compare-and-swap).
// Если возврат находится в другом состоянии, возвращается ErrRefundStateConflict.
func (r *PostgresRepository) TransitionRefund(ctx context.Context, id uuid.UUID, from, to model.RefundStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE refunds
		 SET status = $3,
		     error_message = CASE WHEN $3 = 'eligible' THEN NULL ELSE error_message END,
		     updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("transition refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRefundStateConflict
	}
	return nil
}

// FailRefund переводит возврат в состояние failed и сохраняет ошибку шлюза.
func (r *PostgresRepository) FailRefund(ctx context.Context, id uuid.UUID, errMessage string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE refunds SET status = $2, error_message = $3, updated_at = now() WHERE id = $1`,
		id, string(model.RefundFailed), errMessage,
	)
	if err != nil {
		return fmt.Errorf("fail refund: %w", err)
	}
	return nil
}

// CompleteRefund фиксирует успешный возврат и помечает заказ как возвращённый.
func (r *PostgresRepository) CompleteRefund(ctx context.Context, id, orderID uuid.UUID, gatewayRefundID string, processedAt time.Time) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`UPDATE refunds
			 SET status = $2, razorpay_refund_id = $3, processed_at = $4, error_message = NULL, updated_at = now()
			 WHERE id = $1`,
			id, string(model.RefundCompleted), gatewayRefundID, processedAt,
		)
		if err != nil {
			return fmt.Errorf("complete refund: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2, delivery_status = $3, updated_at = now() WHERE id = $1`,
			orderID, string(model.OrderStatusRefunded), string(model.DeliveryRefunded),
		)
		if err != nil {
			return fmt.Errorf("mark order refunded: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// SetRefundWhatsAppSent сохраняет результат уведомления покупателя о возврате.
func (r *PostgresRepository) SetRefundWhatsAppSent(ctx context.Context, id uuid.UUID, sent bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE refunds SET whatsapp_sent = $2, updated_at = now() WHERE id = $1`,
		id, sent,
	)
	if err != nil {
		return fmt.Errorf("set whatsapp sent: %w", err)
	}
	return nil
}
