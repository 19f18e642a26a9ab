package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/filedrop/internal/model"
)

// InsertEmailLog сохраняет запись об отправленном письме.
func (r *PostgresRepository) InsertEmailLog(ctx context.Context, l *model.EmailDeliveryLog) error {
	status := l.DeliveryStatus
	if status == "" {
		status = model.EmailSent
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO email_delivery_logs
		   (order_id, product_id, recipient_email, email_type, resend_email_id,
		    part_number, total_parts, delivery_status, error_message)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''))
		 RETURNING id, created_at, updated_at`,
		l.OrderID, l.ProductID, l.RecipientEmail, l.EmailType, l.ResendEmailID,
		l.PartNumber, l.TotalParts, string(status), l.ErrorMessage,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}

	l.DeliveryStatus = status
	return nil
}

// GetEmailLogByResendID находит запись о письме по идентификатору провайдера.
func (r *PostgresRepository) GetEmailLogByResendID(ctx context.Context, resendID string) (*model.EmailDeliveryLog, error) {
	var (
		l      model.EmailDeliveryLog
		status string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, order_id, product_id, recipient_email, email_type, COALESCE(resend_email_id, ''),
		        part_number, total_parts, delivery_status, COALESCE(error_message, ''), created_at, updated_at
		 FROM email_delivery_logs
		 WHERE resend_email_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		resendID,
	).Scan(&l.ID, &l.OrderID, &l.ProductID, &l.RecipientEmail, &l.EmailType, &l.ResendEmailID,
		&l.PartNumber, &l.TotalParts, &status, &l.ErrorMessage, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEmailLogNotFound
		}
		return nil, fmt.Errorf("get email log: %w", err)
	}

	l.DeliveryStatus = model.EmailStatus(status)
	return &l, nil
}

// UpdateEmailLogStatus обновляет статус письма и текст ошибки провайдера.
func (r *PostgresRepository) UpdateEmailLogStatus(ctx context.Context, id uuid.UUID, status model.EmailStatus, errMessage string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE email_delivery_logs
		 SET delivery_status = $2, error_message = COALESCE(NULLIF($3, ''), error_message), updated_at = now()
		 WHERE id = $1`,
		id, string(status), errMessage,
	)
	if err != nil {
		return fmt.Errorf("update email log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEmailLogNotFound
	}
	return nil
}
