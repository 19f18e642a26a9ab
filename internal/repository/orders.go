package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/filedrop/internal/model"
)

const orderColumns = `id, order_number, status, delivery_status, delivery_attempts,
	customer_email, COALESCE(customer_phone, ''), COALESCE(customer_name, ''), whatsapp_optin,
	COALESCE(razorpay_order_id, ''), COALESCE(razorpay_payment_id, ''),
	total_amount, currency, created_at, updated_at`

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var (
		o              model.Order
		status         string
		deliveryStatus string
	)

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
			id,
		).Scan(
			&o.ID, &o.OrderNumber, &status, &deliveryStatus, &o.DeliveryAttempts,
			&o.CustomerEmail, &o.CustomerPhone, &o.CustomerName, &o.WhatsAppOptIn,
			&o.RazorpayOrderID, &o.RazorpayPaymentID,
			&o.TotalAmount, &o.Currency, &o.CreatedAt, &o.UpdatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	o.Status = model.OrderStatus(status)
	o.DeliveryStatus = model.DeliveryStatus(deliveryStatus)
	return &o, nil
}

// GetOrderItems возвращает позиции заказа.
func (r *PostgresRepository) GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id, product_id, product_name, product_price, quantity
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.ProductName, &it.ProductPrice, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// MarkEmailSent отмечает отправку первого письма и увеличивает счётчик попыток доставки.
func (r *PostgresRepository) MarkEmailSent(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET delivery_status = $2, delivery_attempts = delivery_attempts + 1, updated_at = now()
		 WHERE id = $1`,
		orderID, string(model.DeliveryEmailSent),
	)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus обновляет статус доставки заказа.
func (r *PostgresRepository) UpdateDeliveryStatus(ctx context.Context, orderID uuid.UUID, status model.DeliveryStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET delivery_status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
