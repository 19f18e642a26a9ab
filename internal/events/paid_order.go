package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/filedrop/internal/delivery"
)

// ErrInvalidOrderID возвращается для сообщений без корректного order_id.
var ErrInvalidOrderID = errors.New("paid order event has invalid order_id")

// OrderDeliverer доставляет ссылки по оплаченному заказу.
type OrderDeliverer interface {
	DeliverOrder(ctx context.Context, orderID uuid.UUID) (*delivery.Report, error)
}

// PaidOrder описывает событие подтверждения оплаты.
type PaidOrder struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

type paidOrderHandler struct {
	deliverer OrderDeliverer
}

// NewPaidOrderHandler создаёт обработчик событий об оплате.
func NewPaidOrderHandler(deliverer OrderDeliverer) MessageHandler {
	return &paidOrderHandler{deliverer: deliverer}
}

func (h *paidOrderHandler) HandleMessage(ctx context.Context, message []byte) error {
	var ev PaidOrder
	if err := json.Unmarshal(message, &ev); err != nil {
		return fmt.Errorf("decode paid order event: %w", err)
	}

	id, err := uuid.Parse(ev.OrderID)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidOrderID, ev.OrderID)
	}

	if _, err := h.deliverer.DeliverOrder(ctx, id); err != nil {
		return fmt.Errorf("deliver order %s: %w", id, err)
	}
	return nil
}
