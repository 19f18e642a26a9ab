package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/model"
	"github.com/mmeshcher/filedrop/internal/refund"
	"github.com/mmeshcher/filedrop/internal/repository"
)

type processRefundRequest struct {
	RefundID string `json:"refundId"`
}

type processRefundResponse struct {
	Success          bool   `json:"success"`
	RazorpayRefundID string `json:"razorpayRefundId"`
	WhatsAppSent     bool   `json:"whatsappSent"`
	Message          string `json:"message"`
}

type refundResponse struct {
	ID           string  `json:"id"`
	OrderID      string  `json:"orderId"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Reason       string  `json:"reason"`
	Status       string  `json:"status"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}

func toRefundResponse(rf *model.Refund) refundResponse {
	return refundResponse{
		ID:           rf.ID.String(),
		OrderID:      rf.OrderID.String(),
		Amount:       rf.Amount,
		Currency:     rf.Currency,
		Reason:       string(rf.Reason),
		Status:       string(rf.Status),
		ErrorMessage: rf.ErrorMessage,
		CreatedAt:    rf.CreatedAt.Format(time.RFC3339),
	}
}

// ProcessRefund проводит возврат через платёжный шлюз.
func (h *Handler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	var req processRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := uuid.Parse(req.RefundID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid refundId")
		return
	}

	res, err := h.svc.Refund.ProcessRefund(r.Context(), id)
	if err != nil {
		var (
			stateErr   *refund.StateError
			gatewayErr *refund.GatewayFailure
		)
		switch {
		case errors.Is(err, repository.ErrRefundNotFound):
			writeError(w, http.StatusNotFound, "Refund not found")
		case errors.Is(err, refund.ErrMissingPayment):
			writeError(w, http.StatusBadRequest, "Order or payment id missing")
		case errors.As(err, &stateErr):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Refund is not eligible for processing (status: %s)", stateErr.Status))
		case errors.As(err, &gatewayErr):
			writeError(w, http.StatusBadGateway, gatewayErr.Description)
		default:
			h.logger.Error("process refund error", zap.Error(err), zap.String("refund_id", id.String()))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusOK, processRefundResponse{
		Success:          true,
		RazorpayRefundID: res.GatewayRefundID,
		WhatsAppSent:     res.WhatsAppSent,
		Message:          res.Message,
	})
}

// RetryRefund возвращает неудавшийся возврат в очередь на проведение.
func (h *Handler) RetryRefund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "refundID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid refund id")
		return
	}

	rf, err := h.svc.Refund.RetryRefund(r.Context(), id)
	if err != nil {
		var stateErr *refund.StateError
		switch {
		case errors.Is(err, repository.ErrRefundNotFound):
			writeError(w, http.StatusNotFound, "Refund not found")
		case errors.As(err, &stateErr):
			writeError(w, http.StatusConflict, fmt.Sprintf("Only failed refunds can be retried (status: %s)", stateErr.Status))
		default:
			h.logger.Error("retry refund error", zap.Error(err), zap.String("refund_id", id.String()))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusOK, toRefundResponse(rf))
}

type createRefundRequest struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// CreateRefund открывает возврат по запросу покупателя.
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req createRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid orderId")
		return
	}

	rf, err := h.svc.Refund.CreateManualRefund(r.Context(), orderID, model.RefundReason(req.Reason))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, repository.ErrRefundExists):
			writeError(w, http.StatusConflict, "Refund already exists for this order")
		case errors.Is(err, refund.ErrOrderNotRefundable):
			writeError(w, http.StatusConflict, "Order is not refundable")
		default:
			h.logger.Error("create refund error", zap.Error(err), zap.String("order_id", orderID.String()))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusCreated, toRefundResponse(rf))
}
