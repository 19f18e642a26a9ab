// Package handler содержит HTTP-обработчики сервиса доставки файлов.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/delivery"
	"github.com/mmeshcher/filedrop/internal/download"
	"github.com/mmeshcher/filedrop/internal/middleware"
	"github.com/mmeshcher/filedrop/internal/model"
	"github.com/mmeshcher/filedrop/internal/refund"
	"github.com/mmeshcher/filedrop/internal/webhook"
)

// DownloadService выдаёт файлы по токенам.
type DownloadService interface {
	Download(ctx context.Context, clientIP, token string) (*download.Result, error)
}

// DeliveryService отправляет ссылки на скачивание.
type DeliveryService interface {
	SendDownloadEmail(ctx context.Context, req delivery.EmailRequest) (*delivery.EmailResult, error)
	DeliverOrder(ctx context.Context, orderID uuid.UUID) (*delivery.Report, error)
}

// WebhookService проверяет и применяет события провайдера почты.
type WebhookService interface {
	Authenticate(ctx context.Context, h http.Header, body []byte) error
	Handle(ctx context.Context, ev *webhook.Event) (*webhook.Outcome, error)
}

// RefundService управляет возвратами.
type RefundService interface {
	ProcessRefund(ctx context.Context, refundID uuid.UUID) (*refund.Result, error)
	RetryRefund(ctx context.Context, refundID uuid.UUID) (*model.Refund, error)
	CreateManualRefund(ctx context.Context, orderID uuid.UUID, reason model.RefundReason) (*model.Refund, error)
}

// HealthChecker проверяет доступность хранилища.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Services содержит зависимости обработчиков.
type Services struct {
	Download DownloadService
	Delivery DeliveryService
	Webhook  WebhookService
	Refund   RefundService
	Health   HealthChecker
}

// Handler реализует HTTP API сервиса доставки файлов.
type Handler struct {
	svc       Services
	logger    *zap.Logger
	adminAuth *middleware.AdminAuth
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(svc Services, logger *zap.Logger, adminAuth *middleware.AdminAuth) *Handler {
	return &Handler{
		svc:       svc,
		logger:    logger,
		adminAuth: adminAuth,
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// Healthz проверяет доступность базы данных.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.svc.Health != nil {
		if err := h.svc.Health.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
