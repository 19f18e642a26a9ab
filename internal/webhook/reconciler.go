package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/config"
	"github.com/mmeshcher/filedrop/internal/model"
	"github.com/mmeshcher/filedrop/internal/repository"
)

// ErrSecretNotConfigured возвращается в боевом окружении, если секрет подписи не задан.
var ErrSecretNotConfigured = errors.New("webhook signing secret is not configured")

// Итоговые статусы обработки события.
const (
	StatusProcessed    = "processed"
	StatusAcknowledged = "acknowledged"
	StatusIgnored      = "ignored"

	ReasonEmailLogNotFound = "email_log_not_found"
)

// Repository описывает контракт доступа к данным, используемый обработчиком событий.
type Repository interface {
	GetEmailLogByResendID(ctx context.Context, resendID string) (*model.EmailDeliveryLog, error)
	UpdateEmailLogStatus(ctx context.Context, id uuid.UUID, status model.EmailStatus, errMessage string) error
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	CreateRefund(ctx context.Context, rf *model.Refund) error
	UpdateDeliveryStatus(ctx context.Context, orderID uuid.UUID, status model.DeliveryStatus) error
}

// CredentialResolver возвращает актуальные учётные данные провайдеров.
type CredentialResolver interface {
	Resolve(ctx context.Context) config.Credentials
}

// Outcome описывает ответ провайдеру. Любой Outcome отдаётся с кодом 200.
type Outcome struct {
	Received bool   `json:"received"`
	Event    string `json:"event"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	RefundID string `json:"refundId,omitempty"`
}

// Reconciler сверяет события провайдера с журналом писем, заказами и возвратами.
type Reconciler struct {
	repo       Repository
	creds      CredentialResolver
	production bool
	logger     *zap.Logger
	now        func() time.Time
}

// NewReconciler создаёт обработчик событий доставки.
func NewReconciler(repo Repository, creds CredentialResolver, production bool, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:       repo,
		creds:      creds,
		production: production,
		logger:     logger,
		now:        time.Now,
	}
}

// Authenticate проверяет подпись запроса.
// Без секрета запрос пропускается с предупреждением, кроме боевого окружения.
func (r *Reconciler) Authenticate(ctx context.Context, h http.Header, body []byte) error {
	secret := r.creds.Resolve(ctx).ResendWebhookSecret
	if config.IsPlaceholder(secret) {
		if r.production {
			return ErrSecretNotConfigured
		}
		r.logger.Warn("webhook secret not configured, skipping signature verification")
		return nil
	}

	v, err := NewVerifier(secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecretNotConfigured, err)
	}
	v.now = r.now

	return v.Verify(h, body)
}

// Handle применяет событие и возвращает ответ для провайдера.
// Ошибка возвращается только при сбое хранилища.
func (r *Reconciler) Handle(ctx context.Context, ev *Event) (*Outcome, error) {
	out := &Outcome{Received: true, Event: ev.RawType}

	switch ev.Type {
	case EventSent, EventOpened, EventClicked:
		out.Status = StatusAcknowledged
		return out, nil
	case EventBounced, EventComplained, EventDelivered, EventDelayed:
	default:
		r.logger.Info("ignoring webhook event", zap.String("type", ev.RawType))
		out.Status = StatusIgnored
		return out, nil
	}

	var (
		entry *model.EmailDeliveryLog
		err   error
	)
	if ev.Data.EmailID == "" {
		err = repository.ErrEmailLogNotFound
	} else {
		entry, err = r.repo.GetEmailLogByResendID(ctx, ev.Data.EmailID)
	}
	if err != nil {
		if errors.Is(err, repository.ErrEmailLogNotFound) {
			r.logger.Warn("email log not found for webhook event",
				zap.String("type", ev.RawType), zap.String("email_id", ev.Data.EmailID))
			out.Status = StatusIgnored
			out.Reason = ReasonEmailLogNotFound
			return out, nil
		}
		return nil, err
	}

	switch ev.Type {
	case EventBounced:
		err = r.handleBounce(ctx, ev, entry, out)
	case EventComplained:
		err = r.updateLogAndOrder(ctx, entry, model.EmailComplained, "", model.DeliveryComplained)
	case EventDelivered:
		err = r.updateLogAndOrder(ctx, entry, model.EmailDelivered, "", model.DeliveryDelivered)
	case EventDelayed:
		err = r.repo.UpdateEmailLogStatus(ctx, entry.ID, model.EmailDelayed, "")
	}
	if err != nil {
		return nil, err
	}

	out.Status = StatusProcessed
	r.logger.Info("webhook event processed",
		zap.String("type", ev.RawType),
		zap.String("email_id", ev.Data.EmailID),
		zap.String("order_id", entry.OrderID.String()),
	)
	return out, nil
}

func (r *Reconciler) updateLogAndOrder(ctx context.Context, entry *model.EmailDeliveryLog, logStatus model.EmailStatus, msg string, orderStatus model.DeliveryStatus) error {
	if err := r.repo.UpdateEmailLogStatus(ctx, entry.ID, logStatus, msg); err != nil {
		return err
	}
	if err := r.repo.UpdateDeliveryStatus(ctx, entry.OrderID, orderStatus); err != nil && !errors.Is(err, repository.ErrOrderNotFound) {
		return err
	}
	return nil
}

// handleBounce помечает письмо недоставленным и открывает возврат, если его ещё нет.
func (r *Reconciler) handleBounce(ctx context.Context, ev *Event, entry *model.EmailDeliveryLog, out *Outcome) error {
	if err := r.repo.UpdateEmailLogStatus(ctx, entry.ID, model.EmailBounced, ev.BounceMessage()); err != nil {
		return err
	}

	order, err := r.repo.GetOrder(ctx, entry.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			r.logger.Warn("order not found for bounced email", zap.String("order_id", entry.OrderID.String()))
			return nil
		}
		return err
	}
	if !order.IsRefundable() {
		return nil
	}

	rf := &model.Refund{
		OrderID:           order.ID,
		RazorpayPaymentID: order.RazorpayPaymentID,
		Amount:            order.TotalAmount,
		Currency:          order.Currency,
		Reason:            model.ReasonEmailBounced,
		FailedEmail:       entry.RecipientEmail,
		Status:            model.RefundEligible,
	}
	if err := r.repo.CreateRefund(ctx, rf); err != nil {
		if errors.Is(err, repository.ErrRefundExists) {
			r.logger.Info("refund already exists for bounced order", zap.String("order_id", order.ID.String()))
			return nil
		}
		return err
	}
	out.RefundID = rf.ID.String()

	r.logger.Info("refund marked eligible after bounce",
		zap.String("order_id", order.ID.String()),
		zap.String("refund_id", rf.ID.String()),
		zap.Float64("amount", rf.Amount),
	)

	return r.repo.UpdateDeliveryStatus(ctx, order.ID, model.DeliveryBounced)
}
