// Package refund проводит возвраты через платёжный шлюз.
package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/config"
	"github.com/mmeshcher/filedrop/internal/model"
	"github.com/mmeshcher/filedrop/internal/razorpay"
	"github.com/mmeshcher/filedrop/internal/repository"
	"github.com/mmeshcher/filedrop/internal/validation"
	"github.com/mmeshcher/filedrop/internal/whatsapp"
)

var (
	// ErrMissingPayment возвращается, если у возврата нет заказа или идентификатора платежа.
	ErrMissingPayment = errors.New("order or payment id missing for refund")
	// ErrOrderNotRefundable возвращается при ручном возврате по неоплаченному заказу.
	ErrOrderNotRefundable = errors.New("order is not refundable")
)

// StateError сообщает, что возврат не находится в ожидаемом состоянии.
type StateError struct {
	Status model.RefundStatus
	Want   model.RefundStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("refund is %s, expected %s", e.Status, e.Want)
}

// GatewayFailure описывает отказ шлюза. Description передаётся вызывающему без изменений.
type GatewayFailure struct {
	Description string
}

func (e *GatewayFailure) Error() string {
	return e.Description
}

// Repository описывает контракт доступа к данным, используемый сервисом возвратов.
type Repository interface {
	GetRefund(ctx context.Context, id uuid.UUID) (*model.Refund, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	CreateRefund(ctx context.Context, rf *model.Refund) error
	TransitionRefund(ctx context.Context, id uuid.UUID, from, to model.RefundStatus) error
	FailRefund(ctx context.Context, id uuid.UUID, errMessage string) error
	CompleteRefund(ctx context.Context, id, orderID uuid.UUID, gatewayRefundID string, processedAt time.Time) error
	SetRefundWhatsAppSent(ctx context.Context, id uuid.UUID, sent bool) error
}

// Gateway создаёт возврат в платёжном шлюзе.
type Gateway interface {
	CreateRefund(ctx context.Context, creds razorpay.Credentials, r razorpay.RefundRequest) (*razorpay.Refund, error)
}

// Notifier отправляет шаблонные сообщения WhatsApp.
type Notifier interface {
	SendTemplate(ctx context.Context, creds whatsapp.Credentials, to string, tmpl whatsapp.Template) (string, error)
}

// CredentialResolver возвращает актуальные учётные данные провайдеров.
type CredentialResolver interface {
	Resolve(ctx context.Context) config.Credentials
}

// Result содержит итог проведения возврата.
type Result struct {
	RefundID        uuid.UUID
	GatewayRefundID string
	WhatsAppSent    bool
	Message         string
}

// Service реализует переходы eligible → processing → completed | failed.
type Service struct {
	repo     Repository
	gateway  Gateway
	notifier Notifier
	creds    CredentialResolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создаёт сервис возвратов.
func NewService(repo Repository, gateway Gateway, notifier Notifier, creds CredentialResolver, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		creds:    creds,
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessRefund проводит возврат в статусе eligible через шлюз.
func (s *Service) ProcessRefund(ctx context.Context, refundID uuid.UUID) (*Result, error) {
	rf, err := s.repo.GetRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrder(ctx, rf.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrMissingPayment
		}
		return nil, err
	}

	paymentID := rf.RazorpayPaymentID
	if paymentID == "" {
		paymentID = order.RazorpayPaymentID
	}
	if paymentID == "" {
		return nil, ErrMissingPayment
	}

	if rf.Status != model.RefundEligible {
		return nil, &StateError{Status: rf.Status, Want: model.RefundEligible}
	}

	if err := s.repo.TransitionRefund(ctx, rf.ID, model.RefundEligible, model.RefundProcessing); err != nil {
		if errors.Is(err, repository.ErrRefundStateConflict) {
			return nil, s.stateError(ctx, rf.ID, model.RefundEligible)
		}
		return nil, err
	}

	creds := s.creds.Resolve(ctx)

	gw, err := s.gateway.CreateRefund(ctx,
		razorpay.Credentials{KeyID: creds.RazorpayKeyID, KeySecret: creds.RazorpayKeySecret},
		razorpay.RefundRequest{
			PaymentID:   paymentID,
			AmountMinor: model.ToMinorUnits(rf.Amount),
			Notes: map[string]string{
				"reason":       string(rf.Reason),
				"order_number": order.OrderNumber,
				"failed_email": rf.FailedEmail,
			},
		})
	if err != nil {
		s.logger.Error("gateway refund failed",
			zap.Error(err), zap.String("refund_id", rf.ID.String()), zap.String("order_id", order.ID.String()))
		if ferr := s.repo.FailRefund(ctx, rf.ID, err.Error()); ferr != nil {
			s.logger.Error("mark refund failed", zap.Error(ferr), zap.String("refund_id", rf.ID.String()))
		}
		return nil, &GatewayFailure{Description: err.Error()}
	}

	if err := s.repo.CompleteRefund(ctx, rf.ID, order.ID, gw.ID, s.now().UTC()); err != nil {
		s.logger.Error("refund accepted by gateway but not recorded",
			zap.Error(err), zap.String("refund_id", rf.ID.String()), zap.String("gateway_refund_id", gw.ID))
		return nil, fmt.Errorf("complete refund: %w", err)
	}

	s.logger.Info("refund completed",
		zap.String("refund_id", rf.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("gateway_refund_id", gw.ID),
		zap.Int64("amount_minor", model.ToMinorUnits(rf.Amount)),
	)

	res := &Result{
		RefundID:        rf.ID,
		GatewayRefundID: gw.ID,
		Message:         "Refund processed successfully",
	}
	res.WhatsAppSent = s.notify(ctx, creds, rf, order)

	return res, nil
}

// notify сообщает покупателю о возврате. Результат не влияет на статус возврата.
func (s *Service) notify(ctx context.Context, creds config.Credentials, rf *model.Refund, order *model.Order) bool {
	if s.notifier == nil || !creds.WhatsAppActive() {
		return false
	}

	phone, err := validation.NormalizePhone(order.CustomerPhone)
	if err != nil {
		return false
	}

	emailParam := rf.FailedEmail
	if emailParam == "" {
		emailParam = order.CustomerEmail
	}

	_, err = s.notifier.SendTemplate(ctx,
		whatsapp.Credentials{AccessToken: creds.WhatsAppAccessToken, PhoneNumberID: creds.WhatsAppPhoneNumberID},
		phone,
		whatsapp.Template{Name: creds.WhatsAppRefundTemplate, Parameters: []string{order.OrderNumber, emailParam}},
	)
	sent := err == nil
	if err != nil {
		s.logger.Warn("refund whatsapp notification failed", zap.Error(err), zap.String("refund_id", rf.ID.String()))
	}

	if err := s.repo.SetRefundWhatsAppSent(ctx, rf.ID, sent); err != nil {
		s.logger.Error("record whatsapp notification failed", zap.Error(err), zap.String("refund_id", rf.ID.String()))
	}

	return sent
}

// RetryRefund возвращает неудавшийся возврат в статус eligible.
func (s *Service) RetryRefund(ctx context.Context, refundID uuid.UUID) (*model.Refund, error) {
	if _, err := s.repo.GetRefund(ctx, refundID); err != nil {
		return nil, err
	}

	if err := s.repo.TransitionRefund(ctx, refundID, model.RefundFailed, model.RefundEligible); err != nil {
		if errors.Is(err, repository.ErrRefundStateConflict) {
			return nil, s.stateError(ctx, refundID, model.RefundFailed)
		}
		return nil, err
	}

	s.logger.Info("refund reset to eligible", zap.String("refund_id", refundID.String()))
	return s.repo.GetRefund(ctx, refundID)
}

// CreateManualRefund открывает возврат по запросу покупателя.
// Если по заказу уже есть возврат, возвращается repository.ErrRefundExists.
func (s *Service) CreateManualRefund(ctx context.Context, orderID uuid.UUID, reason model.RefundReason) (*model.Refund, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsRefundable() {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotRefundable, order.Status)
	}

	if reason == "" {
		reason = model.ReasonCustomerRequest
	}

	rf := &model.Refund{
		OrderID:           order.ID,
		RazorpayPaymentID: order.RazorpayPaymentID,
		Amount:            order.TotalAmount,
		Currency:          order.Currency,
		Reason:            reason,
		Status:            model.RefundEligible,
	}
	if err := s.repo.CreateRefund(ctx, rf); err != nil {
		return nil, err
	}

	s.logger.Info("manual refund created",
		zap.String("refund_id", rf.ID.String()), zap.String("order_id", order.ID.String()))
	return rf, nil
}

func (s *Service) stateError(ctx context.Context, id uuid.UUID, want model.RefundStatus) error {
	current, err := s.repo.GetRefund(ctx, id)
	if err != nil {
		return err
	}
	return &StateError{Status: current.Status, Want: want}
}
