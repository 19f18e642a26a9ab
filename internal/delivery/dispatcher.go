// Package delivery рассылает покупателю ссылки на скачивание по email и WhatsApp.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/config"
	"github.com/mmeshcher/filedrop/internal/email"
	"github.com/mmeshcher/filedrop/internal/model"
	"github.com/mmeshcher/filedrop/internal/validation"
	"github.com/mmeshcher/filedrop/internal/whatsapp"
)

var (
	// ErrNoLinks возвращается при попытке отправить письмо без ссылок.
	ErrNoLinks = errors.New("no download links to send")
	// ErrOrderNotDeliverable возвращается для заказов, которые не оплачены или уже возвращены.
	ErrOrderNotDeliverable = errors.New("order is not in a deliverable state")
)

// Repository описывает контракт доступа к данным, используемый диспетчером.
type Repository interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error)
	ListProductFiles(ctx context.Context, productID uuid.UUID) ([]model.ProductFile, []model.ProductFile, error)
	InsertEmailLog(ctx context.Context, l *model.EmailDeliveryLog) error
	MarkEmailSent(ctx context.Context, orderID uuid.UUID) error
	UpdateDeliveryStatus(ctx context.Context, orderID uuid.UUID, status model.DeliveryStatus) error
}

// TokenIssuer выпускает недостающие токены заказа.
type TokenIssuer interface {
	EnsureTokens(ctx context.Context, orderID uuid.UUID) ([]model.DownloadToken, error)
}

// CredentialResolver возвращает актуальные учётные данные провайдеров.
type CredentialResolver interface {
	Resolve(ctx context.Context) config.Credentials
}

// WhatsAppSender отправляет шаблонные сообщения WhatsApp.
type WhatsAppSender interface {
	SendTemplate(ctx context.Context, creds whatsapp.Credentials, to string, tmpl whatsapp.Template) (string, error)
}

// Options содержит параметры диспетчера.
type Options struct {
	PublicBaseURL string
	MessageDelay  time.Duration
}

// Dispatcher отправляет ссылки на скачивание.
type Dispatcher struct {
	repo     Repository
	tokens   TokenIssuer
	creds    CredentialResolver
	mailer   email.Sender
	whatsapp WhatsAppSender
	opts     Options
	logger   *zap.Logger
}

// NewDispatcher создаёт диспетчер доставки.
func NewDispatcher(
	repo Repository,
	tokens TokenIssuer,
	creds CredentialResolver,
	mailer email.Sender,
	wa WhatsAppSender,
	opts Options,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		tokens:   tokens,
		creds:    creds,
		mailer:   mailer,
		whatsapp: wa,
		opts:     opts,
		logger:   logger,
	}
}

// DownloadURL возвращает публичную ссылку на скачивание по токену.
func (d *Dispatcher) DownloadURL(token string) string {
	return d.opts.PublicBaseURL + "/download-file?token=" + token
}

// pause выдерживает паузу между последовательными сообщениями.
func (d *Dispatcher) pause(ctx context.Context) error {
	if d.opts.MessageDelay <= 0 {
		return nil
	}

	t := time.NewTimer(d.opts.MessageDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fromAddress(c config.Credentials) string {
	if c.ResendFromName == "" {
		return c.ResendFromEmail
	}
	return fmt.Sprintf("%s <%s>", c.ResendFromName, c.ResendFromEmail)
}

// phoneFor возвращает номер для WhatsApp или пустую строку, если канал недоступен.
func phoneFor(order *model.Order, creds config.Credentials) string {
	if !order.WhatsAppOptIn || !creds.WhatsAppActive() {
		return ""
	}
	phone, err := validation.NormalizePhone(order.CustomerPhone)
	if err != nil {
		return ""
	}
	return phone
}
