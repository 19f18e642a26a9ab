package delivery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/config"
	"github.com/mmeshcher/filedrop/internal/email"
	"github.com/mmeshcher/filedrop/internal/model"
	"github.com/mmeshcher/filedrop/internal/validation"
)

// LinkItem описывает один файл в письме.
type LinkItem struct {
	Name          string
	DownloadToken string
	IsComboFile   bool
	FileNumber    int
	TotalFiles    int
}

// EmailRequest описывает запрос на отправку письма со ссылками.
// Для писем набора из нескольких файлов заполняются IsComboPackEmail, EmailIndex и TotalEmails.
type EmailRequest struct {
	OrderID          uuid.UUID
	OrderNumber      string
	ProductID        *uuid.UUID
	CustomerEmail    string
	CustomerName     string
	Products         []LinkItem
	IsComboPackEmail bool
	ComboPackName    string
	EmailIndex       int
	TotalEmails      int
}

// Preview содержит письмо, которое было бы отправлено при выключенной доставке.
type Preview struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// EmailResult содержит результат отправки одного письма.
// При имитации отправки EmailID пуст, а Preview заполнен.
type EmailResult struct {
	EmailID   string
	Simulated bool
	Preview   *Preview
}

// SendDownloadEmail отправляет одно письмо со ссылками на скачивание.
// Заказ отмечается отправленным только для первого письма последовательности.
func (d *Dispatcher) SendDownloadEmail(ctx context.Context, req EmailRequest) (*EmailResult, error) {
	res, err := d.sendEmail(ctx, d.creds.Resolve(ctx), req)
	if err != nil {
		return nil, err
	}

	if !req.IsComboPackEmail || req.EmailIndex <= 1 {
		d.markEmailSent(ctx, req.OrderID)
	}
	return res, nil
}

// emailLive сообщает, уходят ли письма через транспорт или только имитируются.
func (d *Dispatcher) emailLive(creds config.Credentials) bool {
	return d.mailer != nil && d.mailer.Active(creds)
}

// sendEmail отправляет письмо и пишет его в журнал. Статус заказа не меняет.
func (d *Dispatcher) sendEmail(ctx context.Context, creds config.Credentials, req EmailRequest) (*EmailResult, error) {
	if err := validation.ValidateEmail(req.CustomerEmail); err != nil {
		return nil, err
	}
	if len(req.Products) == 0 {
		return nil, ErrNoLinks
	}

	subject, html, err := d.render(req)
	if err != nil {
		return nil, err
	}

	if !d.emailLive(creds) {
		d.logger.Info("email delivery disabled, simulating send",
			zap.String("order_id", req.OrderID.String()),
			zap.String("to", req.CustomerEmail),
			zap.Int("part", req.EmailIndex),
		)
		d.logEmail(ctx, req, "")
		return &EmailResult{
			Simulated: true,
			Preview:   &Preview{To: req.CustomerEmail, Subject: subject, HTML: html},
		}, nil
	}

	id, err := d.mailer.Send(ctx, creds.ResendAPIKey, email.Message{
		From:    fromAddress(creds),
		To:      req.CustomerEmail,
		Subject: subject,
		HTML:    html,
		Tags:    []email.Tag{{Name: "order_id", Value: req.OrderID.String()}},
	})
	if err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}

	d.logEmail(ctx, req, id)

	return &EmailResult{EmailID: id}, nil
}

// logEmail сохраняет запись о письме. У имитированных писем нет идентификатора провайдера.
func (d *Dispatcher) logEmail(ctx context.Context, req EmailRequest, providerID string) {
	entry := &model.EmailDeliveryLog{
		OrderID:        req.OrderID,
		ProductID:      req.ProductID,
		RecipientEmail: req.CustomerEmail,
		EmailType:      model.EmailTypeDownloadLinks,
		ResendEmailID:  providerID,
		DeliveryStatus: model.EmailSent,
	}
	if req.IsComboPackEmail {
		p, total := req.EmailIndex, req.TotalEmails
		entry.EmailType = model.EmailTypeComboPart
		entry.PartNumber = &p
		entry.TotalParts = &total
	}
	if err := d.repo.InsertEmailLog(ctx, entry); err != nil {
		d.logger.Error("insert email log failed",
			zap.Error(err), zap.String("order_id", req.OrderID.String()), zap.String("email_id", providerID))
	}
}

// markEmailSent переводит заказ в email_sent и увеличивает delivery_attempts.
func (d *Dispatcher) markEmailSent(ctx context.Context, orderID uuid.UUID) {
	if err := d.repo.MarkEmailSent(ctx, orderID); err != nil {
		d.logger.Error("mark email sent failed", zap.Error(err), zap.String("order_id", orderID.String()))
	}
}

func (d *Dispatcher) render(req EmailRequest) (string, string, error) {
	data := email.LinksData{
		CustomerName: req.CustomerName,
		OrderNumber:  req.OrderNumber,
		ComboName:    req.ComboPackName,
		Part:         req.EmailIndex,
		Total:        req.TotalEmails,
		Links:        make([]email.Link, 0, len(req.Products)),
	}
	for _, p := range req.Products {
		l := email.Link{Name: p.Name, URL: d.DownloadURL(p.DownloadToken)}
		if p.IsComboFile {
			l.FileNumber = p.FileNumber
			l.TotalFiles = p.TotalFiles
		}
		data.Links = append(data.Links, l)
	}

	if req.IsComboPackEmail {
		return email.RenderComboPart(data)
	}
	return email.RenderDownloadLinks(data)
}
