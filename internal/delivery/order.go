package delivery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/config"
	"github.com/mmeshcher/filedrop/internal/download"
	"github.com/mmeshcher/filedrop/internal/model"
	"github.com/mmeshcher/filedrop/internal/whatsapp"
)

// ChannelReport содержит итог по одному каналу.
type ChannelReport struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

func (c *ChannelReport) fail(err error) {
	c.Failed++
	c.Errors = append(c.Errors, err.Error())
}

// Report содержит итог доставки заказа по всем каналам.
type Report struct {
	OrderID   uuid.UUID      `json:"orderId"`
	Tokens    int            `json:"tokens"`
	Simulated bool           `json:"simulated"`
	Email     ChannelReport  `json:"email"`
	WhatsApp  *ChannelReport `json:"whatsapp,omitempty"`
}

// productLinks содержит ссылки одного товара заказа.
type productLinks struct {
	productID uuid.UUID
	name      string
	links     []LinkItem
}

// DeliverOrder выпускает недостающие токены и отправляет ссылки по всем доступным каналам.
// Используется после подтверждения оплаты и при повторной отправке администратором.
func (d *Dispatcher) DeliverOrder(ctx context.Context, orderID uuid.UUID) (*Report, error) {
	order, err := d.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsRefundable() {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotDeliverable, order.Status)
	}

	toks, err := d.tokens.EnsureTokens(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("ensure tokens: %w", err)
	}

	products, err := d.collectLinks(ctx, orderID, toks)
	if err != nil {
		return nil, err
	}

	creds := d.creds.Resolve(ctx)
	report := &Report{OrderID: orderID, Tokens: len(toks), Simulated: !d.emailLive(creds)}

	if err := d.deliverEmails(ctx, creds, order, products, &report.Email); err != nil {
		return report, err
	}

	if phone := phoneFor(order, creds); phone != "" {
		report.WhatsApp = &ChannelReport{}
		if err := d.deliverWhatsApp(ctx, creds, order, phone, products, report.WhatsApp); err != nil {
			return report, err
		}
	}

	d.settleStatus(ctx, orderID, report)

	d.logger.Info("order delivered",
		zap.String("order_id", orderID.String()),
		zap.Int("tokens", report.Tokens),
		zap.Int("emails_sent", report.Email.Sent),
		zap.Int("emails_failed", report.Email.Failed),
		zap.Bool("simulated", report.Simulated),
	)

	return report, nil
}

// collectLinks группирует токены заказа по товарам и подписывает ссылки именами файлов.
func (d *Dispatcher) collectLinks(ctx context.Context, orderID uuid.UUID, toks []model.DownloadToken) ([]productLinks, error) {
	items, err := d.repo.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}

	byProduct := make(map[uuid.UUID][]model.DownloadToken)
	for _, t := range toks {
		byProduct[t.ProductID] = append(byProduct[t.ProductID], t)
	}

	seen := make(map[uuid.UUID]bool, len(items))
	var res []productLinks
	for _, it := range items {
		if seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true

		siblings := byProduct[it.ProductID]
		if len(siblings) == 0 {
			continue
		}

		docs, audio, err := d.repo.ListProductFiles(ctx, it.ProductID)
		if err != nil {
			return nil, fmt.Errorf("list product files: %w", err)
		}

		pl := productLinks{productID: it.ProductID, name: it.ProductName}
		for i, t := range siblings {
			li := LinkItem{Name: fileLabel(it.ProductName, t, siblings, docs, audio), DownloadToken: t.Token}
			if len(siblings) > 1 {
				li.IsComboFile = true
				li.FileNumber = i + 1
				li.TotalFiles = len(siblings)
			}
			pl.links = append(pl.links, li)
		}
		res = append(res, pl)
	}

	return res, nil
}

func fileLabel(productName string, t model.DownloadToken, siblings []model.DownloadToken, docs, audio []model.ProductFile) string {
	if t.FileID != nil {
		for _, f := range append(append([]model.ProductFile{}, docs...), audio...) {
			if f.ID == *t.FileID {
				return f.FileName
			}
		}
		return productName
	}
	if f, err := download.ResolvePositional(t.ID, siblings, docs, audio); err == nil && f.FileName != "" {
		return f.FileName
	}
	return productName
}

// deliverEmails отправляет одно письмо со ссылками обычных товаров
// и по письму на каждый файл товаров-наборов.
func (d *Dispatcher) deliverEmails(ctx context.Context, creds config.Credentials, order *model.Order, products []productLinks, rep *ChannelReport) error {
	var standard []LinkItem
	var combos []productLinks
	for _, p := range products {
		if len(p.links) > 1 {
			combos = append(combos, p)
			continue
		}
		standard = append(standard, p.links...)
	}

	first := true
	send := func(req EmailRequest) error {
		if !first {
			if err := d.pause(ctx); err != nil {
				return err
			}
		}
		first = false

		if _, err := d.sendEmail(ctx, creds, req); err != nil {
			d.logger.Error("send download email failed",
				zap.Error(err), zap.String("order_id", order.ID.String()))
			rep.fail(err)
			return nil
		}
		rep.Sent++
		return nil
	}

	base := EmailRequest{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
	}

	if len(standard) > 0 {
		req := base
		req.Products = standard
		if err := send(req); err != nil {
			return err
		}
	}

	for _, c := range combos {
		productID := c.productID
		for i, link := range c.links {
			req := base
			req.ProductID = &productID
			req.Products = []LinkItem{link}
			req.IsComboPackEmail = true
			req.ComboPackName = c.name
			req.EmailIndex = i + 1
			req.TotalEmails = len(c.links)
			if err := send(req); err != nil {
				return err
			}
		}
	}

	// Одна доставка заказа считается одной попыткой, сколько бы писем ни ушло.
	if rep.Sent > 0 {
		d.markEmailSent(ctx, order.ID)
	}

	return nil
}

// deliverWhatsApp отправляет по шаблонному сообщению на каждую ссылку.
func (d *Dispatcher) deliverWhatsApp(ctx context.Context, creds config.Credentials, order *model.Order, phone string, products []productLinks, rep *ChannelReport) error {
	if d.whatsapp == nil {
		return nil
	}

	wc := whatsapp.Credentials{AccessToken: creds.WhatsAppAccessToken, PhoneNumberID: creds.WhatsAppPhoneNumberID}
	name := order.CustomerName
	if name == "" {
		name = "there"
	}

	first := true
	for _, p := range products {
		for _, link := range p.links {
			if !first {
				if err := d.pause(ctx); err != nil {
					return err
				}
			}
			first = false

			_, err := d.whatsapp.SendTemplate(ctx, wc, phone, whatsapp.Template{
				Name:       creds.WhatsAppDownloadTemplate,
				Parameters: []string{name, link.Name, d.DownloadURL(link.DownloadToken)},
			})
			if err != nil {
				d.logger.Warn("send whatsapp download link failed",
					zap.Error(err), zap.String("order_id", order.ID.String()))
				rep.fail(err)
				continue
			}
			rep.Sent++
		}
	}

	return nil
}

// settleStatus фиксирует итог, если письма не ушли: sent при успехе WhatsApp, иначе failed.
func (d *Dispatcher) settleStatus(ctx context.Context, orderID uuid.UUID, r *Report) {
	if r.Email.Sent > 0 || r.Email.Failed == 0 {
		return
	}

	status := model.DeliveryFailed
	if r.WhatsApp != nil && r.WhatsApp.Sent > 0 {
		status = model.DeliverySent
	}

	if err := d.repo.UpdateDeliveryStatus(ctx, orderID, status); err != nil {
		d.logger.Error("update delivery status failed",
			zap.Error(err), zap.String("order_id", orderID.String()))
	}
}
