package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/config"
	"github.com/mmeshcher/filedrop/internal/email"
	"github.com/mmeshcher/filedrop/internal/model"
	"github.com/mmeshcher/filedrop/internal/repository"
	"github.com/mmeshcher/filedrop/internal/whatsapp"
)

type stubRepo struct {
	order *model.Order
	items []model.OrderItem
	docs  map[uuid.UUID][]model.ProductFile
	audio map[uuid.UUID][]model.ProductFile

	logs          []*model.EmailDeliveryLog
	markCalls     int
	statusUpdates []model.DeliveryStatus
}

func (s *stubRepo) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	if s.order == nil || s.order.ID != id {
		return nil, repository.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *stubRepo) GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	return s.items, nil
}

func (s *stubRepo) ListProductFiles(ctx context.Context, productID uuid.UUID) ([]model.ProductFile, []model.ProductFile, error) {
	return s.docs[productID], s.audio[productID], nil
}

func (s *stubRepo) InsertEmailLog(ctx context.Context, l *model.EmailDeliveryLog) error {
	l.ID = uuid.New()
	s.logs = append(s.logs, l)
	return nil
}

func (s *stubRepo) MarkEmailSent(ctx context.Context, orderID uuid.UUID) error {
	s.markCalls++
	return nil
}

func (s *stubRepo) UpdateDeliveryStatus(ctx context.Context, orderID uuid.UUID, status model.DeliveryStatus) error {
	s.statusUpdates = append(s.statusUpdates, status)
	return nil
}

type stubTokens struct {
	tokens []model.DownloadToken
	calls  int
}

func (s *stubTokens) EnsureTokens(ctx context.Context, orderID uuid.UUID) ([]model.DownloadToken, error) {
	s.calls++
	return s.tokens, nil
}

type stubCreds struct {
	creds config.Credentials
}

func (s stubCreds) Resolve(ctx context.Context) config.Credentials {
	return s.creds
}

type stubMailer struct {
	sent   []email.Message
	failAt map[int]bool
	relay  bool
}

func (s *stubMailer) Active(creds config.Credentials) bool {
	if s.relay {
		return creds.EmailEnabled
	}
	return creds.EmailActive()
}

func (s *stubMailer) Send(ctx context.Context, apiKey string, msg email.Message) (string, error) {
	n := len(s.sent)
	s.sent = append(s.sent, msg)
	if s.failAt[n] {
		return "", errors.New("provider unavailable")
	}
	return fmt.Sprintf("email_%d", n), nil
}

type stubWhatsApp struct {
	sent []whatsapp.Template
	err  error
}

func (s *stubWhatsApp) SendTemplate(ctx context.Context, creds whatsapp.Credentials, to string, tmpl whatsapp.Template) (string, error) {
	s.sent = append(s.sent, tmpl)
	if s.err != nil {
		return "", s.err
	}
	return "wamid.1", nil
}

func liveCreds() config.Credentials {
	return config.Credentials{
		ResendAPIKey:             "re_live_123",
		ResendFromEmail:          "downloads@example.com",
		ResendFromName:           "Downloads",
		EmailEnabled:             true,
		WhatsAppAccessToken:      "EAAG123",
		WhatsAppPhoneNumberID:    "1098765",
		WhatsAppEnabled:          true,
		WhatsAppDownloadTemplate: "download_link",
	}
}

type fixture struct {
	repo    *stubRepo
	tokens  *stubTokens
	mailer  *stubMailer
	wa      *stubWhatsApp
	d       *Dispatcher
	orderID uuid.UUID
	combo   uuid.UUID
	single  uuid.UUID
}

// newFixture: заказ из набора на два документа и обычного товара с одним файлом.
func newFixture(creds config.Credentials) *fixture {
	fx := &fixture{
		orderID: uuid.New(),
		combo:   uuid.New(),
		single:  uuid.New(),
		mailer:  &stubMailer{},
		wa:      &stubWhatsApp{},
	}

	comboDocs := []model.ProductFile{
		{ID: uuid.New(), ProductID: fx.combo, FileName: "Part1.pdf"},
		{ID: uuid.New(), ProductID: fx.combo, FileName: "Part2.pdf"},
	}
	singleDoc := model.ProductFile{ID: uuid.New(), ProductID: fx.single, FileName: "Guide.pdf"}

	fx.repo = &stubRepo{
		order: &model.Order{
			ID: fx.orderID, OrderNumber: "ORD-1001", Status: model.OrderStatusPaid,
			CustomerEmail: "buyer@example.com", CustomerName: "Asha", CustomerPhone: "9876543210",
			TotalAmount: 499,
		},
		items: []model.OrderItem{
			{OrderID: fx.orderID, ProductID: fx.combo, ProductName: "Exam Pack"},
			{OrderID: fx.orderID, ProductID: fx.single, ProductName: "Guide"},
		},
		docs: map[uuid.UUID][]model.ProductFile{
			fx.combo:  comboDocs,
			fx.single: {singleDoc},
		},
	}

	fx.tokens = &stubTokens{tokens: []model.DownloadToken{
		{ID: uuid.New(), Token: "tok-combo-1", OrderID: fx.orderID, ProductID: fx.combo, FileKind: model.FileKindDocument, FileID: &comboDocs[0].ID},
		{ID: uuid.New(), Token: "tok-combo-2", OrderID: fx.orderID, ProductID: fx.combo, FileKind: model.FileKindDocument, FileID: &comboDocs[1].ID},
		{ID: uuid.New(), Token: "tok-single", OrderID: fx.orderID, ProductID: fx.single},
	}}

	fx.d = NewDispatcher(fx.repo, fx.tokens, stubCreds{creds: creds}, fx.mailer, fx.wa,
		Options{PublicBaseURL: "https://shop.example.com"}, zap.NewNop())
	return fx
}

func TestSendDownloadEmail_SimulatedWhenDisabled(t *testing.T) {
	creds := liveCreds()
	creds.EmailEnabled = false
	fx := newFixture(creds)

	res, err := fx.d.SendDownloadEmail(context.Background(), EmailRequest{
		OrderID:       fx.orderID,
		CustomerEmail: "buyer@example.com",
		Products:      []LinkItem{{Name: "Guide.pdf", DownloadToken: "tok-single"}},
	})
	require.NoError(t, err)

	assert.True(t, res.Simulated)
	assert.Empty(t, res.EmailID)
	require.NotNil(t, res.Preview)
	assert.Contains(t, res.Preview.HTML, "https://shop.example.com/download-file?token=tok-single")
	assert.Empty(t, fx.mailer.sent)
	require.Len(t, fx.repo.logs, 1)
	assert.Empty(t, fx.repo.logs[0].ResendEmailID)
	assert.Equal(t, model.EmailSent, fx.repo.logs[0].DeliveryStatus)
	assert.Equal(t, 1, fx.repo.markCalls)
}

func TestSendDownloadEmail_SMTPRelayNeedsNoResendKey(t *testing.T) {
	creds := liveCreds()
	creds.ResendAPIKey = ""
	fx := newFixture(creds)
	fx.mailer.relay = true

	res, err := fx.d.SendDownloadEmail(context.Background(), EmailRequest{
		OrderID:       fx.orderID,
		CustomerEmail: "buyer@example.com",
		Products:      []LinkItem{{Name: "Guide.pdf", DownloadToken: "tok-single"}},
	})
	require.NoError(t, err)

	assert.False(t, res.Simulated)
	assert.Equal(t, "email_0", res.EmailID)
	require.Len(t, fx.mailer.sent, 1)
	require.Len(t, fx.repo.logs, 1)
	assert.Equal(t, "email_0", fx.repo.logs[0].ResendEmailID)
	assert.Equal(t, 1, fx.repo.markCalls)
}

func TestDeliverOrder_SMTPRelayNotSimulated(t *testing.T) {
	creds := liveCreds()
	creds.ResendAPIKey = ""
	creds.WhatsAppEnabled = false
	fx := newFixture(creds)
	fx.mailer.relay = true

	report, err := fx.d.DeliverOrder(context.Background(), fx.orderID)
	require.NoError(t, err)

	assert.False(t, report.Simulated)
	assert.Equal(t, 3, report.Email.Sent)
	assert.Len(t, fx.mailer.sent, 3)
}

func TestSendDownloadEmail_SimulatedWithPlaceholderKey(t *testing.T) {
	creds := liveCreds()
	creds.ResendAPIKey = "re_test_placeholder"
	fx := newFixture(creds)

	res, err := fx.d.SendDownloadEmail(context.Background(), EmailRequest{
		OrderID:       fx.orderID,
		CustomerEmail: "buyer@example.com",
		Products:      []LinkItem{{Name: "Guide.pdf", DownloadToken: "tok-single"}},
	})
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Empty(t, fx.mailer.sent)
}

func TestSendDownloadEmail_LogsProviderID(t *testing.T) {
	fx := newFixture(liveCreds())

	res, err := fx.d.SendDownloadEmail(context.Background(), EmailRequest{
		OrderID:       fx.orderID,
		CustomerEmail: "buyer@example.com",
		Products:      []LinkItem{{Name: "Guide.pdf", DownloadToken: "tok-single"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "email_0", res.EmailID)
	require.Len(t, fx.mailer.sent, 1)
	assert.Equal(t, "Downloads <downloads@example.com>", fx.mailer.sent[0].From)
	require.Len(t, fx.repo.logs, 1)
	assert.Equal(t, "email_0", fx.repo.logs[0].ResendEmailID)
	assert.Equal(t, model.EmailTypeDownloadLinks, fx.repo.logs[0].EmailType)
	assert.Nil(t, fx.repo.logs[0].PartNumber)
	assert.Equal(t, 1, fx.repo.markCalls)
}

func TestSendDownloadEmail_LaterPartDoesNotTouchOrder(t *testing.T) {
	fx := newFixture(liveCreds())

	_, err := fx.d.SendDownloadEmail(context.Background(), EmailRequest{
		OrderID:          fx.orderID,
		CustomerEmail:    "buyer@example.com",
		Products:         []LinkItem{{Name: "Part2.pdf", DownloadToken: "tok-combo-2"}},
		IsComboPackEmail: true,
		ComboPackName:    "Exam Pack",
		EmailIndex:       2,
		TotalEmails:      2,
	})
	require.NoError(t, err)

	require.Len(t, fx.repo.logs, 1)
	assert.Equal(t, model.EmailTypeComboPart, fx.repo.logs[0].EmailType)
	assert.Equal(t, 2, *fx.repo.logs[0].PartNumber)
	assert.Equal(t, 2, *fx.repo.logs[0].TotalParts)
	assert.Equal(t, 0, fx.repo.markCalls)
	assert.Equal(t, "Exam Pack: Part 2 of 2", fx.mailer.sent[0].Subject)
}

func TestSendDownloadEmail_Validation(t *testing.T) {
	fx := newFixture(liveCreds())

	_, err := fx.d.SendDownloadEmail(context.Background(), EmailRequest{CustomerEmail: "nope"})
	assert.Error(t, err)

	_, err = fx.d.SendDownloadEmail(context.Background(), EmailRequest{CustomerEmail: "buyer@example.com"})
	assert.ErrorIs(t, err, ErrNoLinks)
}

func TestDeliverOrder_SplitsComboIntoParts(t *testing.T) {
	creds := liveCreds()
	creds.WhatsAppEnabled = false
	fx := newFixture(creds)

	report, err := fx.d.DeliverOrder(context.Background(), fx.orderID)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Tokens)
	assert.Equal(t, 3, report.Email.Sent)
	assert.Nil(t, report.WhatsApp)

	require.Len(t, fx.mailer.sent, 3)
	assert.Equal(t, "Your download links for order ORD-1001", fx.mailer.sent[0].Subject)
	assert.Contains(t, fx.mailer.sent[0].HTML, "tok-single")
	assert.Equal(t, "Exam Pack: Part 1 of 2", fx.mailer.sent[1].Subject)
	assert.Contains(t, fx.mailer.sent[1].HTML, "Part1.pdf")
	assert.Equal(t, "Exam Pack: Part 2 of 2", fx.mailer.sent[2].Subject)
	assert.Contains(t, fx.mailer.sent[2].HTML, "Part2.pdf")

	require.Len(t, fx.repo.logs, 3)
	assert.Equal(t, fx.combo, *fx.repo.logs[1].ProductID)
	assert.Empty(t, fx.repo.statusUpdates)
	assert.Equal(t, 1, fx.repo.markCalls)
}

func TestDeliverOrder_WhatsAppIndependentOfEmail(t *testing.T) {
	fx := newFixture(liveCreds())
	fx.repo.order.WhatsAppOptIn = true
	fx.mailer.failAt = map[int]bool{0: true, 1: true, 2: true}

	report, err := fx.d.DeliverOrder(context.Background(), fx.orderID)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Email.Sent)
	assert.Equal(t, 3, report.Email.Failed)
	assert.Equal(t, 0, fx.repo.markCalls)
	require.NotNil(t, report.WhatsApp)
	assert.Equal(t, 3, report.WhatsApp.Sent)
	require.Len(t, fx.wa.sent, 3)
	assert.Equal(t, "download_link", fx.wa.sent[0].Name)
	assert.Equal(t, []model.DeliveryStatus{model.DeliverySent}, fx.repo.statusUpdates)
}

func TestDeliverOrder_WhatsAppFailureDoesNotBlockEmail(t *testing.T) {
	fx := newFixture(liveCreds())
	fx.repo.order.WhatsAppOptIn = true
	fx.wa.err = errors.New("template rejected")

	report, err := fx.d.DeliverOrder(context.Background(), fx.orderID)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Email.Sent)
	assert.Equal(t, 3, report.WhatsApp.Failed)
	assert.Empty(t, fx.repo.statusUpdates)
}

func TestDeliverOrder_AllChannelsFailed(t *testing.T) {
	fx := newFixture(liveCreds())
	fx.mailer.failAt = map[int]bool{0: true, 1: true, 2: true}

	report, err := fx.d.DeliverOrder(context.Background(), fx.orderID)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Email.Failed)
	assert.Len(t, report.Email.Errors, 3)
	assert.Equal(t, []model.DeliveryStatus{model.DeliveryFailed}, fx.repo.statusUpdates)
}

func TestDeliverOrder_RefundedOrderRejected(t *testing.T) {
	fx := newFixture(liveCreds())
	fx.repo.order.Status = model.OrderStatusRefunded

	_, err := fx.d.DeliverOrder(context.Background(), fx.orderID)
	assert.ErrorIs(t, err, ErrOrderNotDeliverable)
	assert.Equal(t, 0, fx.tokens.calls)
}

func TestDeliverOrder_UnknownOrder(t *testing.T) {
	fx := newFixture(liveCreds())

	_, err := fx.d.DeliverOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}
