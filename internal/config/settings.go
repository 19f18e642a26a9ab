package config

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Ключи таблицы settings.
const (
	KeyResendAPIKey         = "resend_api_key"
	KeyResendFromEmail      = "resend_from_email"
	KeyResendFromName       = "resend_from_name"
	KeyEmailEnabled         = "email_enabled"
	KeyResendWebhookSecret  = "resend_webhook_secret"
	KeyWhatsAppAccessToken  = "whatsapp_access_token"
	KeyWhatsAppPhoneID      = "whatsapp_phone_number_id"
	KeyWhatsAppEnabled      = "whatsapp_enabled"
	KeyWhatsAppDownloadTmpl = "whatsapp_download_template"
	KeyWhatsAppRefundTmpl   = "whatsapp_refund_template"
	KeyRazorpayKeyID        = "razorpay_key_id"
	KeyRazorpayKeySecret    = "razorpay_key_secret"
)

var knownKeys = map[string]struct{}{
	KeyResendAPIKey: {}, KeyResendFromEmail: {}, KeyResendFromName: {}, KeyEmailEnabled: {},
	KeyResendWebhookSecret: {}, KeyWhatsAppAccessToken: {}, KeyWhatsAppPhoneID: {},
	KeyWhatsAppEnabled: {}, KeyWhatsAppDownloadTmpl: {}, KeyWhatsAppRefundTmpl: {},
	KeyRazorpayKeyID: {}, KeyRazorpayKeySecret: {},
}

// IsKnownKey сообщает, что key читается из таблицы settings.
func IsKnownKey(key string) bool {
	_, ok := knownKeys[key]
	return ok
}

// Credentials содержит учётные данные внешних провайдеров.
// Значения из переменных окружения служат запасным слоем под таблицей settings.
type Credentials struct {
	ResendAPIKey        string `env:"RESEND_API_KEY"`
	ResendFromEmail     string `env:"RESEND_FROM_EMAIL" envDefault:"downloads@example.com"`
	ResendFromName      string `env:"RESEND_FROM_NAME" envDefault:"Downloads"`
	EmailEnabled        bool   `env:"EMAIL_ENABLED" envDefault:"true"`
	ResendWebhookSecret string `env:"RESEND_WEBHOOK_SECRET"`

	WhatsAppAccessToken      string `env:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppPhoneNumberID    string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppEnabled          bool   `env:"WHATSAPP_ENABLED" envDefault:"false"`
	WhatsAppDownloadTemplate string `env:"WHATSAPP_DOWNLOAD_TEMPLATE" envDefault:"download_link"`
	WhatsAppRefundTemplate   string `env:"WHATSAPP_REFUND_TEMPLATE" envDefault:"refund_processed"`

	RazorpayKeyID     string `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret string `env:"RAZORPAY_KEY_SECRET"`
}

// EmailActive сообщает, что письма нужно реально отправлять через Resend.
func (c Credentials) EmailActive() bool {
	return c.EmailEnabled && !IsPlaceholder(c.ResendAPIKey)
}

// WhatsAppActive сообщает, что WhatsApp включён и настроен реальными учётными данными.
func (c Credentials) WhatsAppActive() bool {
	return c.WhatsAppEnabled &&
		!IsPlaceholder(c.WhatsAppAccessToken) &&
		!IsPlaceholder(c.WhatsAppPhoneNumberID)
}

var placeholderMarkers = []string{"placeholder", "your_", "your-", "changeme", "xxxx", "dummy"}

// IsPlaceholder сообщает, что значение пустое или является заглушкой/тестовым ключом.
func IsPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return true
	}
	if strings.HasPrefix(v, "re_test") || strings.HasPrefix(v, "test_") {
		return true
	}
	for _, m := range placeholderMarkers {
		if strings.Contains(v, m) {
			return true
		}
	}
	return false
}

// Overlay накладывает непустые значения из таблицы settings поверх base.
func Overlay(base Credentials, db map[string]string) Credentials {
	c := base

	strs := []struct {
		key string
		dst *string
	}{
		{KeyResendAPIKey, &c.ResendAPIKey},
		{KeyResendFromEmail, &c.ResendFromEmail},
		{KeyResendFromName, &c.ResendFromName},
		{KeyResendWebhookSecret, &c.ResendWebhookSecret},
		{KeyWhatsAppAccessToken, &c.WhatsAppAccessToken},
		{KeyWhatsAppPhoneID, &c.WhatsAppPhoneNumberID},
		{KeyWhatsAppDownloadTmpl, &c.WhatsAppDownloadTemplate},
		{KeyWhatsAppRefundTmpl, &c.WhatsAppRefundTemplate},
		{KeyRazorpayKeyID, &c.RazorpayKeyID},
		{KeyRazorpayKeySecret, &c.RazorpayKeySecret},
	}
	for _, s := range strs {
		if v := strings.TrimSpace(db[s.key]); v != "" {
			*s.dst = v
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{KeyEmailEnabled, &c.EmailEnabled},
		{KeyWhatsAppEnabled, &c.WhatsAppEnabled},
	}
	for _, b := range bools {
		if v, ok := db[b.key]; ok {
			if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*b.dst = parsed
			}
		}
	}

	return c
}

// SettingsLoader загружает переопределения из таблицы settings.
type SettingsLoader interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
}

// Resolver строит итоговые учётные данные: settings ?? env ?? default.
type Resolver struct {
	loader SettingsLoader
	base   Credentials
	logger *zap.Logger
}

// NewResolver создаёт Resolver поверх значений из окружения.
func NewResolver(loader SettingsLoader, base Credentials, logger *zap.Logger) *Resolver {
	return &Resolver{loader: loader, base: base, logger: logger}
}

// Resolve возвращает учётные данные для текущего запроса.
// Если таблица settings недоступна, используются значения из окружения.
func (r *Resolver) Resolve(ctx context.Context) Credentials {
	if r.loader == nil {
		return r.base
	}

	db, err := r.loader.LoadSettings(ctx)
	if err != nil {
		r.logger.Warn("load settings failed, using environment", zap.Error(err))
		return r.base
	}

	return Overlay(r.base, db)
}
