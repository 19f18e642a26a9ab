// Package model содержит доменные сущности сервиса доставки цифровых файлов.
package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает статус оплаты заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// DeliveryStatus описывает наблюдаемый результат доставки ссылок покупателю.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryEmailSent  DeliveryStatus = "email_sent"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryBounced    DeliveryStatus = "bounced"
	DeliveryComplained DeliveryStatus = "complained"
	DeliveryDelayed    DeliveryStatus = "delayed"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryRefunded   DeliveryStatus = "refunded"
)

// Order представляет оплаченный (или ожидающий оплаты) заказ покупателя.
type Order struct {
	ID                uuid.UUID
	OrderNumber       string
	Status            OrderStatus
	DeliveryStatus    DeliveryStatus
	DeliveryAttempts  int
	CustomerEmail     string
	CustomerPhone     string
	CustomerName      string
	WhatsAppOptIn     bool
	RazorpayOrderID   string
	RazorpayPaymentID string
	TotalAmount       float64
	Currency          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsRefundable сообщает, может ли заказ получить автоматический возврат.
func (o *Order) IsRefundable() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusCompleted
}

// OrderItem хранит снимок товара на момент покупки.
type OrderItem struct {
	OrderID      uuid.UUID
	ProductID    uuid.UUID
	ProductName  string
	ProductPrice float64
	Quantity     int
}

// FileKind различает документы и аудиофайлы товара.
type FileKind string

const (
	FileKindDocument FileKind = "document"
	FileKindAudio    FileKind = "audio"
)

// ProductFile описывает файл, который получает покупатель.
// Для файлов в объектном хранилище заполнен StoragePath, для устаревших внешних ссылок заполнен ExternalURL.
type ProductFile struct {
	ID          uuid.UUID
	ProductID   uuid.UUID
	Kind        FileKind
	FileName    string
	StoragePath string
	ExternalURL string
	FileOrder   int
}

// IsExternal сообщает, что файл размещён вне управляемого хранилища.
func (f *ProductFile) IsExternal() bool {
	return f.StoragePath == "" && f.ExternalURL != ""
}

// Product содержит минимальное представление товара каталога.
type Product struct {
	ID            uuid.UUID
	Name          string
	DownloadCount int64
}

// MaxDownloads ограничивает число скачиваний по одному токену.
const MaxDownloads = 3

// TokenTTL задаёт срок действия токена скачивания.
const TokenTTL = 7 * 24 * time.Hour

// DownloadToken даёт ограниченное число скачиваний одного файла.
// FileKind и FileID пусты у токенов, выпущенных до появления явной ссылки на файл.
type DownloadToken struct {
	ID            uuid.UUID
	Token         string
	OrderID       uuid.UUID
	ProductID     uuid.UUID
	FileKind      FileKind
	FileID        *uuid.UUID
	DownloadCount int
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// Expired сообщает, истёк ли срок действия токена на момент now.
func (t *DownloadToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// Exhausted сообщает, исчерпан ли лимит скачиваний.
func (t *DownloadToken) Exhausted() bool {
	return t.DownloadCount >= MaxDownloads
}

// Remaining возвращает число оставшихся скачиваний.
func (t *DownloadToken) Remaining() int {
	if t.DownloadCount >= MaxDownloads {
		return 0
	}
	return MaxDownloads - t.DownloadCount
}

// EmailStatus описывает статус конкретного письма у почтового провайдера.
type EmailStatus string

const (
	EmailSent       EmailStatus = "sent"
	EmailDelivered  EmailStatus = "delivered"
	EmailBounced    EmailStatus = "bounced"
	EmailComplained EmailStatus = "complained"
	EmailDelayed    EmailStatus = "delayed"
)

// Типы писем.
const (
	EmailTypeDownloadLinks = "download_links"
	EmailTypeComboPart     = "combo_part"
)

// EmailDeliveryLog фиксирует отправленное письмо и его судьбу у провайдера.
type EmailDeliveryLog struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	ProductID      *uuid.UUID
	RecipientEmail string
	EmailType      string
	ResendEmailID  string
	PartNumber     *int
	TotalParts     *int
	DeliveryStatus EmailStatus
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RefundStatus описывает состояние возврата.
type RefundStatus string

const (
	RefundEligible   RefundStatus = "eligible"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
)

// RefundReason описывает причину возврата.
type RefundReason string

const (
	ReasonEmailBounced    RefundReason = "email_bounced"
	ReasonCustomerRequest RefundReason = "customer_request"
)

// Refund описывает возврат по заказу. На заказ приходится не более одного возврата.
type Refund struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	RazorpayPaymentID string
	RazorpayRefundID  string
	Amount            float64
	Currency          string
	Reason            RefundReason
	FailedEmail       string
	Status            RefundStatus
	ErrorMessage      string
	WhatsAppSent      bool
	ProcessedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ToMinorUnits переводит сумму в минимальные единицы валюты (пайсы, копейки).
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// RateWindow описывает состояние окна ограничения частоты после очередного запроса.
type RateWindow struct {
	Count int
	Start time.Time
}
