// Package razorpay предоставляет клиент API возвратов Razorpay.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL указывает на API Razorpay.
const DefaultBaseURL = "https://api.razorpay.com"

// ErrNotConfigured возвращается при отсутствии ключей API.
var ErrNotConfigured = errors.New("razorpay client not configured")

// GatewayError описывает отказ шлюза. Description передаётся вызывающему без изменений.
type GatewayError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *GatewayError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return fmt.Sprintf("razorpay: unexpected status %d", e.StatusCode)
}

// Credentials содержит пару ключей API.
type Credentials struct {
	KeyID     string
	KeySecret string
}

// RefundRequest описывает возврат по платежу.
type RefundRequest struct {
	PaymentID string
	// AmountMinor задаёт сумму в минимальных единицах валюты.
	AmountMinor int64
	Notes       map[string]string
}

// Refund описывает созданный шлюзом возврат.
type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

// Client инкапсулирует HTTP-взаимодействие с Razorpay.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. Пустой baseURL означает DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type refundBody struct {
	Amount int64             `json:"amount"`
	Speed  string            `json:"speed"`
	Notes  map[string]string `json:"notes,omitempty"`
}

type errorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateRefund создаёт обычный (speed=normal) возврат по платежу.
func (c *Client) CreateRefund(ctx context.Context, creds Credentials, r RefundRequest) (*Refund, error) {
	if c == nil || creds.KeyID == "" || creds.KeySecret == "" {
		return nil, ErrNotConfigured
	}
	if r.PaymentID == "" {
		return nil, errors.New("payment id is empty")
	}
	if r.AmountMinor <= 0 {
		return nil, fmt.Errorf("invalid refund amount %d", r.AmountMinor)
	}

	body, err := json.Marshal(refundBody{Amount: r.AmountMinor, Speed: "normal", Notes: r.Notes})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/payments/%s/refund", c.baseURL, url.PathEscape(r.PaymentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(creds.KeyID, creds.KeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		gwErr := &GatewayError{StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			gwErr.Code = eb.Error.Code
			gwErr.Description = eb.Error.Description
		}
		return nil, gwErr
	}

	var result Refund
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.ID == "" {
		return nil, errors.New("razorpay: empty refund id")
	}

	return &result, nil
}
