// Package email отправляет письма со ссылками на скачивание.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/filedrop/internal/config"
)

// DefaultResendURL указывает на API Resend.
const DefaultResendURL = "https://api.resend.com"

// ErrNotConfigured возвращается, если у отправителя нет ключа или адреса.
var ErrNotConfigured = errors.New("email sender not configured")

// Tag описывает метку письма, которую провайдер возвращает в вебхуках.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message описывает письмо, готовое к отправке.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	Tags    []Tag
}

// Sender отправляет письмо и возвращает идентификатор, присвоенный провайдером.
// Active сообщает, нужно ли с учётными данными creds реально отправлять письма.
type Sender interface {
	Send(ctx context.Context, apiKey string, msg Message) (string, error)
	Active(creds config.Credentials) bool
}

// ResendClient инкапсулирует HTTP-взаимодействие с Resend.
type ResendClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewResendClient создаёт клиент Resend. Пустой baseURL означает боевой адрес.
func NewResendClient(baseURL string) *ResendClient {
	if baseURL == "" {
		baseURL = DefaultResendURL
	}
	return &ResendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

type resendError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Active требует включённой доставки и настоящего ключа API.
func (c *ResendClient) Active(creds config.Credentials) bool {
	return c != nil && creds.EmailActive()
}

// Send отправляет письмо через POST /emails.
func (c *ResendClient) Send(ctx context.Context, apiKey string, msg Message) (string, error) {
	if c == nil || apiKey == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(resendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Tags:    msg.Tags,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e resendError
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			return "", fmt.Errorf("resend: %s (status %d)", e.Message, resp.StatusCode)
		}
		return "", fmt.Errorf("resend: unexpected status %d", resp.StatusCode)
	}

	var result resendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.ID == "" {
		return "", errors.New("resend: empty email id")
	}

	return result.ID, nil
}
