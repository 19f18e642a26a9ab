// Package whatsapp отправляет шаблонные сообщения через WhatsApp Cloud API.
package whatsapp

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
)

// DefaultGraphURL указывает на Graph API нужной версии.
const DefaultGraphURL = "https://graph.facebook.com/v18.0"

// ErrNotConfigured возвращается при отсутствии токена или номера отправителя.
var ErrNotConfigured = errors.New("whatsapp client not configured")

// Credentials содержит учётные данные бизнес-аккаунта.
type Credentials struct {
	AccessToken   string
	PhoneNumberID string
}

// Template описывает шаблонное сообщение с позиционными параметрами тела.
type Template struct {
	Name       string
	Language   string
	Parameters []string
}

// Client инкапсулирует HTTP-взаимодействие с Graph API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. Пустой baseURL означает DefaultGraphURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type textParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []textParam `json:"parameters"`
}

type templateBody struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []component `json:"components,omitempty"`
}

type language struct {
	Code string `json:"code"`
}

type sendRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// SendTemplate отправляет шаблон на номер to и возвращает идентификатор сообщения.
func (c *Client) SendTemplate(ctx context.Context, creds Credentials, to string, tmpl Template) (string, error) {
	if c == nil || creds.AccessToken == "" || creds.PhoneNumberID == "" {
		return "", ErrNotConfigured
	}

	lang := tmpl.Language
	if lang == "" {
		lang = "en"
	}

	payload := sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: templateBody{
			Name:     tmpl.Name,
			Language: language{Code: lang},
		},
	}
	if len(tmpl.Parameters) > 0 {
		params := make([]textParam, 0, len(tmpl.Parameters))
		for _, p := range tmpl.Parameters {
			params = append(params, textParam{Type: "text", Text: p})
		}
		payload.Template.Components = []component{{Type: "body", Parameters: params}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, creds.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var result sendResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if result.Error != nil && result.Error.Message != "" {
			return "", fmt.Errorf("whatsapp: %s (code %d)", result.Error.Message, result.Error.Code)
		}
		return "", fmt.Errorf("whatsapp: unexpected status %d", resp.StatusCode)
	}
	if len(result.Messages) == 0 {
		return "", errors.New("whatsapp: no message id in response")
	}

	return result.Messages[0].ID, nil
}
