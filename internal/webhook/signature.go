// Package webhook проверяет и обрабатывает события доставки писем от провайдера.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Заголовки подписи Svix.
const (
	HeaderID        = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"

	secretPrefix = "whsec_"
)

// Tolerance задаёт допустимое расхождение отметки времени с текущим временем в обе стороны.
const Tolerance = 300 * time.Second

var (
	ErrMissingHeaders   = errors.New("missing signature headers")
	ErrInvalidTimestamp = errors.New("invalid signature timestamp")
	ErrTimestampTooOld  = errors.New("signature timestamp too old")
	ErrTimestampTooNew  = errors.New("signature timestamp too new")
	ErrInvalidSignature = errors.New("no matching signature")
	ErrInvalidSecret    = errors.New("invalid webhook secret")
)

// Verifier проверяет подписи HMAC-SHA256 в формате Svix.
type Verifier struct {
	key []byte
	now func() time.Time
}

// NewVerifier создаёт проверку для секрета вида whsec_<base64>.
func NewVerifier(secret string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrInvalidSecret
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	return &Verifier{key: key, now: time.Now}, nil
}

// Sign возвращает подпись v1 для сообщения.
func (v *Verifier) Sign(id string, ts time.Time, body []byte) string {
	return "v1," + v.compute(id, strconv.FormatInt(ts.Unix(), 10), body)
}

func (v *Verifier) compute(id, ts string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify проверяет заголовки запроса против тела.
// Заголовок подписи может содержать несколько кандидатов "v1,<sig>" через пробел.
func (v *Verifier) Verify(h http.Header, body []byte) error {
	id := h.Get(HeaderID)
	ts := h.Get(HeaderTimestamp)
	sigs := h.Get(HeaderSignature)
	if id == "" || ts == "" || sigs == "" {
		return ErrMissingHeaders
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	now := v.now()
	sent := time.Unix(sec, 0)
	if now.Sub(sent) > Tolerance {
		return ErrTimestampTooOld
	}
	if sent.Sub(now) > Tolerance {
		return ErrTimestampTooNew
	}

	expected := []byte(v.compute(id, ts, body))
	for _, candidate := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), expected) {
			return nil
		}
	}

	return ErrInvalidSignature
}
