package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"

	"github.com/mmeshcher/filedrop/internal/config"
)

// SMTPSender отправляет письма через SMTP-ретранслятор.
// Провайдер не присылает вебхуков, поэтому в качестве идентификатора возвращается Message-Id.
type SMTPSender struct {
	host string
	port string
	user string
	pass string

	send func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSMTPSender создаёт отправителя для host:port.
func NewSMTPSender(host, port, user, pass string) *SMTPSender {
	return &SMTPSender{
		host: host,
		port: port,
		user: user,
		pass: pass,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Active требует включённой доставки и адреса ретранслятора. Ключ Resend не нужен.
func (s *SMTPSender) Active(creds config.Credentials) bool {
	return s != nil && s.host != "" && creds.EmailEnabled
}

// Send отправляет письмо. apiKey не используется: ретранслятор аутентифицируется логином и паролем.
func (s *SMTPSender) Send(ctx context.Context, apiKey string, msg Message) (string, error) {
	if s == nil || s.host == "" {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.pass, s.host)
	}

	id := fmt.Sprintf("<%s@filedrop>", uuid.NewString())

	e := email.NewEmail()
	e.From = msg.From
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.HTML = []byte(msg.HTML)
	e.Text = []byte(msg.Text)
	e.Headers.Set("Message-Id", id)
	for _, t := range msg.Tags {
		e.Headers.Add("X-Filedrop-"+t.Name, t.Value)
	}

	if err := s.send(e, addr, auth); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}

	return id, nil
}
