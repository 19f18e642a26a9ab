// Package config содержит логику чтения конфигурации сервиса доставки файлов.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Допустимые значения RATE_LIMIT_BACKEND и EMAIL_TRANSPORT.
const (
	RateLimitPostgres = "postgres"
	RateLimitDynamoDB = "dynamodb"

	TransportResend = "resend"
	TransportSMTP   = "smtp"
)

// SMTPConfig содержит параметры SMTP-ретранслятора.
type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     string `env:"PORT" envDefault:"587"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
}

// KafkaConfig содержит параметры потребителя событий об оплаченных заказах.
type KafkaConfig struct {
	BootstrapServers string `env:"BOOTSTRAP_SERVERS"`
	PaidOrdersTopic  string `env:"PAID_ORDERS_TOPIC" envDefault:"orders.paid"`
	GroupID          string `env:"GROUP_ID" envDefault:"filedrop-delivery"`
}

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	AdminAPIKey   string `env:"ADMIN_API_KEY"`

	S3Bucket  string `env:"S3_BUCKET"`
	AWSRegion string `env:"AWS_REGION" envDefault:"ap-south-1"`

	RateLimitBackend string `env:"RATE_LIMIT_BACKEND" envDefault:"postgres"`
	RateLimitTable   string `env:"RATE_LIMIT_TABLE" envDefault:"download_rate_limits"`

	EmailTransport string        `env:"EMAIL_TRANSPORT" envDefault:"resend"`
	MessageDelay   time.Duration `env:"MESSAGE_DELAY" envDefault:"100ms"`

	SMTP  SMTPConfig  `envPrefix:"SMTP_"`
	Kafka KafkaConfig `envPrefix:"KAFKA_"`

	Credentials Credentials
}

// IsProduction сообщает, что сервис запущен в боевом окружении.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPublicBaseURL := cfg.PublicBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PublicBaseURL, "b", "", "public base URL used in download links")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPublicBaseURL != "" {
		cfg.PublicBaseURL = envPublicBaseURL
	}

	return cfg.finish()
}

// ParseEnv считывает конфигурацию только из переменных окружения.
// Используется CLI, у которого собственные флаги.
func ParseEnv() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return cfg.finish()
}

func (c *Config) finish() (*Config, error) {
	if c.RunAddress == "" {
		c.RunAddress = "localhost:8080"
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = "http://" + c.RunAddress
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) validate() error {
	switch c.RateLimitBackend {
	case RateLimitPostgres, RateLimitDynamoDB:
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimitBackend)
	}

	switch c.EmailTransport {
	case TransportResend, TransportSMTP:
	default:
		return fmt.Errorf("unknown email transport %q", c.EmailTransport)
	}

	return nil
}
