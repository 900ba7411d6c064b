package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type Postgres struct {
	URL    string `env:"POSTGRES_URL,required"`
	Schema string `env:"POSTGRES_SCHEMA" envDefault:"orders"`
}

type Kafka struct {
	Brokers            []string `env:"KAFKA_BROKERS" envSeparator:","`
	PaymentEventsTopic string   `env:"PAYMENT_EVENTS_TOPIC" envDefault:"payment.events"`
	OrderEventsTopic   string   `env:"ORDER_EVENTS_TOPIC" envDefault:"order.created"`
}

type Paystack struct {
	BaseURL       string        `env:"BASE_URL" envDefault:"https://api.paystack.co"`
	SecretKey     string        `env:"SECRET_KEY,required"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	Currency      string        `env:"CURRENCY" envDefault:"NGN"`
	CallbackURL   string        `env:"CALLBACK_URL"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type Telemetry struct {
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"0.1.0"`
	Tracing        bool   `env:"TRACING_ENABLED" envDefault:"true"`
}

// Orders configures cmd/orders.
type Orders struct {
	Port      string `env:"PORT" envDefault:"8081"`
	Postgres  Postgres
	Kafka     Kafka
	Paystack  Paystack  `envPrefix:"PAYSTACK_"`
	Telemetry Telemetry `envPrefix:"OTEL_"`
}

// Notifier configures cmd/notifier.
type Notifier struct {
	Kafka         Kafka
	GroupID       string    `env:"NOTIFIER_GROUP_ID" envDefault:"payment-notifier"`
	MailerURL     string    `env:"MAILER_URL,required"`
	OperatorEmail string    `env:"OPERATOR_EMAIL,required"`
	Telemetry     Telemetry `envPrefix:"OTEL_"`
}

// Mailer configures cmd/mailer.
type Mailer struct {
	Port      string    `env:"PORT" envDefault:"8084"`
	From      string    `env:"MAIL_FROM" envDefault:"payments@orderflow.local"`
	Telemetry Telemetry `envPrefix:"OTEL_"`
}

type Migrate struct {
	Postgres       Postgres
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"file://migrations"`
}

func LoadOrders() (*Orders, error) {
	return load[Orders]()
}

func LoadNotifier() (*Notifier, error) {
	cfg, err := load[Notifier]()
	if err != nil {
		return nil, err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("parse config: KAFKA_BROKERS is required")
	}
	return cfg, nil
}

func LoadMailer() (*Mailer, error) {
	return load[Mailer]()
}

func LoadMigrate() (*Migrate, error) {
	return load[Migrate]()
}

func load[T any]() (*T, error) {
	cfg := new(T)
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
