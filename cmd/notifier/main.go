package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/orderflow-payments/internal/config"
	"github.com/joao-fontenele/orderflow-payments/internal/messaging"
	"github.com/joao-fontenele/orderflow-payments/internal/notifier"
	"github.com/joao-fontenele/orderflow-payments/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadNotifier()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "notifier", cfg.Telemetry.ServiceVersion, cfg.Telemetry.Tracing)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	topics := []string{cfg.Kafka.PaymentEventsTopic, cfg.Kafka.OrderEventsTopic}
	consumer := messaging.NewGroupConsumer(cfg.Kafka.Brokers, topics, cfg.GroupID,
		messaging.WithLogger(logger))
	defer func() { _ = consumer.Close() }()

	handler := notifier.NewNotificationHandler(cfg.MailerURL, cfg.OperatorEmail,
		telemetry.NewHTTPClient(10*time.Second), logger)

	logger.Info("starting notifier", "brokers", cfg.Kafka.Brokers, "topics", topics, "group_id", cfg.GroupID)

	if err := consumer.Consume(ctx, handler.Handle); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
