package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-payments/internal/api"
	"github.com/joao-fontenele/orderflow-payments/internal/config"
	"github.com/joao-fontenele/orderflow-payments/internal/messaging"
	"github.com/joao-fontenele/orderflow-payments/internal/orders"
	"github.com/joao-fontenele/orderflow-payments/internal/payments"
	"github.com/joao-fontenele/orderflow-payments/internal/paystack"
	"github.com/joao-fontenele/orderflow-payments/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadOrders()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders", cfg.Telemetry.ServiceVersion, cfg.Telemetry.Tracing)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders", cfg.Telemetry.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB(ctx, "postgres", cfg.Postgres.URL, cfg.Postgres.Schema)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Without brokers orders and payments still work; events are not published.
	var orderEvents, paymentEvents *messaging.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		orderEvents = messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrderEventsTopic)
		defer func() { _ = orderEvents.Close() }()
		paymentEvents = messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.PaymentEventsTopic)
		defer func() { _ = paymentEvents.Close() }()
	} else {
		logger.Warn("KAFKA_BROKERS not set, events will not be published")
	}

	gateway := paystack.NewClient(paystack.Config{
		BaseURL:       cfg.Paystack.BaseURL,
		SecretKey:     cfg.Paystack.SecretKey,
		WebhookSecret: cfg.Paystack.WebhookSecret,
		Currency:      cfg.Paystack.Currency,
		CallbackURL:   cfg.Paystack.CallbackURL,
		Timeout:       cfg.Paystack.Timeout,
	}, telemetry.NewHTTPClient(cfg.Paystack.Timeout))

	repo := orders.NewOrderRepository(db)

	ordersHandler, err := orders.NewHandler(repo, publisherOrNil(orderEvents), logger)
	if err != nil {
		logger.Error("failed to create orders handler", "error", err)
		os.Exit(1)
	}

	reconciler, err := payments.NewReconciler(repo, gateway, publisherOrNil(paymentEvents), logger)
	if err != nil {
		logger.Error("failed to create reconciler", "error", err)
		os.Exit(1)
	}
	paymentsHandler := payments.NewHandler(reconciler, gateway, logger)

	mux := api.NewRouter(api.Routes{
		Orders:   ordersHandler,
		Payments: paymentsHandler,
		Metrics:  metricsHandler,
		Health: func(w http.ResponseWriter, r *http.Request) {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		},
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.NewHTTPHandler(mux, "orders"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Paystack.Timeout + 10*time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", cfg.Port, "paystack", cfg.Paystack.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// publisherOrNil keeps a nil *Producer from becoming a non-nil interface.
func publisherOrNil(p *messaging.Producer) payments.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}
