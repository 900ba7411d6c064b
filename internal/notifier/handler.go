package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/messaging"
)

// Template names understood by the mailer.
const (
	TemplateOrderReceived  = "order_received"
	TemplatePaymentReceipt = "payment_receipt"
	TemplatePaymentFailed  = "payment_failed"
	TemplatePaymentAnomaly = "payment_anomaly"
)

var errMailerRejected = errors.New("mailer rejected message")

type NotificationHandler struct {
	mailerURL     string
	operatorEmail string
	httpClient    *http.Client
	logger        *slog.Logger
}

func NewNotificationHandler(mailerURL, operatorEmail string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		mailerURL:     mailerURL,
		operatorEmail: operatorEmail,
		httpClient:    client,
		logger:        logger,
	}
}

// Handle routes a message from either events topic on its event-type header.
// Everything that is not an order creation is treated as a payment event.
func (h *NotificationHandler) Handle(ctx context.Context, msg messaging.Message) error {
	if msg.EventType == domain.OrderCreatedEventType {
		return h.HandleOrderCreated(ctx, msg)
	}
	return h.HandlePaymentEvent(ctx, msg)
}

// HandleOrderCreated tells the customer the order was received and is
// awaiting payment.
func (h *NotificationHandler) HandleOrderCreated(ctx context.Context, msg messaging.Message) error {
	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return messaging.Skip(fmt.Errorf("unmarshal order created event: %w", err))
	}

	h.logger.Info("processing order created event", "order_id", event.OrderID)

	return h.send(ctx, event.CustomerEmail, TemplateOrderReceived, map[string]any{
		"order_id":      event.OrderID,
		"customer_name": event.CustomerName,
		"item_count":    len(event.Items),
		"total":         event.TotalAmount.StringFixed(2),
	})
}

// HandlePaymentEvent sends the customer receipt or failure notice, or alerts
// the operator when reconciliation flagged an anomaly.
func (h *NotificationHandler) HandlePaymentEvent(ctx context.Context, msg messaging.Message) error {
	var event domain.PaymentEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return messaging.Skip(fmt.Errorf("unmarshal payment event: %w", err))
	}

	typ := event.Type
	if msg.EventType != "" {
		typ = domain.PaymentEventType(msg.EventType)
	}

	h.logger.Info("processing payment event", "type", typ, "order_id", event.OrderID,
		"reference", event.PaymentReference, "source", event.Source)

	data := map[string]any{
		"order_id":          event.OrderID,
		"customer_name":     event.CustomerName,
		"reference":         event.PaymentReference,
		"gateway_reference": event.GatewayReference,
		"amount":            event.Amount.StringFixed(2),
		"status":            string(event.Status),
	}

	switch typ {
	case domain.PaymentEventOrderPaid:
		return h.send(ctx, event.CustomerEmail, TemplatePaymentReceipt, data)

	case domain.PaymentEventOrderFailed:
		return h.send(ctx, event.CustomerEmail, TemplatePaymentFailed, data)

	case domain.PaymentEventAnomaly:
		data["customer_email"] = event.CustomerEmail
		data["source"] = event.Source
		data["detail"] = event.Detail
		return h.send(ctx, h.operatorEmail, TemplatePaymentAnomaly, data)
	}

	h.logger.Warn("ignoring unknown payment event", "type", typ, "order_id", event.OrderID)
	return nil
}

type sendRequest struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

func (h *NotificationHandler) send(ctx context.Context, to, template string, data map[string]any) error {
	if to == "" {
		return messaging.Skip(fmt.Errorf("%s notification without recipient", template))
	}

	body, err := json.Marshal(sendRequest{To: to, Template: template, Data: data})
	if err != nil {
		return messaging.Skip(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.mailerURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s email: %w", template, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		h.logger.Info("notification sent", "template", template, "to", to)
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The same request will be rejected again.
		return messaging.Skip(fmt.Errorf("%w: %s returned status %d", errMailerRejected, template, resp.StatusCode))
	default:
		return fmt.Errorf("mailer returned status %d for %s", resp.StatusCode, template)
	}
}
