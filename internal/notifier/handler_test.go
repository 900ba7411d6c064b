package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/messaging"
)

type fakeMailer struct {
	mu     sync.Mutex
	status int
	sent   []sendRequest
}

func (m *fakeMailer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	m.mu.Lock()
	m.sent = append(m.sent, req)
	status := m.status
	m.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func newTestHandler(t *testing.T, mailer *fakeMailer) *NotificationHandler {
	t.Helper()
	srv := httptest.NewServer(mailer)
	t.Cleanup(srv.Close)
	return NewNotificationHandler(srv.URL, "ops@example.com", srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func paymentMessage(t *testing.T, event domain.PaymentEvent) messaging.Message {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return messaging.Message{Key: event.OrderID, EventType: event.EventType(), Payload: payload}
}

func TestHandlePaymentEvent(t *testing.T) {
	base := domain.PaymentEvent{
		OrderID:          "order-1",
		PaymentReference: "ref_1",
		Amount:           decimal.RequireFromString("5000"),
		CustomerName:     "Ada",
		CustomerEmail:    "ada@example.com",
		Source:           "webhook",
	}

	tests := []struct {
		name         string
		typ          domain.PaymentEventType
		wantTo       string
		wantTemplate string
	}{
		{"paid sends receipt", domain.PaymentEventOrderPaid, "ada@example.com", TemplatePaymentReceipt},
		{"failed notifies customer", domain.PaymentEventOrderFailed, "ada@example.com", TemplatePaymentFailed},
		{"anomaly alerts operator", domain.PaymentEventAnomaly, "ops@example.com", TemplatePaymentAnomaly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &fakeMailer{}
			h := newTestHandler(t, mailer)

			event := base
			event.Type = tt.typ
			require.NoError(t, h.HandlePaymentEvent(context.Background(), paymentMessage(t, event)))

			require.Len(t, mailer.sent, 1)
			assert.Equal(t, tt.wantTo, mailer.sent[0].To)
			assert.Equal(t, tt.wantTemplate, mailer.sent[0].Template)
			assert.Equal(t, "5000.00", mailer.sent[0].Data["amount"])
		})
	}
}

func TestHandlePaymentEventUnknownTypeIsIgnored(t *testing.T) {
	mailer := &fakeMailer{}
	h := newTestHandler(t, mailer)

	event := domain.PaymentEvent{Type: "order.refunded", OrderID: "order-1", CustomerEmail: "ada@example.com"}
	require.NoError(t, h.HandlePaymentEvent(context.Background(), paymentMessage(t, event)))
	assert.Empty(t, mailer.sent)
}

func TestHandlePaymentEventMalformedPayloadIsSkipped(t *testing.T) {
	h := newTestHandler(t, &fakeMailer{})

	err := h.HandlePaymentEvent(context.Background(), messaging.Message{Payload: []byte("{")})
	require.Error(t, err)
	assert.True(t, messaging.IsSkip(err))
}

func TestMailerErrors(t *testing.T) {
	event := domain.PaymentEvent{Type: domain.PaymentEventOrderPaid, OrderID: "order-1", CustomerEmail: "ada@example.com"}

	t.Run("client error is skipped", func(t *testing.T) {
		h := newTestHandler(t, &fakeMailer{status: http.StatusUnprocessableEntity})

		err := h.HandlePaymentEvent(context.Background(), paymentMessage(t, event))
		require.Error(t, err)
		assert.True(t, messaging.IsSkip(err))
	})

	t.Run("server error is retried", func(t *testing.T) {
		h := newTestHandler(t, &fakeMailer{status: http.StatusServiceUnavailable})

		err := h.HandlePaymentEvent(context.Background(), paymentMessage(t, event))
		require.Error(t, err)
		assert.False(t, messaging.IsSkip(err))
	})
}

func TestHandleOrderCreated(t *testing.T) {
	mailer := &fakeMailer{}
	h := newTestHandler(t, mailer)

	payload, err := json.Marshal(domain.OrderCreatedEvent{
		OrderID:       "order-1",
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		Items:         []domain.OrderItem{{ItemID: "sku-1", Quantity: 2}},
		TotalAmount:   decimal.RequireFromString("150000"),
	})
	require.NoError(t, err)

	require.NoError(t, h.HandleOrderCreated(context.Background(), messaging.Message{Payload: payload}))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, TemplateOrderReceived, mailer.sent[0].Template)
	assert.Equal(t, "150000.00", mailer.sent[0].Data["total"])
	assert.EqualValues(t, 1, mailer.sent[0].Data["item_count"])
}

func TestHandleRoutesOnEventType(t *testing.T) {
	mailer := &fakeMailer{}
	h := newTestHandler(t, mailer)

	created := domain.OrderCreatedEvent{OrderID: "order-1", CustomerEmail: "ada@example.com",
		TotalAmount: decimal.RequireFromString("5000")}
	payload, err := json.Marshal(created)
	require.NoError(t, err)

	paid := paymentMessage(t, domain.PaymentEvent{
		Type:          domain.PaymentEventOrderPaid,
		OrderID:       "order-1",
		CustomerEmail: "ada@example.com",
		Amount:        decimal.RequireFromString("5000"),
	})

	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, messaging.Message{Topic: "order.created", EventType: created.EventType(), Payload: payload}))
	require.NoError(t, h.Handle(ctx, paid))

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, TemplateOrderReceived, mailer.sent[0].Template)
	assert.Equal(t, TemplatePaymentReceipt, mailer.sent[1].Template)
	assert.Equal(t, "ada@example.com", mailer.sent[1].To)
}
