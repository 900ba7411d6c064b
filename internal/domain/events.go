package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderCreatedEvent struct {
	OrderID       string          `json:"order_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Timestamp     time.Time       `json:"timestamp"`
}

type PaymentEventType string

const (
	PaymentEventOrderPaid   PaymentEventType = "order.paid"
	PaymentEventOrderFailed PaymentEventType = "order.payment_failed"
	PaymentEventAnomaly     PaymentEventType = "payment.anomaly"
)

// PaymentEvent is published on the payment events topic after a reconciliation
// changed an order or flagged an anomaly.
type PaymentEvent struct {
	Type             PaymentEventType `json:"type"`
	OrderID          string           `json:"order_id"`
	PaymentReference string           `json:"payment_reference"`
	GatewayReference string           `json:"gateway_reference,omitempty"`
	Status           OrderStatus      `json:"status"`
	Amount           decimal.Decimal  `json:"amount"`
	CustomerName     string           `json:"customer_name"`
	CustomerEmail    string           `json:"customer_email"`
	Source           string           `json:"source"`
	Detail           string           `json:"detail,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

const OrderCreatedEventType = "order.created"

func (OrderCreatedEvent) EventType() string { return OrderCreatedEventType }

func (e PaymentEvent) EventType() string { return string(e.Type) }
