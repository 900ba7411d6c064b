package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusDelivered OrderStatus = "delivered"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed, OrderStatusDelivered:
		return true
	}
	return false
}

// Terminal reports whether reconciliation can no longer move the order.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusPending
}

type OrderItem struct {
	ItemID      string          `json:"id" validate:"required"`
	Name        string          `json:"name" validate:"required"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"min=1"`
	Currency    string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	IsAvailable bool            `json:"is_available"`
	Image       string          `json:"image,omitempty"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
}

type Customer struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Phone           string `json:"phone" validate:"required"`
	ShippingAddress string `json:"shipping_address,omitempty"`
	Message         string `json:"message,omitempty"`
}

type Order struct {
	ID               string          `json:"id"`
	Items            []OrderItem     `json:"items"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Customer         Customer        `json:"customer"`
	Status           OrderStatus     `json:"status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	GatewayReference string          `json:"gateway_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
