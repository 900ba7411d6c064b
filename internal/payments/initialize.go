package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/orders"
	"github.com/joao-fontenele/orderflow-payments/internal/paystack"
)

type InitializeRequest struct {
	OrderID string
	Email   string
	// Amount is optional; when set it must equal the order total.
	Amount   *decimal.Decimal
	Metadata map[string]any
}

type InitializeResult struct {
	Order            *domain.Order
	AuthorizationURL string
	Reference        string
	// Resumed is true when the order already held a reference that never
	// completed and that reference was handed back instead of a new one.
	Resumed bool
}

// NewReference mints the payment reference sent to the gateway.
func NewReference() string {
	return "ord_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Initialize starts a payment for a pending order. A pending order that
// already holds a reference is resumed, never re-referenced; orders past
// pending are rejected with domain.ErrAlreadyInitialized.
func (r *Reconciler) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	order, err := r.store.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("lookup order %s: %w", req.OrderID, err)
	}

	if result, err := resumeOrReject(order); result != nil || err != nil {
		return result, err
	}

	amount := order.TotalAmount
	if req.Amount != nil && !req.Amount.Equal(amount) {
		return nil, fmt.Errorf("%w: requested %s, order total %s",
			domain.ErrAmountMismatch, req.Amount.StringFixed(2), amount.StringFixed(2))
	}

	email := req.Email
	if email == "" {
		email = order.Customer.Email
	}

	v, err, shared := r.initGroup.Do(order.ID, func() (any, error) {
		return r.startPayment(context.WithoutCancel(ctx), order, email, amount, req.Metadata)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("joined in-flight payment initialization", "order_id", order.ID)
	}

	return v.(*InitializeResult), nil
}

func (r *Reconciler) startPayment(ctx context.Context, order *domain.Order, email string, amount decimal.Decimal, metadata map[string]any) (*InitializeResult, error) {
	started, err := r.gateway.Initialize(ctx, paystack.InitializeRequest{
		Email:     email,
		Amount:    amount,
		Reference: NewReference(),
		OrderID:   order.ID,
		Metadata:  metadata,
	})
	if err != nil {
		r.logger.Error("payment initialization failed", "error", err, "order_id", order.ID)
		return nil, err
	}

	updated, err := r.store.AttachPaymentReference(ctx, order.ID, started.Reference, started.AuthorizationURL)
	if errors.Is(err, orders.ErrReferenceAlreadySet) {
		current, err := r.store.GetByID(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("reload order %s: %w", order.ID, err)
		}
		r.logger.Warn("payment reference attached concurrently, discarding new reference",
			"order_id", order.ID, "discarded_reference", started.Reference, "reference", current.PaymentReference)
		if result, err := resumeOrReject(current); result != nil || err != nil {
			return result, err
		}
		return nil, fmt.Errorf("attach reference to order %s: %w", order.ID, domain.ErrStatusConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("attach reference to order %s: %w", order.ID, err)
	}

	r.logger.Info("payment initialized", "order_id", updated.ID, "reference", updated.PaymentReference,
		"amount", amount.StringFixed(2))

	return &InitializeResult{
		Order:            updated,
		AuthorizationURL: started.AuthorizationURL,
		Reference:        started.Reference,
	}, nil
}

func resumeOrReject(order *domain.Order) (*InitializeResult, error) {
	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrAlreadyInitialized, order.ID, order.Status)
	}
	if order.PaymentReference == "" {
		return nil, nil
	}
	return &InitializeResult{
		Order:            order,
		AuthorizationURL: order.AuthorizationURL,
		Reference:        order.PaymentReference,
		Resumed:          true,
	}, nil
}
