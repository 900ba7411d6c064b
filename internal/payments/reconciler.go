package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/orders"
	"github.com/joao-fontenele/orderflow-payments/internal/paystack"
)

var tracer = otel.Tracer("payments/reconciler")

// maxApplyAttempts bounds re-reads after a lost compare-and-swap. The loser
// always observes a terminal status on its second read.
const maxApplyAttempts = 3

type OrderStore interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByPaymentReference(ctx context.Context, reference string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, u orders.StatusUpdate) (*domain.Order, error)
	AttachPaymentReference(ctx context.Context, id, reference, authorizationURL string) (*domain.Order, error)
}

type Gateway interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*paystack.VerifyResult, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Source string

const (
	SourceWebhook      Source = "webhook"
	SourceClientVerify Source = "client_verify"
	SourceServerVerify Source = "server_verify"
)

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomePending OutcomeStatus = "pending"
)

// Outcome is the gateway-confirmed state of a payment.
type Outcome struct {
	Status      OutcomeStatus
	AmountMinor int64
	Reference   string
}

type Transition string

const (
	TransitionApplied   Transition = "applied"
	TransitionDuplicate Transition = "duplicate"
	TransitionPending   Transition = "pending"
	TransitionRejected  Transition = "rejected"
	TransitionIgnored   Transition = "ignored"
)

type Result struct {
	Order      *domain.Order
	Transition Transition
	// Anomaly is a warning, not a failure: the order is in a consistent state
	// but the signal contradicted what was already recorded.
	Anomaly error
}

type Reconciler struct {
	store     OrderStore
	gateway   Gateway
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	initGroup   singleflight.Group
	verifyGroup singleflight.Group

	reconciliations metric.Int64Counter
	anomalies       metric.Int64Counter
}

// NewReconciler wires the transition engine. publisher may be nil when no
// message broker is configured.
func NewReconciler(store OrderStore, gateway Gateway, publisher EventPublisher, logger *slog.Logger) (*Reconciler, error) {
	meter := otel.Meter("payments")

	reconciliations, err := meter.Int64Counter("payments.reconciliations",
		metric.WithDescription("Payment outcomes applied to orders, by source and transition"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconciliations counter: %w", err)
	}

	anomalies, err := meter.Int64Counter("payments.anomalies",
		metric.WithDescription("Payment signals that contradicted recorded order state"),
	)
	if err != nil {
		return nil, fmt.Errorf("create anomalies counter: %w", err)
	}

	return &Reconciler{
		store:           store,
		gateway:         gateway,
		publisher:       publisher,
		logger:          logger,
		now:             time.Now,
		reconciliations: reconciliations,
		anomalies:       anomalies,
	}, nil
}

// Apply reflects a gateway outcome onto the order holding reference. It is
// safe to call concurrently and repeatedly for the same reference: exactly one
// caller performs the pending -> paid edge, the others get TransitionDuplicate.
func (r *Reconciler) Apply(ctx context.Context, source Source, reference string, outcome Outcome) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reconcile payment",
		trace.WithAttributes(
			attribute.String("payment.reference", reference),
			attribute.String("payment.source", string(source)),
			attribute.String("payment.outcome", string(outcome.Status)),
		),
	)
	defer span.End()

	result, err := r.apply(ctx, source, reference, outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("order.id", result.Order.ID),
		attribute.String("payment.transition", string(result.Transition)),
	)
	r.record(ctx, source, result)

	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, source Source, reference string, outcome Outcome) (*Result, error) {
	order, err := r.store.GetByPaymentReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("lookup reference %s: %w", reference, err)
	}

	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		result, err := r.transition(ctx, source, order, outcome)
		if !errors.Is(err, domain.ErrStatusConflict) {
			return result, err
		}

		r.logger.Debug("lost status race, re-reading order", "order_id", order.ID, "reference", reference, "source", source)

		order, err = r.store.GetByPaymentReference(ctx, reference)
		if err != nil {
			return nil, fmt.Errorf("reload reference %s: %w", reference, err)
		}
	}

	return nil, fmt.Errorf("reconcile reference %s: %w", reference, domain.ErrStatusConflict)
}

func (r *Reconciler) transition(ctx context.Context, source Source, order *domain.Order, outcome Outcome) (*Result, error) {
	switch order.Status {
	case domain.OrderStatusPaid, domain.OrderStatusDelivered:
		result := &Result{Order: order, Transition: TransitionDuplicate}
		if outcome.Status == OutcomeFailed {
			result.Anomaly = fmt.Errorf("%w: failure signal for %s order %s", domain.ErrAnomalousTransition, order.Status, order.ID)
			r.reportAnomaly(ctx, source, order, result.Anomaly)
		}
		return result, nil

	case domain.OrderStatusFailed:
		if outcome.Status != OutcomeSuccess {
			return &Result{Order: order, Transition: TransitionDuplicate}, nil
		}
		anomaly := fmt.Errorf("%w: success signal for failed order %s", domain.ErrAnomalousTransition, order.ID)
		r.reportAnomaly(ctx, source, order, anomaly)
		return &Result{Order: order, Transition: TransitionRejected, Anomaly: anomaly}, nil
	}

	switch outcome.Status {
	case OutcomePending:
		return &Result{Order: order, Transition: TransitionPending}, nil

	case OutcomeFailed:
		updated, err := r.store.UpdateStatus(ctx, order.ID, orders.StatusUpdate{
			Expected: domain.OrderStatusPending,
			Status:   domain.OrderStatusFailed,
		})
		if err != nil {
			return nil, fmt.Errorf("mark order %s failed: %w", order.ID, err)
		}

		r.logger.Info("order payment failed", "order_id", updated.ID, "reference", updated.PaymentReference, "source", source)
		r.publish(ctx, source, domain.PaymentEventOrderFailed, updated, "")
		return &Result{Order: updated, Transition: TransitionApplied}, nil

	case OutcomeSuccess:
		if outcome.AmountMinor <= 0 {
			return nil, fmt.Errorf("success outcome for order %s without amount", order.ID)
		}

		confirmed := paystack.FromMinorUnits(outcome.AmountMinor)
		gatewayRef := outcome.Reference
		if gatewayRef == "" {
			gatewayRef = order.PaymentReference
		}

		updated, err := r.store.UpdateStatus(ctx, order.ID, orders.StatusUpdate{
			Expected:         domain.OrderStatusPending,
			Status:           domain.OrderStatusPaid,
			GatewayReference: gatewayRef,
			TotalAmount:      &confirmed,
		})
		if err != nil {
			return nil, fmt.Errorf("mark order %s paid: %w", order.ID, err)
		}

		r.logger.Info("order paid", "order_id", updated.ID, "reference", updated.PaymentReference,
			"gateway_reference", updated.GatewayReference, "amount", updated.TotalAmount.StringFixed(2), "source", source)
		r.publish(ctx, source, domain.PaymentEventOrderPaid, updated, "")

		result := &Result{Order: updated, Transition: TransitionApplied}
		if !confirmed.Equal(order.TotalAmount) {
			result.Anomaly = amountMismatch(order.ID, order.TotalAmount, confirmed)
			r.reportAnomaly(ctx, source, updated, result.Anomaly)
		}
		return result, nil
	}

	return nil, fmt.Errorf("unknown outcome status %q", outcome.Status)
}

func amountMismatch(orderID string, declared, confirmed decimal.Decimal) error {
	return fmt.Errorf("%w: order %s declared %s but gateway confirmed %s",
		domain.ErrAnomalousTransition, orderID, declared.StringFixed(2), confirmed.StringFixed(2))
}

func (r *Reconciler) reportAnomaly(ctx context.Context, source Source, order *domain.Order, anomaly error) {
	r.logger.Warn("payment anomaly", "order_id", order.ID, "reference", order.PaymentReference,
		"status", order.Status, "source", source, "anomaly", anomaly.Error())
	r.anomalies.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
	r.publish(ctx, source, domain.PaymentEventAnomaly, order, anomaly.Error())
}

func (r *Reconciler) publish(ctx context.Context, source Source, typ domain.PaymentEventType, order *domain.Order, detail string) {
	if r.publisher == nil {
		return
	}

	event := domain.PaymentEvent{
		Type:             typ,
		OrderID:          order.ID,
		PaymentReference: order.PaymentReference,
		GatewayReference: order.GatewayReference,
		Status:           order.Status,
		Amount:           order.TotalAmount,
		CustomerName:     order.Customer.Name,
		CustomerEmail:    order.Customer.Email,
		Source:           string(source),
		Detail:           detail,
		Timestamp:        r.now().UTC(),
	}

	if err := r.publisher.Publish(context.WithoutCancel(ctx), order.ID, event); err != nil {
		r.logger.Error("failed to publish payment event", "error", err, "type", typ, "order_id", order.ID)
	}
}

func (r *Reconciler) record(ctx context.Context, source Source, result *Result) {
	r.reconciliations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", string(source)),
		attribute.String("transition", string(result.Transition)),
	))
}
