package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/joao-fontenele/orderflow-payments/internal/paystack"
)

var ErrInvalidWebhookEvent = errors.New("invalid webhook event")

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// PollVerify asks the gateway for the live state of reference and applies it.
// Orders already in a terminal state are returned without a gateway call.
func (r *Reconciler) PollVerify(ctx context.Context, source Source, reference string) (*Result, error) {
	order, err := r.store.GetByPaymentReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("lookup reference %s: %w", reference, err)
	}

	if order.Status.Terminal() {
		result := &Result{Order: order, Transition: TransitionDuplicate}
		r.record(ctx, source, result)
		return result, nil
	}

	v, err, _ := r.verifyGroup.Do(reference, func() (any, error) {
		return r.gateway.Verify(context.WithoutCancel(ctx), reference)
	})
	if err != nil {
		r.logger.Error("payment verification failed", "error", err, "reference", reference, "source", source)
		return nil, err
	}

	return r.Apply(ctx, source, reference, outcomeFromVerify(v.(*paystack.VerifyResult)))
}

func outcomeFromVerify(v *paystack.VerifyResult) Outcome {
	outcome := Outcome{AmountMinor: v.AmountMinor, Reference: v.Reference}
	switch v.Status {
	case paystack.VerifySuccess:
		outcome.Status = OutcomeSuccess
	case paystack.VerifyFailed:
		outcome.Status = OutcomeFailed
	default:
		outcome.Status = OutcomePending
	}
	return outcome
}

// HandleWebhook applies a signature-verified gateway event. Events other than
// charge outcomes are acknowledged with TransitionIgnored.
func (r *Reconciler) HandleWebhook(ctx context.Context, event WebhookEvent) (*Result, error) {
	var outcome Outcome
	switch event.Event {
	case EventChargeSuccess:
		outcome.Status = OutcomeSuccess
	case EventChargeFailed:
		outcome.Status = OutcomeFailed
	default:
		r.logger.Debug("ignoring webhook event", "event", event.Event, "reference", event.Data.Reference)
		return &Result{Transition: TransitionIgnored}, nil
	}

	if event.Data.Reference == "" {
		return nil, fmt.Errorf("%w: %s without reference", ErrInvalidWebhookEvent, event.Event)
	}
	if outcome.Status == OutcomeSuccess && event.Data.Amount <= 0 {
		return nil, fmt.Errorf("%w: %s for %s without amount", ErrInvalidWebhookEvent, event.Event, event.Data.Reference)
	}

	outcome.AmountMinor = event.Data.Amount
	outcome.Reference = event.Data.Reference

	return r.Apply(ctx, SourceWebhook, event.Data.Reference, outcome)
}
