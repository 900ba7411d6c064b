package payments

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/paystack"
)

const maxWebhookBytes = 1 << 20

type SignatureVerifier interface {
	VerifySignature(body []byte, signature string) error
}

type Handler struct {
	reconciler *Reconciler
	verifier   SignatureVerifier
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewHandler(reconciler *Reconciler, verifier SignatureVerifier, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		verifier:   verifier,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
	}
}

type initializeRequest struct {
	OrderID  string           `json:"orderId" validate:"required,uuid"`
	Email    string           `json:"email" validate:"omitempty,email"`
	Amount   *decimal.Decimal `json:"amount"`
	Metadata map[string]any   `json:"metadata"`
}

type initializeResponse struct {
	PaymentURL string `json:"paymentUrl"`
	Reference  string `json:"reference"`
	Resumed    bool   `json:"resumed"`
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Amount != nil && !req.Amount.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	result, err := h.reconciler.Initialize(r.Context(), InitializeRequest{
		OrderID:  req.OrderID,
		Email:    req.Email,
		Amount:   req.Amount,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.handleError(w, err, "order_id", req.OrderID)
		return
	}

	h.logger.Info("payment initialization served", "order_id", req.OrderID, "reference", result.Reference, "resumed", result.Resumed)
	h.writeJSON(w, http.StatusOK, initializeResponse{
		PaymentURL: result.AuthorizationURL,
		Reference:  result.Reference,
		Resumed:    result.Resumed,
	})
}

type verifyResponse struct {
	Status     domain.OrderStatus `json:"status"`
	Transition Transition         `json:"transition"`
	Order      *domain.Order      `json:"order"`
	Warning    string             `json:"warning,omitempty"`
}

// HandleClientVerify serves the poll-verify call made by the checkout client
// after the gateway redirect.
func (h *Handler) HandleClientVerify(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, SourceClientVerify)
}

// HandleServerVerify serves the server-to-server verification route.
func (h *Handler) HandleServerVerify(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, SourceServerVerify)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request, source Source) {
	reference := r.PathValue("reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "missing payment reference")
		return
	}

	result, err := h.reconciler.PollVerify(r.Context(), source, reference)
	if err != nil {
		h.handleError(w, err, "reference", reference)
		return
	}

	resp := verifyResponse{
		Status:     result.Order.Status,
		Transition: result.Transition,
		Order:      result.Order,
	}
	if result.Anomaly != nil {
		resp.Warning = result.Anomaly.Error()
	}

	status := http.StatusOK
	if result.Transition == TransitionPending {
		status = http.StatusAccepted
	}

	h.logger.Info("payment verified", "reference", reference, "order_id", result.Order.ID,
		"status", result.Order.Status, "transition", result.Transition, "source", source)
	h.writeJSON(w, status, resp)
}

// HandleWebhook authenticates a gateway event and reconciles it. Once the
// signature checks out the gateway always gets a 200 so it does not redeliver.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.verifier.VerifySignature(body, r.Header.Get(paystack.SignatureHeader)); err != nil {
		h.logger.Warn("rejected webhook", "error", err, "remote_addr", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to decode webhook payload", "error", err)
		h.acknowledge(w)
		return
	}

	result, err := h.reconciler.HandleWebhook(r.Context(), event)
	switch {
	case err != nil:
		h.logger.Error("webhook reconciliation failed", "error", err, "event", event.Event, "reference", event.Data.Reference)
	case result.Anomaly != nil:
		h.logger.Warn("webhook reconciled with anomaly", "event", event.Event, "reference", event.Data.Reference,
			"transition", result.Transition, "anomaly", result.Anomaly.Error())
	case result.Order != nil:
		h.logger.Info("webhook reconciled", "event", event.Event, "reference", event.Data.Reference,
			"order_id", result.Order.ID, "transition", result.Transition)
	}

	h.acknowledge(w)
}

func (h *Handler) acknowledge(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *Handler) handleError(w http.ResponseWriter, err error, key, value string) {
	var gwErr *paystack.Error
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrAlreadyInitialized):
		h.writeError(w, http.StatusConflict, "payment already completed for this order")
	case errors.Is(err, domain.ErrAmountMismatch):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &gwErr):
		h.logger.Error("payment gateway error", "error", err, key, value)
		h.writeError(w, http.StatusBadGateway, "payment gateway unavailable, retry later")
	default:
		h.logger.Error("payment request failed", "error", err, key, value)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
