package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/paystack"
)

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Handler struct {
	repo      *OrderRepository
	publisher EventPublisher
	validate  *validator.Validate
	logger    *slog.Logger

	created metric.Int64Counter
}

// NewHandler builds the order endpoints. publisher may be nil.
func NewHandler(repo *OrderRepository, publisher EventPublisher, logger *slog.Logger) (*Handler, error) {
	created, err := otel.Meter("orders").Int64Counter("orders.created",
		metric.WithDescription("Orders accepted by the checkout flow"),
	)
	if err != nil {
		return nil, fmt.Errorf("create orders counter: %w", err)
	}

	return &Handler{
		repo:      repo,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		created:   created,
	}, nil
}

type createOrderRequest struct {
	Items       []domain.OrderItem `json:"items" validate:"required,min=1,dive"`
	TotalAmount *decimal.Decimal   `json:"total_amount"`
	Customer    domain.Customer    `json:"customer" validate:"required"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Customer.Email = strings.ToLower(strings.TrimSpace(req.Customer.Email))

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	total := decimal.Zero
	for _, item := range req.Items {
		if err := checkAmount(item.Price); err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("item %s: price %v", item.ItemID, err))
			return
		}
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if req.TotalAmount != nil {
		total = *req.TotalAmount
	}
	if err := checkAmount(total); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("total amount %v", err))
		return
	}

	now := time.Now().UTC()
	order := &domain.Order{
		Items:       req.Items,
		TotalAmount: total,
		Customer:    req.Customer,
		Status:      domain.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.repo.Create(r.Context(), order); err != nil {
		h.logger.Error("failed to create order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.created.Add(r.Context(), 1)

	if h.publisher != nil {
		event := domain.OrderCreatedEvent{
			OrderID:       order.ID,
			CustomerName:  order.Customer.Name,
			CustomerEmail: order.Customer.Email,
			Items:         order.Items,
			TotalAmount:   order.TotalAmount,
			Timestamp:     order.CreatedAt,
		}
		if err := h.publisher.Publish(r.Context(), order.ID, event); err != nil {
			h.logger.Error("failed to publish order created event", "error", err, "order_id", order.ID)
		}
	}

	h.logger.Info("order created", "order_id", order.ID, "customer_email", order.Customer.Email)
	h.writeJSON(w, http.StatusCreated, order)
}

// checkAmount accepts only positive amounts the store and the gateway can hold
// exactly.
func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New("must be positive")
	}
	if _, err := paystack.ToMinorUnits(amount); err != nil {
		return errors.New("must have at most 2 decimal places")
	}
	return nil
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.handleLookupError(w, err, "id", id)
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleGetByReference(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "missing payment reference")
		return
	}

	order, err := h.repo.GetByPaymentReference(r.Context(), reference)
	if err != nil {
		h.handleLookupError(w, err, "reference", reference)
		return
	}

	h.logger.Info("order retrieved by reference", "order_id", order.ID, "reference", reference)
	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

// HandleUpdateStatus is the administrative route. Payment states are owned by
// reconciliation, so the only accepted change is paid -> delivered.
func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Status != domain.OrderStatusDelivered {
		h.writeError(w, http.StatusUnprocessableEntity, "only delivered can be set manually")
		return
	}

	order, err := h.repo.UpdateStatus(r.Context(), id, StatusUpdate{
		Expected: domain.OrderStatusPaid,
		Status:   domain.OrderStatusDelivered,
	})
	if errors.Is(err, domain.ErrStatusConflict) {
		h.writeError(w, http.StatusConflict, "order is not paid")
		return
	}
	if err != nil {
		h.handleLookupError(w, err, "id", id)
		return
	}

	h.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleListByCustomer(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	if email == "" {
		h.writeError(w, http.StatusBadRequest, "missing customer email")
		return
	}

	orders, err := h.repo.ListByCustomerEmail(r.Context(), email)
	if err != nil {
		h.logger.Error("failed to list customer orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("customer orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) handleLookupError(w http.ResponseWriter, err error, key, value string) {
	if errors.Is(err, domain.ErrOrderNotFound) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	h.logger.Error("order lookup failed", "error", err, key, value)
	h.writeError(w, http.StatusInternalServerError, "internal server error")
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
