package mailer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Handler renders notification templates. Delivery is a structured log line.
type Handler struct {
	from     string
	validate *validator.Validate
	logger   *slog.Logger
	sent     metric.Int64Counter
}

func NewHandler(from string, logger *slog.Logger) (*Handler, error) {
	sent, err := otel.Meter("mailer").Int64Counter("mailer.sent",
		metric.WithDescription("Emails rendered and delivered, by template"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sent counter: %w", err)
	}

	return &Handler{
		from:     from,
		validate: validator.New(),
		logger:   logger,
		sent:     sent,
	}, nil
}

type sendRequest struct {
	To       string         `json:"to" validate:"required,email"`
	Template string         `json:"template" validate:"required"`
	Data     map[string]any `json:"data"`
}

type sendResponse struct {
	Status  string `json:"status"`
	Subject string `json:"subject"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	subject, body, err := Render(req.Template, req.Data)
	if errors.Is(err, ErrUnknownTemplate) {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to render email", "error", err, "template", req.Template)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.deliver(req.To, subject, body)
	h.sent.Add(r.Context(), 1, metric.WithAttributes(attribute.String("template", req.Template)))

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent", Subject: subject})
}

func (h *Handler) deliver(to, subject, body string) {
	h.logger.Info("email sent", "from", h.from, "to", to, "subject", subject, "bytes", len(body))
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
