package api

import (
	"net/http"

	"github.com/joao-fontenele/orderflow-payments/internal/telemetry"
)

type OrderHandler interface {
	HandleList(w http.ResponseWriter, r *http.Request)
	HandleCreate(w http.ResponseWriter, r *http.Request)
	HandleGet(w http.ResponseWriter, r *http.Request)
	HandleGetByReference(w http.ResponseWriter, r *http.Request)
	HandleListByCustomer(w http.ResponseWriter, r *http.Request)
	HandleUpdateStatus(w http.ResponseWriter, r *http.Request)
}

type PaymentHandler interface {
	HandleInitialize(w http.ResponseWriter, r *http.Request)
	HandleClientVerify(w http.ResponseWriter, r *http.Request)
	HandleServerVerify(w http.ResponseWriter, r *http.Request)
	HandleWebhook(w http.ResponseWriter, r *http.Request)
}

// Routes is everything served by the orders binary. Metrics and Health are
// optional.
type Routes struct {
	Orders   OrderHandler
	Payments PaymentHandler
	Metrics  http.Handler
	Health   http.HandlerFunc
}

// NewRouter registers the public route table. The admin status change lives
// on PATCH /orders/{id} so it cannot overlap PATCH /orders/verify/{reference}.
func NewRouter(routes Routes) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(routes.Orders.HandleList))
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(routes.Orders.HandleCreate))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(routes.Orders.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}", telemetry.WithHTTPRoute(routes.Orders.HandleUpdateStatus))
	mux.HandleFunc("GET /orders/reference/{reference}", telemetry.WithHTTPRoute(routes.Orders.HandleGetByReference))
	mux.HandleFunc("GET /orders/customer/{email}", telemetry.WithHTTPRoute(routes.Orders.HandleListByCustomer))
	mux.HandleFunc("PATCH /orders/verify/{reference}", telemetry.WithHTTPRoute(routes.Payments.HandleServerVerify))

	mux.HandleFunc("POST /payments/initialize", telemetry.WithHTTPRoute(routes.Payments.HandleInitialize))
	mux.HandleFunc("GET /payments/verify/{reference}", telemetry.WithHTTPRoute(routes.Payments.HandleClientVerify))
	mux.HandleFunc("POST /payments/webhook", telemetry.WithHTTPRoute(routes.Payments.HandleWebhook))

	if routes.Metrics != nil {
		mux.Handle("GET /metrics", routes.Metrics)
	}
	if routes.Health != nil {
		mux.HandleFunc("GET /healthz", routes.Health)
	}

	return mux
}
