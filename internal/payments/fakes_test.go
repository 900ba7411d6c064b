package payments

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/orders"
	"github.com/joao-fontenele/orderflow-payments/internal/paystack"
)

// memoryStore mirrors the conditional updates of orders.OrderRepository.
type memoryStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemoryStore(seed ...domain.Order) *memoryStore {
	s := &memoryStore{orders: make(map[string]domain.Order)}
	for _, o := range seed {
		s.orders[o.ID] = o
	}
	return s
}

func (s *memoryStore) get(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memoryStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (s *memoryStore) GetByPaymentReference(_ context.Context, reference string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.PaymentReference != "" && o.PaymentReference == reference {
			return &o, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *memoryStore) UpdateStatus(_ context.Context, id string, u orders.StatusUpdate) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if u.Expected != "" && o.Status != u.Expected {
		return nil, domain.ErrStatusConflict
	}
	o.Status = u.Status
	if u.GatewayReference != "" {
		o.GatewayReference = u.GatewayReference
	}
	if u.TotalAmount != nil {
		o.TotalAmount = *u.TotalAmount
	}
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return &o, nil
}

func (s *memoryStore) AttachPaymentReference(_ context.Context, id, reference, authorizationURL string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if o.PaymentReference != "" || o.Status != domain.OrderStatusPending {
		return nil, orders.ErrReferenceAlreadySet
	}
	o.PaymentReference = reference
	o.AuthorizationURL = authorizationURL
	s.orders[id] = o
	return &o, nil
}

type fakeGateway struct {
	mu          sync.Mutex
	verify      *paystack.VerifyResult
	verifyErr   error
	initErr     error
	verifyDelay time.Duration
	verifyCalls atomic.Int32
	initCalls   atomic.Int32
	lastInitReq paystack.InitializeRequest
	initialized []string
}

func (g *fakeGateway) Initialize(_ context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error) {
	g.initCalls.Add(1)
	if g.initErr != nil {
		return nil, g.initErr
	}
	g.mu.Lock()
	g.lastInitReq = req
	g.initialized = append(g.initialized, req.Reference)
	g.mu.Unlock()
	return &paystack.InitializeResult{
		AuthorizationURL: "https://checkout.paystack.com/" + req.Reference,
		AccessCode:       "code_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (*paystack.VerifyResult, error) {
	g.verifyCalls.Add(1)
	if g.verifyDelay > 0 {
		time.Sleep(g.verifyDelay)
	}
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	v := *g.verify
	v.Reference = reference
	return &v, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.PaymentEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(domain.PaymentEvent))
	return nil
}

func (p *recordingPublisher) types() []domain.PaymentEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]domain.PaymentEventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

const testOrderID = "6f1c7d1e-8a4b-4c1e-9d3f-2b7a9e0c5d11"

func pendingOrder(reference string) domain.Order {
	return domain.Order{
		ID:               testOrderID,
		TotalAmount:      decimal.RequireFromString("5000.00"),
		Customer:         domain.Customer{Name: "Ada Obi", Email: "ada@example.com", Phone: "+2348000000000"},
		Status:           domain.OrderStatusPending,
		PaymentReference: reference,
		CreatedAt:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func withStatus(o domain.Order, status domain.OrderStatus) domain.Order {
	o.Status = status
	return o
}

func newTestReconciler(t *testing.T, store OrderStore, gateway Gateway, publisher EventPublisher) *Reconciler {
	t.Helper()
	r, err := NewReconciler(store, gateway, publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return r
}
