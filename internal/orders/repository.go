package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
)

var (
	ErrReferenceAlreadySet = errors.New("payment reference already set")
	ErrDuplicateReference  = errors.New("payment reference already used by another order")
)

const uniqueViolation = "23505"

const orderColumns = `id, status, total_amount, customer_name, customer_email, customer_phone,
	shipping_address, message, COALESCE(payment_reference, ''), COALESCE(authorization_url, ''),
	COALESCE(gateway_reference, ''), created_at, updated_at`

// StatusUpdate describes a status change. When Expected is set the update only
// applies while the order still holds that status.
type StatusUpdate struct {
	Expected         domain.OrderStatus
	Status           domain.OrderStatus
	GatewayReference string
	TotalAmount      *decimal.Decimal
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, status, total_amount, customer_name, customer_email, customer_phone,
			shipping_address, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.ID, order.Status, order.TotalAmount, order.Customer.Name, order.Customer.Email,
		order.Customer.Phone, order.Customer.ShippingAddress, order.Customer.Message,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, item_id, name, price, quantity, currency,
				is_available, image, description, category)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, uuid.New().String(), order.ID, i, item.ItemID, item.Name, item.Price, item.Quantity,
			item.Currency, item.IsAvailable, item.Image, item.Description, item.Category)
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", item.ItemID, err)
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrOrderNotFound
	}
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetByPaymentReference(ctx context.Context, reference string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1`, reference)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	if err := r.loadItems(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

// UpdateStatus applies u in a single conditional statement. It returns
// domain.ErrStatusConflict when u.Expected no longer matches.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, u StatusUpdate) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrOrderNotFound
	}

	var amount any
	if u.TotalAmount != nil {
		amount = *u.TotalAmount
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $1,
			gateway_reference = COALESCE(NULLIF($2, ''), gateway_reference),
			total_amount = COALESCE($3, total_amount),
			updated_at = NOW()
		WHERE id = $4 AND ($5 = '' OR status = $5)
		RETURNING `+orderColumns,
		u.Status, u.GatewayReference, amount, id, u.Expected))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.missOrConflict(ctx, id)
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if err := r.loadItems(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

// AttachPaymentReference records the first reference of a pending order.
func (r *OrderRepository) AttachPaymentReference(ctx context.Context, id, reference, authorizationURL string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrOrderNotFound
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET payment_reference = $1, authorization_url = $2, updated_at = NOW()
		WHERE id = $3 AND payment_reference IS NULL AND status = 'pending'
		RETURNING `+orderColumns,
		reference, authorizationURL, id))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicateReference
		}
		if errors.Is(err, sql.ErrNoRows) {
			if err := r.missOrConflict(ctx, id); errors.Is(err, domain.ErrOrderNotFound) {
				return nil, err
			}
			return nil, ErrReferenceAlreadySet
		}
		return nil, fmt.Errorf("attach payment reference: %w", err)
	}

	if err := r.loadItems(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrStatusConflict
}

func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *OrderRepository) ListByCustomerEmail(ctx context.Context, email string) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_email = $1 ORDER BY created_at DESC`,
		strings.ToLower(email))
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	result := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, *order)
	}

	return result, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	orderMap := make(map[string]*domain.Order, len(orders))
	orderIDs := make([]string, 0, len(orders))
	for _, order := range orders {
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, item_id, name, price, quantity, currency, is_available, image, description, category
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ItemID, &item.Name, &item.Price, &item.Quantity, &item.Currency,
			&item.IsAvailable, &item.Image, &item.Description, &item.Category); err != nil {
			return err
		}
		if order, ok := orderMap[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}

	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	err := row.Scan(&order.ID, &order.Status, &order.TotalAmount, &order.Customer.Name, &order.Customer.Email,
		&order.Customer.Phone, &order.Customer.ShippingAddress, &order.Customer.Message, &order.PaymentReference,
		&order.AuthorizationURL, &order.GatewayReference, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return order, nil
}
