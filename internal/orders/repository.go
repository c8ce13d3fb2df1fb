package orders

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/commercekit/storefront/internal/domain"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrDuplicatePaymentSession means an order was already created for
	// this payment session; the unique constraint arbitrates between
	// concurrent webhook deliveries.
	ErrDuplicatePaymentSession = errors.New("an order already exists for this payment session")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the order, its items, and the initial status history
// row in one transaction. The initial history entry records pending as
// the origin; creation is an entry point, not a transition, so it is
// not gated by the validator.
func (r *Repository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, subtotal_cents, discount_cents, total_cents,
			coupon_code, payment_session_id, payment_intent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $10)
	`, order.ID, order.UserID, order.Status, order.Subtotal, order.Discount, order.Total,
		order.CouponCode, order.PaymentSessionID, order.PaymentIntentID, order.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" &&
			strings.Contains(pqErr.Constraint, "payment_session") {
			return ErrDuplicatePaymentSession
		}
		return err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, variant_id, quantity, price_cents)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), order.ID, item.ProductID, item.VariantID, item.Quantity, item.Price)
		if err != nil {
			return err
		}
	}

	initial := domain.StatusChange{
		From:      domain.OrderStatusPending,
		To:        order.Status,
		Timestamp: order.CreatedAt,
	}
	if err := insertStatusChange(ctx, tx, order.ID, initial); err != nil {
		return err
	}
	order.StatusHistory = append(order.StatusHistory, initial)

	return tx.Commit()
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order := &domain.Order{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, subtotal_cents, discount_cents, total_cents,
			coupon_code, COALESCE(payment_session_id, ''), COALESCE(payment_intent_id, ''),
			created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.UserID, &order.Status, &order.Subtotal, &order.Discount,
		&order.Total, &order.CouponCode, &order.PaymentSessionID, &order.PaymentIntentID,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	if err := r.loadStatusHistory(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// GetByPaymentSession looks an order up by the payment session that paid
// for it. This is the idempotency probe for webhook re-delivery.
func (r *Repository) GetByPaymentSession(ctx context.Context, sessionID string) (*domain.Order, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE payment_session_id = $1
	`, sessionID).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// UpdateStatus applies a validated status change and appends the history
// row in the same transaction. Returns *TransitionError for illegal
// changes and ErrNotFound when the order does not exist.
func (r *Repository) UpdateStatus(ctx context.Context, id string, to domain.OrderStatus, actor, reason string) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.OrderStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM orders WHERE id = $1 FOR UPDATE
	`, id).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := ValidateTransition(current, to); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3
	`, to, now, id)
	if err != nil {
		return nil, err
	}

	change := domain.StatusChange{From: current, To: to, Actor: actor, Reason: reason, Timestamp: now}
	if err := insertStatusChange(ctx, tx, id, change); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, id)
}

// List returns orders newest-first, optionally filtered by status, with
// items batch-loaded in a single query.
func (r *Repository) List(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	query := `
		SELECT id, user_id, status, subtotal_cents, discount_cents, total_cents,
			coupon_code, COALESCE(payment_session_id, ''), COALESCE(payment_intent_id, ''),
			created_at, updated_at
		FROM orders
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.Status, &order.Subtotal,
			&order.Discount, &order.Total, &order.CouponCode, &order.PaymentSessionID,
			&order.PaymentIntentID, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, variant_id, quantity, price_cents
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.VariantID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *Repository) loadItems(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, variant_id, quantity, price_cents
		FROM order_items
		WHERE order_id = $1
	`, order.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.VariantID, &item.Quantity, &item.Price); err != nil {
			return err
		}
		order.Items = append(order.Items, item)
	}

	return rows.Err()
}

func (r *Repository) loadStatusHistory(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT from_status, to_status, actor, reason, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at
	`, order.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var change domain.StatusChange
		if err := rows.Scan(&change.From, &change.To, &change.Actor, &change.Reason, &change.Timestamp); err != nil {
			return err
		}
		order.StatusHistory = append(order.StatusHistory, change)
	}

	return rows.Err()
}

func insertStatusChange(ctx context.Context, tx *sql.Tx, orderID string, change domain.StatusChange) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New().String(), orderID, change.From, change.To, change.Actor, change.Reason, change.Timestamp)
	return err
}
