package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/models"
)

// CreateOrder inserts a new order. A reused reference yields ErrDuplicateReference.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (event_id, event_title, customer_name, email, phone, quantity,
			total_price, currency, status, reference, checkout_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		order.EventID, order.EventTitle, order.CustomerName, order.Email, order.Phone,
		order.Quantity, order.TotalPrice, order.Currency, order.Status, order.Reference,
		order.CheckoutURL,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", models.ErrDuplicateReference, order.Reference)
	}
	return err
}

// GetOrderByReference retrieves an order by its gateway reference
func (s *Store) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE reference = $1", reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, reference)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetCheckoutURL stores the gateway checkout URL on an order
func (s *Store) SetCheckoutURL(ctx context.Context, reference, checkoutURL string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET checkout_url = $1, updated_at = NOW() WHERE reference = $2",
		checkoutURL, reference)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, reference)
	}
	return nil
}

// Settle moves a pending order to a terminal status in one conditional update.
// paid_at is only written on the pending->paid transition.
func (s *Store) Settle(ctx context.Context, reference string, status models.OrderStatus, at time.Time) (*models.SettleResult, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("cannot settle order to non-terminal status %q", status)
	}

	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders
		SET status = $1,
			paid_at = CASE WHEN $1 = 'paid' THEN $2::timestamptz ELSE paid_at END,
			updated_at = NOW()
		WHERE reference = $3 AND status = 'pending'
		RETURNING *`,
		status, at, reference)
	if err == nil {
		return &models.SettleResult{Result: models.TransitionApplied, Order: &order}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to settle order: %w", err)
	}

	current, err := s.GetOrderByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return &models.SettleResult{Result: compareTerminal(current.Status, status), Order: current}, nil
}

// ListPendingOrders returns pending orders created before the cutoff that sort
// after the cursor, oldest first with the reference as tiebreak
func (s *Store) ListPendingOrders(ctx context.Context, createdBefore time.Time, after models.PendingCursor, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE status = 'pending' AND created_at < $1
		  AND (created_at, reference) > ($2, $3)
		ORDER BY created_at ASC, reference ASC
		LIMIT $4`,
		createdBefore, after.CreatedAt, after.Reference, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	return orders, nil
}

func compareTerminal(current, requested models.OrderStatus) models.TransitionResult {
	if current == requested {
		return models.TransitionAlreadyAppliedSame
	}
	return models.TransitionAlreadyAppliedDifferent
}
