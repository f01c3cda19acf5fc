package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
)

const orderColumns = `id, user_id, status, snapshot, payment_session_id, tracking_number,
	transitions, version, created_at, updated_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var snapshotJSON, transitionsJSON []byte
	var sessionID, tracking sql.NullString
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&snapshotJSON,
		&sessionID,
		&tracking,
		&transitionsJSON,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshotJSON, &o.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal order snapshot: %w", err)
	}
	if err := json.Unmarshal(transitionsJSON, &o.Transitions); err != nil {
		return nil, fmt.Errorf("unmarshal order transitions: %w", err)
	}
	o.PaymentSessionID = sessionID.String
	o.TrackingNumber = tracking.String
	return &o, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order, hold *domain.CouponHold) error {
	snapshotJSON, err := json.Marshal(order.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal order snapshot: %w", err)
	}
	transitionsJSON, err := json.Marshal(transitionsOrEmpty(order.Transitions))
	if err != nil {
		return fmt.Errorf("failed to marshal order transitions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO orders (id, user_id, status, snapshot, coupon_code, final_total, currency,
	              payment_session_id, tracking_number, transitions, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = tx.ExecContext(ctx, query,
		order.ID,
		order.UserID,
		order.Status,
		snapshotJSON,
		nullable(order.Snapshot.CouponCode),
		order.Snapshot.FinalTotal,
		order.Snapshot.Currency,
		nullable(order.PaymentSessionID),
		nullable(order.TrackingNumber),
		transitionsJSON,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if hold != nil {
		if err := placeHold(ctx, tx, hold); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return o, nil
}

func (r *Repository) ListOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func (r *Repository) SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET payment_session_id = $1, updated_at = NOW() WHERE id = $2`, sessionID, id)
	if err != nil {
		return fmt.Errorf("set payment session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set payment session: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ApplyTransition writes the new status only if the version is still the one
// the caller read. Coupon bookkeeping and the outbox row share the transaction.
func (r *Repository) ApplyTransition(ctx context.Context, w TransitionWrite) error {
	transitionsJSON, err := json.Marshal(transitionsOrEmpty(w.Order.Transitions))
	if err != nil {
		return fmt.Errorf("failed to marshal order transitions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, version = $2, tracking_number = $3, transitions = $4, updated_at = $5
		 WHERE id = $6 AND version = $7`,
		w.Order.Status,
		w.Order.Version,
		nullable(w.Order.TrackingNumber),
		transitionsJSON,
		w.Order.UpdatedAt,
		w.Order.ID,
		w.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, w.Order.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check order: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrVersionConflict
	}

	switch w.CouponEffect {
	case CouponEffectConsume:
		err = consumeHold(ctx, tx, w.Order)
	case CouponEffectRelease:
		err = releaseHold(ctx, tx, w.Order.ID)
	}
	if err != nil {
		return err
	}

	if w.Event != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_events (order_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`,
			w.Event.OrderID, w.Event.EventType, w.Event.Payload, w.Event.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

func transitionsOrEmpty(ts []domain.StatusTransition) []domain.StatusTransition {
	if ts == nil {
		return []domain.StatusTransition{}
	}
	return ts
}
