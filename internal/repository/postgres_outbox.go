package repository

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int, maxAttempts int) ([]*domain.StatusEvent, error) {
	query := `SELECT id, order_id, event_type, payload, attempts, created_at
	          FROM order_events
	          WHERE processed_at IS NULL AND attempts < $1
	          ORDER BY id
	          LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.StatusEvent
	for rows.Next() {
		var e domain.StatusEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.EventType, &e.Payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE order_events SET processed_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func (r *Repository) MarkEventFailed(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE order_events SET attempts = attempts + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}
