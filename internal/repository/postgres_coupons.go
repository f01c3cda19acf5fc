package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const couponColumns = `code, discount_percent, starts_at, ends_at, minimum_subtotal, usage_limit,
	per_user_limit, used_count, active, owner_user_id, product_ids, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (*domain.Coupon, error) {
	var c domain.Coupon
	var owner sql.NullInt64
	var productIDs []int64
	err := row.Scan(
		&c.Code,
		&c.DiscountPercent,
		&c.StartsAt,
		&c.EndsAt,
		&c.MinimumSubtotal,
		&c.UsageLimit,
		&c.PerUserLimit,
		&c.UsedCount,
		&c.Active,
		&owner,
		pq.Array(&productIDs),
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if owner.Valid {
		c.OwnerUserID = &owner.Int64
	}
	c.ProductIDs = productIDs
	return &c, nil
}

func (r *Repository) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	c, err := scanCoupon(r.db.QueryRowContext(ctx, query, domain.NormalizeCode(code)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query coupon: %w", err)
	}
	return c, nil
}

func (r *Repository) CreateCoupon(ctx context.Context, c *domain.Coupon) error {
	c.Code = domain.NormalizeCode(c.Code)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	var owner sql.NullInt64
	if c.OwnerUserID != nil {
		owner = sql.NullInt64{Int64: *c.OwnerUserID, Valid: true}
	}
	productIDs := c.ProductIDs
	if productIDs == nil {
		productIDs = []int64{}
	}

	query := `INSERT INTO coupons (` + couponColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(ctx, query,
		c.Code,
		c.DiscountPercent,
		c.StartsAt,
		c.EndsAt,
		c.MinimumSubtotal,
		c.UsageLimit,
		c.PerUserLimit,
		c.UsedCount,
		c.Active,
		owner,
		pq.Array(productIDs),
		c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCoupon
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (r *Repository) GetUsage(ctx context.Context, code string, userID int64, now time.Time) (domain.CouponUsage, error) {
	query := `SELECT
	            (SELECT COUNT(*) FROM coupon_usages WHERE code = $1),
	            (SELECT COUNT(*) FROM coupon_holds WHERE code = $1 AND expires_at > $3),
	            (SELECT COUNT(*) FROM coupon_usages WHERE code = $1 AND user_id = $2),
	            (SELECT COUNT(*) FROM coupon_holds WHERE code = $1 AND user_id = $2 AND expires_at > $3)`

	var u domain.CouponUsage
	err := r.db.QueryRowContext(ctx, query, domain.NormalizeCode(code), userID, now).
		Scan(&u.Used, &u.Held, &u.UsedByUser, &u.HeldByUser)
	if err != nil {
		return domain.CouponUsage{}, fmt.Errorf("query coupon usage: %w", err)
	}
	return u, nil
}

func (r *Repository) ListCouponsForUser(ctx context.Context, userID int64) ([]*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons
	          WHERE owner_user_id = $1 AND active ORDER BY code`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query user coupons: %w", err)
	}
	defer rows.Close()

	var coupons []*domain.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon row: %w", err)
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return coupons, nil
}

func (r *Repository) DeactivateUserCoupons(ctx context.Context, userID int64, codePrefix string) error {
	query := `UPDATE coupons SET active = FALSE
	          WHERE owner_user_id = $1 AND active AND starts_with(code, $2)`
	if _, err := r.db.ExecContext(ctx, query, userID, codePrefix); err != nil {
		return fmt.Errorf("deactivate coupons: %w", err)
	}
	return nil
}

func (r *Repository) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM coupon_holds WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("release expired holds: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release expired holds: %w", err)
	}
	return n, nil
}

// placeHold locks the coupon row so concurrent checkouts cannot both take the last redemption.
func placeHold(ctx context.Context, tx *sql.Tx, hold *domain.CouponHold) error {
	var usageLimit, perUserLimit, used, byUser int
	err := tx.QueryRowContext(ctx,
		`SELECT usage_limit, per_user_limit FROM coupons WHERE code = $1 FOR UPDATE`, hold.Code).
		Scan(&usageLimit, &perUserLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCouponNotFound
	}
	if err != nil {
		return fmt.Errorf("lock coupon: %w", err)
	}

	err = tx.QueryRowContext(ctx, `SELECT
	        (SELECT COUNT(*) FROM coupon_usages WHERE code = $1)
	      + (SELECT COUNT(*) FROM coupon_holds WHERE code = $1 AND expires_at > NOW()),
	        (SELECT COUNT(*) FROM coupon_usages WHERE code = $1 AND user_id = $2)
	      + (SELECT COUNT(*) FROM coupon_holds WHERE code = $1 AND user_id = $2 AND expires_at > NOW())`,
		hold.Code, hold.UserID).Scan(&used, &byUser)
	if err != nil {
		return fmt.Errorf("count coupon usage: %w", err)
	}
	if (usageLimit > 0 && used >= usageLimit) || (perUserLimit > 0 && byUser >= perUserLimit) {
		return ErrCouponExhausted
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO coupon_holds (order_id, code, user_id, expires_at) VALUES ($1, $2, $3, $4)`,
		hold.OrderID, hold.Code, hold.UserID, hold.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert coupon hold: %w", err)
	}
	return nil
}

// consumeHold records the redemption once per order. A replay inserts nothing
// and leaves used_count alone.
func consumeHold(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM coupon_holds WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("delete coupon hold: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO coupon_usages (order_id, code, user_id, used_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (order_id) DO NOTHING`,
		order.ID, order.Snapshot.CouponCode, order.UserID, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert coupon usage: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert coupon usage: %w", err)
	}
	if inserted == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count + 1 WHERE code = $1`, order.Snapshot.CouponCode); err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	return nil
}

func releaseHold(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM coupon_holds WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("release coupon hold: %w", err)
	}
	return nil
}
