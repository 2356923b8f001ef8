package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	couponColumns = `code, owner_user_id, discount_percentage, expires_at, active`

	findCouponSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE owner_user_id = $1 AND code = $2`

	couponByOwnerSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE owner_user_id = $1
		ORDER BY active DESC, expires_at DESC
		LIMIT 1`

	deactivateCouponSQL = `UPDATE coupons SET active = FALSE
		WHERE owner_user_id = $1 AND code = $2 AND active`

	deleteOwnerCouponsSQL = `DELETE FROM coupons WHERE owner_user_id = $1`

	insertCouponSQL = `INSERT INTO coupons (code, owner_user_id, discount_percentage, expires_at, active)
		VALUES ($1, $2, $3, $4, $5)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository stores coupons keyed by (owner, code).
type CouponRepository struct {
	pool *pgxpool.Pool
}

func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func (r *CouponRepository) FindByCode(ctx context.Context, code, owner string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findCouponSQL, owner, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// Deactivate flips active to false. Zero affected rows is not an error.
func (r *CouponRepository) Deactivate(ctx context.Context, code, owner string) error {
	if _, err := r.pool.Exec(ctx, deactivateCouponSQL, owner, code); err != nil {
		return errors.Wrapf(err, "deactivate coupon %q", code)
	}
	return nil
}

// ReplaceForOwner deletes the owner's coupons and inserts c in a single
// transaction.
func (r *CouponRepository) ReplaceForOwner(ctx context.Context, c *coupon.Coupon) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteOwnerCouponsSQL, c.OwnerUserID); err != nil {
			return errors.Wrap(err, "delete previous")
		}
		if _, err := tx.Exec(ctx, insertCouponSQL,
			c.Code, c.OwnerUserID, c.DiscountPercentage, c.ExpiresAt, c.Active,
		); err != nil {
			return errors.Wrap(err, "insert")
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "replace coupon for %q", c.OwnerUserID)
	}
	return nil
}

// GetByOwner prefers an active coupon, then the latest expiring one.
func (r *CouponRepository) GetByOwner(ctx context.Context, owner string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, couponByOwnerSQL, owner)
	if err != nil {
		return nil, errors.Wrap(err, "get coupon by owner")
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrap(err, "get coupon by owner")
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.Code, &c.OwnerUserID, &c.DiscountPercentage, &c.ExpiresAt, &c.Active)
	return c, err
}
