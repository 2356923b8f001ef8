package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/pricing"
)

const (
	createPendingSQL = `INSERT INTO pending_payments
		(reference, owner_user_id, total_minor, items, coupon_code, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getPendingSQL = `SELECT reference, owner_user_id, total_minor, items, coupon_code, phone, created_at
		FROM pending_payments WHERE reference = $1`

	deletePendingSQL = `DELETE FROM pending_payments WHERE reference = $1`
)

var _ checkout.PendingStore = (*PendingRepository)(nil)

// PendingRepository holds initiated mobile-money payments until they are
// reconciled.
type PendingRepository struct {
	pool *pgxpool.Pool
}

func NewPendingRepository(pool *pgxpool.Pool) *PendingRepository {
	return &PendingRepository{pool: pool}
}

func (r *PendingRepository) Create(ctx context.Context, p *checkout.PendingPayment) error {
	items, err := json.Marshal(p.Lines)
	if err != nil {
		return errors.Wrap(err, "marshal pending items")
	}
	_, err = r.pool.Exec(ctx, createPendingSQL,
		p.Reference, p.OwnerUserID, int64(p.Total), items, p.CouponCode, p.Phone, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return checkout.ErrPendingExists
	}
	if err != nil {
		return errors.Wrapf(err, "create pending payment %q", p.Reference)
	}
	return nil
}

func (r *PendingRepository) Get(ctx context.Context, reference string) (*checkout.PendingPayment, error) {
	var (
		p     checkout.PendingPayment
		total int64
		items []byte
	)
	err := r.pool.QueryRow(ctx, getPendingSQL, reference).Scan(
		&p.Reference, &p.OwnerUserID, &total, &items, &p.CouponCode, &p.Phone, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrPendingNotFound
		}
		return nil, errors.Wrapf(err, "get pending payment %q", reference)
	}
	if err := json.Unmarshal(items, &p.Lines); err != nil {
		return nil, errors.Wrap(err, "unmarshal pending items")
	}
	p.Total = pricing.Amount(total)
	return &p, nil
}

func (r *PendingRepository) Delete(ctx context.Context, reference string) error {
	if _, err := r.pool.Exec(ctx, deletePendingSQL, reference); err != nil {
		return errors.Wrapf(err, "delete pending payment %q", reference)
	}
	return nil
}
