package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
)

const (
	orderColumns = `id, owner_user_id, items, total_minor, coupon_code, payment_method, provider_reference, created_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	orderByReferenceSQL = `SELECT ` + orderColumns + ` FROM orders WHERE provider_reference = $1`
	orderByIDSQL        = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	ordersByOwnerSQL    = `SELECT ` + orderColumns + ` FROM orders
		WHERE owner_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository persists orders. The provider_reference unique constraint
// is what makes reconciliation exactly-once.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts o. A second order for the same provider reference yields
// order.ErrDuplicateReference.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}
	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.OwnerUserID, items, int64(o.Total), o.CouponCode,
		string(o.PaymentMethod), o.ProviderReference, o.CreatedAt,
	)
	if isUniqueViolation(err) {
		return order.ErrDuplicateReference
	}
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

func (r *OrderRepository) GetByProviderReference(ctx context.Context, ref string) (*order.Order, error) {
	return r.getOne(ctx, orderByReferenceSQL, ref)
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, orderByIDSQL, id)
}

// ListByOwner returns the owner's most recent orders first.
func (r *OrderRepository) ListByOwner(ctx context.Context, owner string, limit int) ([]order.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, ordersByOwnerSQL, owner, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return pgx.CollectRows(rows, scanOrder)
}

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		items  []byte
		total  int64
		method string
	)
	if err := row.Scan(
		&o.ID, &o.OwnerUserID, &items, &total, &o.CouponCode,
		&method, &o.ProviderReference, &o.CreatedAt,
	); err != nil {
		return o, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, errors.Wrap(err, "unmarshal order items")
	}
	o.Total = pricing.Amount(total)
	o.PaymentMethod = order.PaymentMethod(method)
	return o, nil
}
