package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tillworks/till/internal/domain/laybye"
	"github.com/tillworks/till/internal/domain/money"
)

const createLaybyeSQL = `INSERT INTO laybye_orders
	(id, customer_ref, branch_ref, items, total, deposit, remaining, currency,
	 min_deposit_percent, due_date, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const getLaybyeSQL = `SELECT id, customer_ref, branch_ref, items, total, deposit,
	remaining, currency, min_deposit_percent, due_date, status, created_at
	FROM laybye_orders WHERE id = $1`

const listOverdueLaybyeSQL = `SELECT id, customer_ref, branch_ref, items, total, deposit,
	remaining, currency, min_deposit_percent, due_date, status, created_at
	FROM laybye_orders
	WHERE status IN ('open', 'partially_paid') AND due_date < $1`

const createLaybyePaymentSQL = `INSERT INTO laybye_payments
	(id, order_ref, amount, currency, method, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

const settleLaybyeSQL = `UPDATE laybye_orders
	SET remaining = $2, status = $3 WHERE id = $1`

const updateLaybyeStatusSQL = `UPDATE laybye_orders SET status = $2 WHERE id = $1`

var _ laybye.Repository = (*LaybyeRepository)(nil)

// LaybyeRepository implements laybye.Repository backed by PostgreSQL.
type LaybyeRepository struct {
	pool *pgxpool.Pool
}

// NewLaybyeRepository returns a LaybyeRepository that uses the given pool.
func NewLaybyeRepository(pool *pgxpool.Pool) *LaybyeRepository {
	return &LaybyeRepository{pool: pool}
}

// Create persists a new laybye order. Items are serialized to JSON for the
// JSONB column; the deposit percentage is stored as NUMERIC.
func (r *LaybyeRepository) Create(ctx context.Context, o *laybye.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling laybye items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createLaybyeSQL,
		o.ID, o.CustomerRef, o.BranchRef, itemsJSON,
		o.Total.Amount, o.DepositAmount.Amount, o.RemainingBalance.Amount, o.Total.Currency,
		o.MinDepositPercent, o.DueDate, o.Status, o.CreatedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("creating laybye order %q: %w", o.ID, err))
	}
	return nil
}

// Get fetches a laybye order by ID.
func (r *LaybyeRepository) Get(ctx context.Context, id string) (*laybye.Order, error) {
	o, err := scanLaybye(r.pool.QueryRow(ctx, getLaybyeSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, laybye.ErrOrderNotFound
		}
		return nil, classify(fmt.Errorf("getting laybye order %q: %w", id, err))
	}
	return o, nil
}

// AddPayment records the payment and the order's resulting balance and status
// in one transaction.
func (r *LaybyeRepository) AddPayment(ctx context.Context, p laybye.Payment, newBalance money.Money, newStatus laybye.Status) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, createLaybyePaymentSQL,
			p.ID, p.OrderRef, p.Amount.Amount, p.Amount.Currency, p.Method, p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("recording laybye payment %q: %w", p.ID, err)
		}

		tag, err := tx.Exec(ctx, settleLaybyeSQL, p.OrderRef, newBalance.Amount, newStatus)
		if err != nil {
			return fmt.Errorf("updating laybye order %q: %w", p.OrderRef, err)
		}
		if tag.RowsAffected() == 0 {
			return laybye.ErrOrderNotFound
		}
		return nil
	})
	if errors.Is(err, laybye.ErrOrderNotFound) {
		return err
	}
	return classify(err)
}

// UpdateStatus sets the order's lifecycle status.
func (r *LaybyeRepository) UpdateStatus(ctx context.Context, id string, status laybye.Status) error {
	tag, err := r.pool.Exec(ctx, updateLaybyeStatusSQL, id, status)
	if err != nil {
		return classify(fmt.Errorf("updating laybye order %q status: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return laybye.ErrOrderNotFound
	}
	return nil
}

// ListOverdue returns payable orders whose due date has passed.
func (r *LaybyeRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]*laybye.Order, error) {
	rows, err := r.pool.Query(ctx, listOverdueLaybyeSQL, asOf)
	if err != nil {
		return nil, classify(fmt.Errorf("listing overdue laybye orders: %w", err))
	}
	defer rows.Close()

	var orders []*laybye.Order
	for rows.Next() {
		o, err := scanLaybye(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning laybye order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("listing overdue laybye orders: %w", err))
	}
	return orders, nil
}

func scanLaybye(row pgx.Row) (*laybye.Order, error) {
	var (
		o                         laybye.Order
		itemsJSON                 []byte
		total, deposit, remaining int64
		currency                  string
		percent                   decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.CustomerRef, &o.BranchRef, &itemsJSON,
		&total, &deposit, &remaining, &currency,
		&percent, &o.DueDate, &o.Status, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling laybye items: %w", err)
	}
	o.Total = money.New(total, currency)
	o.DepositAmount = money.New(deposit, currency)
	o.RemainingBalance = money.New(remaining, currency)
	o.MinDepositPercent = percent
	return &o, nil
}
