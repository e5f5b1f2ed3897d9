package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tillworks/till/internal/domain/sale"
)

const createSaleSQL = `INSERT INTO sales
	(id, branch_ref, customer_ref, items, discount, total, change, currency, payment_status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const createAllocationSQL = `INSERT INTO sale_allocations
	(sale_ref, position, method, amount, currency, customer_ref)
	VALUES ($1, $2, $3, $4, $5, $6)`

const markPaymentStatusSQL = `UPDATE sales SET payment_status = $2 WHERE id = $1`

const createRefundSQL = `INSERT INTO refunds
	(id, sale_ref, amount, currency, method, reason, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

var _ sale.Repository = (*SaleRepository)(nil)

// SaleRepository implements sale.Repository backed by PostgreSQL.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// Create persists the sale with its allocation set in one transaction. The
// line items are serialized to JSON for storage in the JSONB column.
func (r *SaleRepository) Create(ctx context.Context, s *sale.Sale) error {
	itemsJSON, err := json.Marshal(s.Items)
	if err != nil {
		return fmt.Errorf("marshaling sale items: %w", err)
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, createSaleSQL,
			s.ID, s.BranchRef, s.CustomerRef, itemsJSON,
			s.Discount.Amount, s.Total.Amount, s.Change.Amount, s.Total.Currency,
			s.PaymentStatus, s.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("creating sale %q: %w", s.ID, err)
		}

		for i, a := range s.Allocations {
			_, err := tx.Exec(ctx, createAllocationSQL,
				s.ID, i, a.Method, a.Amount.Amount, a.Amount.Currency, a.CustomerRef,
			)
			if err != nil {
				return fmt.Errorf("creating allocation %d of sale %q: %w", i, s.ID, err)
			}
		}
		return nil
	})
	return classify(err)
}

// MarkPaymentStatus updates the payment status of an existing sale.
func (r *SaleRepository) MarkPaymentStatus(ctx context.Context, id string, status sale.PaymentStatus) error {
	tag, err := r.pool.Exec(ctx, markPaymentStatusSQL, id, status)
	if err != nil {
		return classify(fmt.Errorf("marking sale %q %s: %w", id, status, err))
	}
	if tag.RowsAffected() == 0 {
		return sale.ErrSaleNotFound
	}
	return nil
}

// CreateRefund persists a refund against an existing sale.
func (r *SaleRepository) CreateRefund(ctx context.Context, rf *sale.Refund) error {
	_, err := r.pool.Exec(ctx, createRefundSQL,
		rf.ID, rf.SaleRef, rf.Amount.Amount, rf.Amount.Currency,
		rf.Method, rf.Reason, rf.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return sale.ErrSaleNotFound
		}
		return classify(fmt.Errorf("creating refund for sale %q: %w", rf.SaleRef, err))
	}
	return nil
}
