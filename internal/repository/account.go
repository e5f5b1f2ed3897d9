package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tillworks/till/internal/domain/account"
	"github.com/tillworks/till/internal/domain/money"
)

const getAccountSQL = `SELECT id, balance, credit_limit, currency, status, version
	FROM customer_accounts WHERE id = $1`

const debitAccountSQL = `UPDATE customer_accounts
	SET balance = $3, version = version + 1, updated_at = now()
	WHERE id = $1 AND version = $2`

const insertMovementSQL = `INSERT INTO account_movements
	(id, account_id, sale_ref, amount, from_balance, from_credit, currency, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

var _ account.Repository = (*AccountRepository)(nil)

// AccountRepository implements account.Repository backed by PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository returns an AccountRepository that uses the given pool.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Get fetches an account with its current version.
func (r *AccountRepository) Get(ctx context.Context, id string) (*account.Account, error) {
	var (
		a              account.Account
		balance, limit int64
		currency       string
	)
	err := r.pool.QueryRow(ctx, getAccountSQL, id).Scan(
		&a.ID, &balance, &limit, &currency, &a.Status, &a.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrAccountNotFound
		}
		return nil, classify(fmt.Errorf("getting account %q: %w", id, err))
	}
	a.Balance = money.New(balance, currency)
	a.CreditLimit = money.New(limit, currency)
	return &a, nil
}

// DebitCAS writes the new balance and the movement in one transaction, but
// only if the stored version still equals expectedVersion.
func (r *AccountRepository) DebitCAS(ctx context.Context, id string, expectedVersion int64, newBalance money.Money, mv account.Movement) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, debitAccountSQL, id, expectedVersion, newBalance.Amount)
		if err != nil {
			return fmt.Errorf("debiting account %q: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			// Version moved (or the account vanished) between quote and debit.
			return account.ErrConcurrencyConflict
		}

		_, err = tx.Exec(ctx, insertMovementSQL,
			mv.ID, mv.AccountID, mv.SaleRef,
			mv.Amount.Amount, mv.FromBalance.Amount, mv.FromCredit.Amount,
			mv.Amount.Currency, mv.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("recording movement for account %q: %w", id, err)
		}
		return nil
	})
	if errors.Is(err, account.ErrConcurrencyConflict) {
		return err
	}
	return classify(err)
}
