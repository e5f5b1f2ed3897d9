package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tillworks/till/internal/domain/cashsession"
	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
)

const createSessionSQL = `INSERT INTO cash_sessions
	(id, branch_ref, cashier_ref, opening_float, currency, sales_by_method,
	 refunds_by_method, status, opened_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const getSessionSQL = `SELECT id, branch_ref, cashier_ref, opening_float, currency,
	sales_by_method, refunds_by_method, declared, expected, cash_expected, variance,
	notes, status, opened_at, closed_at
	FROM cash_sessions WHERE id = $1`

const getActiveSessionSQL = `SELECT id, branch_ref, cashier_ref, opening_float, currency,
	sales_by_method, refunds_by_method, declared, expected, cash_expected, variance,
	notes, status, opened_at, closed_at
	FROM cash_sessions WHERE branch_ref = $1 AND status = 'active'`

const lockSessionTotalsSQL = `SELECT sales_by_method, refunds_by_method
	FROM cash_sessions WHERE id = $1 FOR UPDATE`

const updateSessionTotalsSQL = `UPDATE cash_sessions
	SET sales_by_method = $2, refunds_by_method = $3 WHERE id = $1`

const closeSessionSQL = `UPDATE cash_sessions
	SET declared = $2, expected = $3, cash_expected = $4, variance = $5,
	    notes = $6, status = 'closed', closed_at = $7
	WHERE id = $1 AND status = 'active'`

const createExpenseSQL = `INSERT INTO cash_expenses
	(id, session_ref, description, amount, currency, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

const getExpensesSQL = `SELECT id, session_ref, description, amount, currency, created_at
	FROM cash_expenses WHERE session_ref = $1 ORDER BY created_at`

const reconcileSessionSQL = `UPDATE cash_sessions
	SET status = 'reconciled', notes = CASE WHEN $2 = '' THEN notes ELSE $2 END
	WHERE id = $1 AND status = 'closed'`

const createVarianceSQL = `INSERT INTO variance_records
	(id, session_ref, type, amount, currency, classification, notes, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

var _ cashsession.Repository = (*SessionRepository)(nil)

// SessionRepository implements cashsession.Repository backed by PostgreSQL.
// Per-method totals live in JSONB columns; the partial unique index on
// (branch_ref) WHERE status = 'active' enforces one active session per branch
// even when two opens race past the reconciler's pre-check.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create persists a new active session.
func (r *SessionRepository) Create(ctx context.Context, s *cashsession.Session) error {
	salesJSON, refundsJSON, err := marshalTotals(s)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, createSessionSQL,
		s.ID, s.BranchRef, s.CashierRef,
		s.OpeningFloat.Amount, s.OpeningFloat.Currency,
		salesJSON, refundsJSON, s.Status, s.OpenedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_cash_sessions_active") {
			return cashsession.ErrSessionAlreadyActive
		}
		return classify(fmt.Errorf("creating session %q: %w", s.ID, err))
	}
	return nil
}

// Get fetches a session with its expenses.
func (r *SessionRepository) Get(ctx context.Context, id string) (*cashsession.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, getSessionSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cashsession.ErrSessionNotFound
		}
		return nil, classify(fmt.Errorf("getting session %q: %w", id, err))
	}
	if err := r.loadExpenses(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetActive fetches the branch's active session.
func (r *SessionRepository) GetActive(ctx context.Context, branchRef string) (*cashsession.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, getActiveSessionSQL, branchRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cashsession.ErrNoActiveSession
		}
		return nil, classify(fmt.Errorf("getting active session for branch %q: %w", branchRef, err))
	}
	return s, nil
}

// AddSaleTotals accumulates per-method sale takings onto the session.
func (r *SessionRepository) AddSaleTotals(ctx context.Context, id string, totals map[payment.Method]money.Money) error {
	return r.mergeTotals(ctx, id, func(sales, refunds map[payment.Method]money.Money) {
		for method, amount := range totals {
			cur := sales[method]
			sales[method] = money.New(cur.Amount+amount.Amount, amount.Currency)
		}
	})
}

// AddRefundTotals accumulates a refund onto the session.
func (r *SessionRepository) AddRefundTotals(ctx context.Context, id string, method payment.Method, amount money.Money) error {
	return r.mergeTotals(ctx, id, func(sales, refunds map[payment.Method]money.Money) {
		cur := refunds[method]
		refunds[method] = money.New(cur.Amount+amount.Amount, amount.Currency)
	})
}

// mergeTotals applies merge to the session's totals under a row lock.
func (r *SessionRepository) mergeTotals(ctx context.Context, id string, merge func(sales, refunds map[payment.Method]money.Money)) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var salesJSON, refundsJSON []byte
		err := tx.QueryRow(ctx, lockSessionTotalsSQL, id).Scan(&salesJSON, &refundsJSON)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return cashsession.ErrSessionNotFound
			}
			return fmt.Errorf("locking session %q: %w", id, err)
		}

		sales, err := unmarshalMethodTotals(salesJSON)
		if err != nil {
			return err
		}
		refunds, err := unmarshalMethodTotals(refundsJSON)
		if err != nil {
			return err
		}
		merge(sales, refunds)

		salesJSON, err = json.Marshal(sales)
		if err != nil {
			return fmt.Errorf("marshaling session totals: %w", err)
		}
		refundsJSON, err = json.Marshal(refunds)
		if err != nil {
			return fmt.Errorf("marshaling session totals: %w", err)
		}

		if _, err := tx.Exec(ctx, updateSessionTotalsSQL, id, salesJSON, refundsJSON); err != nil {
			return fmt.Errorf("updating session %q totals: %w", id, err)
		}
		return nil
	})
	if errors.Is(err, cashsession.ErrSessionNotFound) {
		return err
	}
	return classify(err)
}

// Close persists the counted-out session and its expenses in one transaction.
func (r *SessionRepository) Close(ctx context.Context, s *cashsession.Session) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, closeSessionSQL,
			s.ID, s.DeclaredAmount.Amount, s.ExpectedAmount.Amount,
			s.CashExpected.Amount, s.Variance.Amount, s.Notes, s.ClosedAt,
		)
		if err != nil {
			return fmt.Errorf("closing session %q: %w", s.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return cashsession.ErrSessionAlreadyClosed
		}

		for _, e := range s.Expenses {
			_, err := tx.Exec(ctx, createExpenseSQL,
				e.ID, e.SessionRef, e.Description, e.Amount.Amount, e.Amount.Currency, e.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("recording expense %q: %w", e.ID, err)
			}
		}
		return nil
	})
	if errors.Is(err, cashsession.ErrSessionAlreadyClosed) {
		return err
	}
	return classify(err)
}

// MarkReconciled moves a closed session to reconciled.
func (r *SessionRepository) MarkReconciled(ctx context.Context, id string, notes string) error {
	tag, err := r.pool.Exec(ctx, reconcileSessionSQL, id, notes)
	if err != nil {
		return classify(fmt.Errorf("reconciling session %q: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return cashsession.ErrSessionNotClosed
	}
	return nil
}

// CreateVariance writes the immutable variance record.
func (r *SessionRepository) CreateVariance(ctx context.Context, rec *cashsession.VarianceRecord) error {
	_, err := r.pool.Exec(ctx, createVarianceSQL,
		rec.ID, rec.SessionRef, rec.Type, rec.Amount.Amount, rec.Amount.Currency,
		rec.Classification, rec.Notes, rec.CreatedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("recording variance for session %q: %w", rec.SessionRef, err))
	}
	return nil
}

func (r *SessionRepository) loadExpenses(ctx context.Context, s *cashsession.Session) error {
	rows, err := r.pool.Query(ctx, getExpensesSQL, s.ID)
	if err != nil {
		return classify(fmt.Errorf("loading expenses for session %q: %w", s.ID, err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e        cashsession.Expense
			amount   int64
			currency string
		)
		if err := rows.Scan(&e.ID, &e.SessionRef, &e.Description, &amount, &currency, &e.CreatedAt); err != nil {
			return fmt.Errorf("scanning expense: %w", err)
		}
		e.Amount = money.New(amount, currency)
		s.Expenses = append(s.Expenses, e)
	}
	return classify(rows.Err())
}

func marshalTotals(s *cashsession.Session) (sales, refunds []byte, err error) {
	sales, err = json.Marshal(s.SalesByMethod)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling session totals: %w", err)
	}
	refunds, err = json.Marshal(s.RefundsByMethod)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling session totals: %w", err)
	}
	return sales, refunds, nil
}

func unmarshalMethodTotals(data []byte) (map[payment.Method]money.Money, error) {
	totals := make(map[payment.Method]money.Money)
	if len(data) == 0 {
		return totals, nil
	}
	if err := json.Unmarshal(data, &totals); err != nil {
		return nil, fmt.Errorf("unmarshaling session totals: %w", err)
	}
	return totals, nil
}

func scanSession(row pgx.Row) (*cashsession.Session, error) {
	var (
		s                                     cashsession.Session
		opening                               int64
		currency                              string
		salesJSON, refundsJSON                []byte
		declared, expected, cashExp, variance *int64
		closedAt                              *time.Time
	)
	err := row.Scan(
		&s.ID, &s.BranchRef, &s.CashierRef, &opening, &currency,
		&salesJSON, &refundsJSON, &declared, &expected, &cashExp, &variance,
		&s.Notes, &s.Status, &s.OpenedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	s.OpeningFloat = money.New(opening, currency)
	if s.SalesByMethod, err = unmarshalMethodTotals(salesJSON); err != nil {
		return nil, err
	}
	if s.RefundsByMethod, err = unmarshalMethodTotals(refundsJSON); err != nil {
		return nil, err
	}
	if declared != nil {
		s.DeclaredAmount = money.New(*declared, currency)
		s.ExpectedAmount = money.New(*expected, currency)
		s.CashExpected = money.New(*cashExp, currency)
		s.Variance = money.New(*variance, currency)
	}
	s.ClosedAt = closedAt
	return &s, nil
}
