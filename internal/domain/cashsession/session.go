// Package cashsession tracks per-branch cash sessions: an opening float,
// running per-method sale and refund totals, and the end-of-day count with its
// variance against the expected amount.
package cashsession

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
)

// Status is the lifecycle state of a cash session.
// Transitions are strictly active -> closed -> reconciled.
type Status string

const (
	StatusActive     Status = "active"
	StatusClosed     Status = "closed"
	StatusReconciled Status = "reconciled"
)

// Sentinel errors for cash-session operations.
var (
	ErrSessionNotFound      = errors.New("cash session not found")
	ErrSessionAlreadyActive = errors.New("branch already has an active session")
	ErrNoActiveSession      = errors.New("branch has no active session")
	ErrSessionAlreadyClosed = errors.New("session already closed")
	ErrSessionNotClosed     = errors.New("session is not closed")
	ErrSessionReconciled    = errors.New("session already reconciled")
	ErrInvalidOpeningFloat  = errors.New("opening float must not be negative")
	ErrInvalidExpense       = errors.New("expense amount must be greater than 0")
	ErrNoVariance           = errors.New("session has no variance to record")
)

// Classification buckets a variance by magnitude.
type Classification string

const (
	ClassificationExact       Classification = "exact"
	ClassificationMinor       Classification = "minor"
	ClassificationSignificant Classification = "significant"
)

// VarianceType is the direction of a non-zero variance.
type VarianceType string

const (
	VarianceOverage  VarianceType = "overage"
	VarianceShortage VarianceType = "shortage"
)

// Expense is cash taken from the drawer during a session (petty cash,
// supplier COD and the like), counted against the expected amount.
type Expense struct {
	ID          string      `json:"id"`
	SessionRef  string      `json:"sessionRef"`
	Description string      `json:"description"`
	Amount      money.Money `json:"amount"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// VarianceRecord is the immutable record of a counted-vs-expected difference.
type VarianceRecord struct {
	ID             string         `json:"id"`
	SessionRef     string         `json:"sessionRef"`
	Type           VarianceType   `json:"type"`
	Amount         money.Money    `json:"amount"`
	Classification Classification `json:"classification"`
	Notes          string         `json:"notes,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

func (r *VarianceRecord) String() string {
	return fmt.Sprintf("%s of %s (%s)", r.Type, r.Amount, r.Classification)
}

// Session is one branch's drawer lifecycle from float-in to reconciliation.
type Session struct {
	ID           string      `json:"id"`
	BranchRef    string      `json:"branchRef"`
	CashierRef   string      `json:"cashierRef"`
	OpeningFloat money.Money `json:"openingFloat"`

	SalesByMethod   map[payment.Method]money.Money `json:"salesByMethod"`
	RefundsByMethod map[payment.Method]money.Money `json:"refundsByMethod"`
	Expenses        []Expense                      `json:"expenses,omitempty"`

	// Set at close.
	DeclaredAmount money.Money `json:"declaredAmount"`
	ExpectedAmount money.Money `json:"expectedAmount"`
	CashExpected   money.Money `json:"cashExpected"`
	Variance       money.Money `json:"variance"`
	Notes          string      `json:"notes,omitempty"`

	Status   Status     `json:"status"`
	OpenedAt time.Time  `json:"openedAt"`
	ClosedAt *time.Time `json:"closedAt,omitempty"`
}

// SalesTotal sums the session's sale takings across all methods.
func (s *Session) SalesTotal() money.Money {
	return s.sumMethods(s.SalesByMethod)
}

// RefundsTotal sums the session's refunds across all methods.
func (s *Session) RefundsTotal() money.Money {
	return s.sumMethods(s.RefundsByMethod)
}

// ExpensesTotal sums the session's drawer expenses.
func (s *Session) ExpensesTotal() money.Money {
	total := int64(0)
	for _, e := range s.Expenses {
		total += e.Amount.Amount
	}
	return money.New(total, s.OpeningFloat.Currency)
}

func (s *Session) sumMethods(byMethod map[payment.Method]money.Money) money.Money {
	total := int64(0)
	for _, m := range byMethod {
		total += m.Amount
	}
	return money.New(total, s.OpeningFloat.Currency)
}

// Repository defines persistence operations for cash sessions.
type Repository interface {
	// Create returns ErrSessionAlreadyActive when the branch already has an
	// active session.
	Create(ctx context.Context, s *Session) error

	// Get returns ErrSessionNotFound when no such session exists.
	Get(ctx context.Context, id string) (*Session, error)

	// GetActive returns ErrNoActiveSession when the branch has none.
	GetActive(ctx context.Context, branchRef string) (*Session, error)

	// AddSaleTotals accumulates per-method sale takings onto the session.
	AddSaleTotals(ctx context.Context, id string, totals map[payment.Method]money.Money) error

	// AddRefundTotals accumulates a refund onto the session.
	AddRefundTotals(ctx context.Context, id string, method payment.Method, amount money.Money) error

	// Close persists the session's declared, expected and variance figures,
	// its expenses and its closed status in one write.
	Close(ctx context.Context, s *Session) error

	MarkReconciled(ctx context.Context, id string, notes string) error

	CreateVariance(ctx context.Context, r *VarianceRecord) error
}
