// Package account implements customer stored-value accounts: advisory
// affordability quotes and the authoritative debit performed at commit time.
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/tillworks/till/internal/domain/money"
)

// Status is the lifecycle state of a customer account.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Sentinel errors for account validation.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountInactive = errors.New("account inactive")
	ErrInvalidAmount   = errors.New("amount must be greater than 0")

	// ErrConcurrencyConflict is returned when the authoritative debit loses a
	// version race. The caller must re-quote against fresh state; retrying
	// the stale amount is never safe.
	ErrConcurrencyConflict = errors.New("account modified concurrently")
)

// ExceedsCreditLimitError indicates the requested amount cannot be covered by
// balance plus credit line. It carries the figures the point of sale needs to
// offer a split payment instead.
type ExceedsCreditLimitError struct {
	MaxPossiblePayment         money.Money
	RemainingNeedsOtherPayment money.Money
}

func (e *ExceedsCreditLimitError) Error() string {
	return fmt.Sprintf("exceeds credit limit: at most %s available, %s needs another payment method",
		e.MaxPossiblePayment, e.RemainingNeedsOtherPayment)
}

// Account is a customer's stored-value account. Balance may be negative
// within the credit line. Version supports optimistic concurrency control on
// debits; it is never interpreted, only compared.
type Account struct {
	ID          string
	Balance     money.Money
	CreditLimit money.Money
	Status      Status
	Version     int64
}

// Available returns the total spendable amount: max(0, balance + creditLimit).
func (a *Account) Available() money.Money {
	available := a.Balance.Amount + a.CreditLimit.Amount
	if available < 0 {
		available = 0
	}
	return money.New(available, a.Balance.Currency)
}

// Movement is an immutable audit record of one authoritative debit.
type Movement struct {
	ID          string
	AccountID   string
	SaleRef     string
	Amount      money.Money
	FromBalance money.Money
	FromCredit  money.Money
	CreatedAt   time.Time
}

// Repository defines persistence operations for customer accounts.
type Repository interface {
	// Get fetches an account with its current version.
	// Returns ErrAccountNotFound when no such account exists.
	Get(ctx context.Context, id string) (*Account, error)

	// DebitCAS writes newBalance and records the movement, but only if the
	// stored version still equals expectedVersion. Returns
	// ErrConcurrencyConflict when the version moved underneath us.
	DebitCAS(ctx context.Context, id string, expectedVersion int64, newBalance money.Money, mv Movement) error
}
