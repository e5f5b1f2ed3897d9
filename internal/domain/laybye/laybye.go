// Package laybye implements deposit-based deferred-payment orders: a customer
// secures goods with a partial deposit and pays the balance off before a
// policy-driven due date.
package laybye

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
	"github.com/tillworks/till/internal/domain/sale"
)

// Status is the lifecycle state of a laybye order.
type Status string

const (
	StatusOpen          Status = "open"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaidOff       Status = "paid_off"
	StatusCancelled     Status = "cancelled"
	StatusExpired       Status = "expired"
)

// Sentinel errors for laybye operations.
var (
	ErrOrderNotFound         = errors.New("laybye order not found")
	ErrMissingCustomer       = errors.New("laybye requires a customer")
	ErrInvalidDeposit        = errors.New("deposit must be positive and less than the total")
	ErrInvalidPayment        = errors.New("payment must be greater than 0")
	ErrPaymentExceedsBalance = errors.New("payment exceeds remaining balance")
	ErrOrderNotPayable       = errors.New("order does not accept payments")
	ErrOrderNotCancellable   = errors.New("order cannot be cancelled")
)

// DepositBelowMinimumError indicates the deposit does not meet the
// policy-derived minimum for the order total.
type DepositBelowMinimumError struct {
	Deposit money.Money
	Minimum money.Money
}

func (e *DepositBelowMinimumError) Error() string {
	return fmt.Sprintf("deposit %s below minimum %s", e.Deposit, e.Minimum)
}

// DueDateTooSoonError indicates the requested due date is inside the policy
// lead time.
type DueDateTooSoonError struct {
	DueDate  time.Time
	Earliest time.Time
}

func (e *DueDateTooSoonError) Error() string {
	return fmt.Sprintf("due date %s before earliest allowed %s",
		e.DueDate.Format(time.DateOnly), e.Earliest.Format(time.DateOnly))
}

// Policy holds the store's laybye rules.
type Policy struct {
	// MinDepositPercentage of the order total, e.g. 20 for 20%.
	MinDepositPercentage decimal.Decimal
	// MinimumLeadTime between creation and the due date.
	MinimumLeadTime time.Duration
	// RequireCustomer rejects anonymous laybye orders.
	RequireCustomer bool
}

// DefaultPolicy returns the store defaults: 20% minimum deposit, due date at
// least 7 days out, customer required.
func DefaultPolicy() Policy {
	return Policy{
		MinDepositPercentage: decimal.NewFromInt(20),
		MinimumLeadTime:      7 * 24 * time.Hour,
		RequireCustomer:      true,
	}
}

// Order is a laybye order.
// Invariant: RemainingBalance = Total - deposit - sum(payments), never negative.
type Order struct {
	ID               string
	CustomerRef      string
	BranchRef        string
	Items            []sale.LineItem
	Total            money.Money
	DepositAmount    money.Money
	RemainingBalance money.Money
	// MinDepositPercent is the policy percentage in force at creation,
	// kept for audit when the store policy changes later.
	MinDepositPercent decimal.Decimal
	DueDate          time.Time
	Status           Status
	CreatedAt        time.Time
}

// Payable reports whether the order accepts further payments.
func (o *Order) Payable() bool {
	return o.Status == StatusOpen || o.Status == StatusPartiallyPaid
}

// Payment is one payment applied against a laybye order after the deposit.
type Payment struct {
	ID        string
	OrderRef  string
	Amount    money.Money
	Method    payment.Method
	CreatedAt time.Time
}

// Repository defines persistence operations for laybye orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error

	// Get returns ErrOrderNotFound when no such order exists.
	Get(ctx context.Context, id string) (*Order, error)

	// AddPayment records the payment and the order's resulting balance and
	// status in one write.
	AddPayment(ctx context.Context, p Payment, newBalance money.Money, newStatus Status) error

	UpdateStatus(ctx context.Context, id string, status Status) error

	// ListOverdue returns payable orders whose due date has passed as of the
	// given time.
	ListOverdue(ctx context.Context, asOf time.Time) ([]*Order, error)
}
