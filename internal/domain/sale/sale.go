// Package sale defines the sale draft finalized for payment, the immutable
// committed sale record, and the committer that turns a completed allocation
// set into durable state.
package sale

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
)

// Sentinel errors for draft construction and commit.
var (
	ErrEmptyItems        = errors.New("items required")
	ErrInvalidQuantity   = errors.New("quantity must be greater than 0")
	ErrLineTotalMismatch = errors.New("line total does not equal quantity * unit price")
	ErrInvalidDiscount   = errors.New("discount must not be negative or exceed the item total")
	ErrIncompletePayment = errors.New("allocations do not cover the sale total")
	ErrInvalidRefund     = errors.New("refund amount must be greater than 0")
	ErrSaleNotFound      = errors.New("sale not found")
)

// LineItem is one cart line with its pre-computed pricing. Tax is part of the
// unit price; this core never computes tax.
type LineItem struct {
	ProductRef string      `json:"product_ref"`
	Name       string      `json:"name"`
	Quantity   int         `json:"quantity"`
	UnitPrice  money.Money `json:"unit_price"`
	LineTotal  money.Money `json:"line_total"`
}

// Draft is a cart finalized for payment: a request-scoped value passed into
// the settlement operations, never ambient state. It is superseded by the
// committed sale or simply discarded on abandonment; abandonment has no
// durable side effects.
type Draft struct {
	BranchRef   string
	CustomerRef string
	Items       []LineItem
	Discount    money.Money
	TotalDue    money.Money
}

// NewDraft validates the cart lines and computes the total due:
// sum of line totals minus discount.
func NewDraft(branchRef, customerRef string, items []LineItem, discount money.Money) (Draft, error) {
	if len(items) == 0 {
		return Draft{}, ErrEmptyItems
	}

	currency := discount.Currency
	var sum int64
	for _, item := range items {
		if item.Quantity <= 0 {
			return Draft{}, errors.Wrapf(ErrInvalidQuantity, "product %s", item.ProductRef)
		}
		if !item.UnitPrice.SameCurrency(discount) || !item.LineTotal.SameCurrency(discount) {
			return Draft{}, errors.Wrapf(money.ErrCurrencyMismatch, "product %s", item.ProductRef)
		}
		if item.LineTotal.Amount != item.UnitPrice.Amount*int64(item.Quantity) {
			return Draft{}, errors.Wrapf(ErrLineTotalMismatch, "product %s", item.ProductRef)
		}
		sum += item.LineTotal.Amount
	}

	if discount.IsNegative() || discount.Amount > sum {
		return Draft{}, errors.Wrapf(ErrInvalidDiscount, "discount %s against items %s",
			discount, money.New(sum, currency))
	}

	return Draft{
		BranchRef:   branchRef,
		CustomerRef: customerRef,
		Items:       items,
		Discount:    discount,
		TotalDue:    money.New(sum-discount.Amount, currency),
	}, nil
}

// PaymentStatus tracks whether the committed sale's money movement fully
// succeeded.
type PaymentStatus string

const (
	// PaymentPending: sale row exists, account debits not yet applied.
	PaymentPending PaymentStatus = "pending"
	// PaymentPaid: all legs settled.
	PaymentPaid PaymentStatus = "paid"
	// PaymentNeedsReconciliation: the sale record exists but a subsequent
	// account debit failed. Requires manual follow-up; never silently paid.
	PaymentNeedsReconciliation PaymentStatus = "needs_reconciliation"
)

// Sale is the immutable committed record of a settled draft.
type Sale struct {
	ID            string
	BranchRef     string
	CustomerRef   string
	Items         []LineItem
	Discount      money.Money
	Total         money.Money
	Change        money.Money
	Allocations   []payment.Allocation
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

// Refund is a post-sale reversal of part or all of a sale's value.
type Refund struct {
	ID        string
	SaleRef   string
	Amount    money.Money
	Method    payment.Method
	Reason    string
	CreatedAt time.Time
}

// Repository defines persistence operations for sales.
type Repository interface {
	// Create persists the sale with its allocation set and items atomically.
	Create(ctx context.Context, s *Sale) error

	// MarkPaymentStatus updates the payment status of an existing sale.
	MarkPaymentStatus(ctx context.Context, id string, status PaymentStatus) error

	// CreateRefund persists a refund against an existing sale.
	// Returns ErrSaleNotFound when the sale does not exist.
	CreateRefund(ctx context.Context, r *Refund) error
}

// SessionRecorder feeds committed movement totals into the branch's active
// cash session. Implemented by the cash-session reconciler.
type SessionRecorder interface {
	RecordSale(ctx context.Context, branchRef string, totals map[payment.Method]money.Money) error
	RecordRefund(ctx context.Context, branchRef string, method payment.Method, amount money.Money) error
}
