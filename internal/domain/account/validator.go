package account

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/tillworks/till/internal/domain/money"
)

// Quote is the valid outcome of an affordability check: how the requested
// amount splits across the stored balance and the credit line, and where the
// balance lands afterwards. Quotes are advisory; only Debit moves money.
type Quote struct {
	AmountFromBalance      money.Money
	AmountFromCredit       money.Money
	NewBalanceAfterPayment money.Money
}

// Quoter produces advisory affordability quotes.
type Quoter interface {
	Quote(ctx context.Context, customerRef string, amount money.Money) (Quote, error)
}

// Debiter performs the authoritative debit at commit time.
type Debiter interface {
	Debit(ctx context.Context, customerRef string, amount money.Money, saleRef string) (Quote, error)
}

// Validator implements Quoter and Debiter against a Repository.
//
// The quote/debit split exists because UI-facing quotes must not be trusted
// for final money movement: the same customer may transact at two branches at
// once, so Debit re-runs the full affordability check against current stored
// state inside a compare-and-set.
type Validator struct {
	accounts Repository
	now      func() time.Time
}

// NewValidator creates a Validator backed by the given repository.
func NewValidator(accounts Repository) *Validator {
	return &Validator{accounts: accounts, now: time.Now}
}

// Quote fetches the account and evaluates affordability of amount.
func (v *Validator) Quote(ctx context.Context, customerRef string, amount money.Money) (Quote, error) {
	acc, err := v.accounts.Get(ctx, customerRef)
	if err != nil {
		return Quote{}, errors.Wrapf(err, "get account %s", customerRef)
	}
	return evaluate(acc, amount)
}

// Debit re-validates amount against the current stored balance and applies it
// with a version compare-and-set. On ErrConcurrencyConflict the caller must
// obtain a fresh quote before trying again.
func (v *Validator) Debit(ctx context.Context, customerRef string, amount money.Money, saleRef string) (Quote, error) {
	acc, err := v.accounts.Get(ctx, customerRef)
	if err != nil {
		return Quote{}, errors.Wrapf(err, "get account %s", customerRef)
	}

	q, err := evaluate(acc, amount)
	if err != nil {
		return Quote{}, err
	}

	mv := Movement{
		ID:          uuid.New().String(),
		AccountID:   acc.ID,
		SaleRef:     saleRef,
		Amount:      amount,
		FromBalance: q.AmountFromBalance,
		FromCredit:  q.AmountFromCredit,
		CreatedAt:   v.now(),
	}
	if err := v.accounts.DebitCAS(ctx, acc.ID, acc.Version, q.NewBalanceAfterPayment, mv); err != nil {
		return Quote{}, errors.Wrapf(err, "debit account %s for sale %s", acc.ID, saleRef)
	}

	return q, nil
}

// evaluate runs the affordability ladder against a fetched account snapshot.
//
//  1. inactive account -> ErrAccountInactive
//  2. non-positive amount -> ErrInvalidAmount
//  3. amount <= balance: fully from balance
//  4. amount <= balance+creditLimit: remainder from credit, balance may go
//     negative within the credit line
//  5. otherwise -> ExceedsCreditLimitError with the split the till can offer
func evaluate(acc *Account, amount money.Money) (Quote, error) {
	if acc.Status != StatusActive {
		return Quote{}, errors.Wrapf(ErrAccountInactive, "account %s", acc.ID)
	}
	if !amount.SameCurrency(acc.Balance) {
		return Quote{}, errors.Wrapf(money.ErrCurrencyMismatch,
			"account %s holds %s, payment is %s", acc.ID, acc.Balance.Currency, amount.Currency)
	}
	if !amount.IsPositive() {
		return Quote{}, ErrInvalidAmount
	}

	currency := acc.Balance.Currency
	available := acc.Available()

	if amount.Amount <= acc.Balance.Amount {
		return Quote{
			AmountFromBalance:      amount,
			AmountFromCredit:       money.Zero(currency),
			NewBalanceAfterPayment: money.New(acc.Balance.Amount-amount.Amount, currency),
		}, nil
	}

	if amount.Amount <= available.Amount {
		fromBalance := acc.Balance.Amount
		if fromBalance < 0 {
			fromBalance = 0
		}
		return Quote{
			AmountFromBalance:      money.New(fromBalance, currency),
			AmountFromCredit:       money.New(amount.Amount-fromBalance, currency),
			NewBalanceAfterPayment: money.New(acc.Balance.Amount-amount.Amount, currency),
		}, nil
	}

	return Quote{}, &ExceedsCreditLimitError{
		MaxPossiblePayment:         available,
		RemainingNeedsOtherPayment: money.New(amount.Amount-available.Amount, currency),
	}
}
