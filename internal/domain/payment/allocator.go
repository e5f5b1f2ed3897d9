// Package payment implements split-payment allocation: accumulating payment
// legs against one sale total until it is fully covered, and the settlement
// flow state machine that drives the till UI through that process.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/tillworks/till/internal/domain/account"
	"github.com/tillworks/till/internal/domain/money"
)

// Method enumerates the supported payment methods.
type Method string

const (
	MethodCash        Method = "cash"
	MethodCard        Method = "card"
	MethodMobileMoney Method = "mobile_money"
	MethodAccount     Method = "account"
)

// Valid reports whether m is a known payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodMobileMoney, MethodAccount:
		return true
	}
	return false
}

// Sentinel errors for allocation.
var (
	ErrInvalidAmount         = errors.New("amount must be greater than 0")
	ErrInvalidMethod         = errors.New("unknown payment method")
	ErrAlreadyComplete       = errors.New("payment already complete")
	ErrMissingCustomer       = errors.New("account payment requires a customer")
	ErrOverpaymentNotAllowed = errors.New("only cash may exceed the remaining balance")
	ErrNoSuchAllocation      = errors.New("no such allocation")
)

// Allocation is one payment leg against a sale total. Allocations live only
// in the in-flight Allocator; the final set is persisted as part of the
// committed sale, never individually.
type Allocation struct {
	Method      Method
	Amount      money.Money
	CustomerRef string
}

// Allocator accumulates payment legs against one sale total. It is owned by
// a single terminal's in-flight settlement and is not safe for concurrent
// use; settlement is serialized per terminal.
//
// Invariant: only the cash method may push the allocated sum beyond the
// total, so any excess is change due back to the customer. Change is derived
// from the allocation set, never stored, which keeps Remove consistent.
type Allocator struct {
	totalDue money.Money
	accounts account.Quoter

	allocations []Allocation
}

// NewAllocator creates an Allocator for a sale total. The account quoter is
// consulted for account-method legs before they are accepted.
func NewAllocator(totalDue money.Money, accounts account.Quoter) *Allocator {
	return &Allocator{
		totalDue: totalDue,
		accounts: accounts,
	}
}

// TotalDue returns the sale total this allocator settles.
func (a *Allocator) TotalDue() money.Money { return a.totalDue }

// Remaining returns max(0, totalDue - sum of allocation amounts).
// Pure function of current state.
func (a *Allocator) Remaining() money.Money {
	remaining := a.totalDue.Amount - a.allocated()
	if remaining < 0 {
		remaining = 0
	}
	return money.New(remaining, a.totalDue.Currency)
}

// Change returns the cash change due back to the customer:
// max(0, sum of allocation amounts - totalDue).
func (a *Allocator) Change() money.Money {
	over := a.allocated() - a.totalDue.Amount
	if over < 0 {
		over = 0
	}
	return money.New(over, a.totalDue.Currency)
}

// Complete reports whether the total is fully covered by at least one
// allocation.
func (a *Allocator) Complete() bool {
	return len(a.allocations) > 0 && a.allocated() >= a.totalDue.Amount
}

// Allocations returns a copy of the current allocation set.
func (a *Allocator) Allocations() []Allocation {
	out := make([]Allocation, len(a.allocations))
	copy(out, a.allocations)
	return out
}

// Add appends a payment leg.
//
// Cash tendered above the remaining balance is accepted and yields change;
// every other method must not exceed the remaining balance. Account legs are
// quoted against the customer's balance and credit line first; a failed quote
// is returned unchanged and leaves the allocator untouched.
func (a *Allocator) Add(ctx context.Context, method Method, amount money.Money, customerRef string) error {
	if a.Complete() {
		return ErrAlreadyComplete
	}
	if !method.Valid() {
		return errors.Wrapf(ErrInvalidMethod, "%q", method)
	}
	if !amount.SameCurrency(a.totalDue) {
		return errors.Wrapf(money.ErrCurrencyMismatch,
			"sale is %s, payment is %s", a.totalDue.Currency, amount.Currency)
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	remaining := a.Remaining()
	if amount.Amount > remaining.Amount && method != MethodCash {
		return errors.Wrapf(ErrOverpaymentNotAllowed,
			"%s payment of %s exceeds remaining %s", method, amount, remaining)
	}

	if method == MethodAccount {
		if customerRef == "" {
			return ErrMissingCustomer
		}
		if _, err := a.accounts.Quote(ctx, customerRef, amount); err != nil {
			return err
		}
	}

	a.allocations = append(a.allocations, Allocation{
		Method:      method,
		Amount:      amount,
		CustomerRef: customerRef,
	})
	return nil
}

// Remove deletes the allocation at index. Used for user-driven correction;
// permitted only while the set is still incomplete.
func (a *Allocator) Remove(index int) error {
	if a.Complete() {
		return ErrAlreadyComplete
	}
	if index < 0 || index >= len(a.allocations) {
		return errors.Wrapf(ErrNoSuchAllocation, "index %d of %d", index, len(a.allocations))
	}
	a.allocations = append(a.allocations[:index], a.allocations[index+1:]...)
	return nil
}

// allocated is the gross sum of allocation amounts in minor units.
func (a *Allocator) allocated() int64 {
	var sum int64
	for _, alloc := range a.allocations {
		sum += alloc.Amount.Amount
	}
	return sum
}

// MethodTotals sums an allocation set per method, net of cash change. These
// are the figures fed into the active cash session.
func MethodTotals(allocations []Allocation, change money.Money) map[Method]money.Money {
	totals := make(map[Method]money.Money, len(allocations))
	for _, alloc := range allocations {
		t, ok := totals[alloc.Method]
		if !ok {
			t = money.Zero(alloc.Amount.Currency)
		}
		totals[alloc.Method] = money.New(t.Amount+alloc.Amount.Amount, alloc.Amount.Currency)
	}
	if cash, ok := totals[MethodCash]; ok && change.Amount != 0 {
		totals[MethodCash] = money.New(cash.Amount-change.Amount, cash.Currency)
	}
	return totals
}

// String implements fmt.Stringer for log output.
func (al Allocation) String() string {
	if al.CustomerRef != "" {
		return fmt.Sprintf("%s %s (customer %s)", al.Method, al.Amount, al.CustomerRef)
	}
	return fmt.Sprintf("%s %s", al.Method, al.Amount)
}
