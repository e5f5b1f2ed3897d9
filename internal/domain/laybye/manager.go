package laybye

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
	"github.com/tillworks/till/internal/domain/sale"
)

// Manager creates and tracks laybye orders under a store policy.
type Manager struct {
	policy Policy
	orders Repository
	lg     *zap.Logger
	now    func() time.Time
}

// NewManager creates a Manager with the given policy and repository.
func NewManager(policy Policy, orders Repository, lg *zap.Logger) *Manager {
	return &Manager{
		policy: policy,
		orders: orders,
		lg:     lg,
		now:    time.Now,
	}
}

// CreateOrder opens a laybye order from a finalized draft.
//
// The deposit itself is settled through the normal payment allocator as a
// payment of exactly the deposit amount; this method only validates the
// deposit against policy and records the order.
func (m *Manager) CreateOrder(ctx context.Context, draft sale.Draft, deposit money.Money, dueDate time.Time) (*Order, error) {
	if m.policy.RequireCustomer && draft.CustomerRef == "" {
		return nil, ErrMissingCustomer
	}

	total := draft.TotalDue
	if !deposit.SameCurrency(total) {
		return nil, errors.Wrapf(money.ErrCurrencyMismatch,
			"order is %s, deposit is %s", total.Currency, deposit.Currency)
	}
	if !deposit.IsPositive() || deposit.Amount >= total.Amount {
		return nil, errors.Wrapf(ErrInvalidDeposit, "deposit %s against total %s", deposit, total)
	}

	minimum := total.MulPercent(m.policy.MinDepositPercentage)
	if deposit.Amount < minimum.Amount {
		return nil, &DepositBelowMinimumError{Deposit: deposit, Minimum: minimum}
	}

	now := m.now()
	earliest := now.Add(m.policy.MinimumLeadTime)
	if dueDate.Before(earliest) {
		return nil, &DueDateTooSoonError{DueDate: dueDate, Earliest: earliest}
	}

	o := &Order{
		ID:                uuid.New().String(),
		CustomerRef:       draft.CustomerRef,
		BranchRef:         draft.BranchRef,
		Items:             draft.Items,
		Total:             total,
		DepositAmount:     deposit,
		RemainingBalance:  money.New(total.Amount-deposit.Amount, total.Currency),
		MinDepositPercent: m.policy.MinDepositPercentage,
		DueDate:           dueDate,
		Status:            StatusOpen,
		CreatedAt:         now,
	}
	if err := m.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create laybye order")
	}

	return o, nil
}

// AddPayment applies a payment against the order's remaining balance.
// Paying the balance down to zero transitions the order to paid_off.
func (m *Manager) AddPayment(ctx context.Context, orderID string, amount money.Money, method payment.Method) (*Order, error) {
	o, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "get laybye order %s", orderID)
	}
	if !o.Payable() {
		return nil, errors.Wrapf(ErrOrderNotPayable, "order %s is %s", o.ID, o.Status)
	}
	if !amount.SameCurrency(o.Total) {
		return nil, errors.Wrapf(money.ErrCurrencyMismatch,
			"order is %s, payment is %s", o.Total.Currency, amount.Currency)
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidPayment
	}
	if amount.Amount > o.RemainingBalance.Amount {
		return nil, errors.Wrapf(ErrPaymentExceedsBalance,
			"payment %s against balance %s", amount, o.RemainingBalance)
	}

	newBalance := money.New(o.RemainingBalance.Amount-amount.Amount, o.Total.Currency)
	newStatus := StatusPartiallyPaid
	if newBalance.IsZero() {
		newStatus = StatusPaidOff
	}

	p := Payment{
		ID:        uuid.New().String(),
		OrderRef:  o.ID,
		Amount:    amount,
		Method:    method,
		CreatedAt: m.now(),
	}
	if err := m.orders.AddPayment(ctx, p, newBalance, newStatus); err != nil {
		return nil, errors.Wrapf(err, "add payment to laybye order %s", o.ID)
	}

	o.RemainingBalance = newBalance
	o.Status = newStatus
	return o, nil
}

// Cancel cancels an order that has not been paid off or expired.
func (m *Manager) Cancel(ctx context.Context, orderID string) (*Order, error) {
	o, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "get laybye order %s", orderID)
	}
	if !o.Payable() {
		return nil, errors.Wrapf(ErrOrderNotCancellable, "order %s is %s", o.ID, o.Status)
	}

	if err := m.orders.UpdateStatus(ctx, o.ID, StatusCancelled); err != nil {
		return nil, errors.Wrapf(err, "cancel laybye order %s", o.ID)
	}
	o.Status = StatusCancelled
	return o, nil
}

// ExpireOverdue expires every payable order whose due date has passed with a
// balance outstanding. Returns the number of orders expired. Driven by a
// periodic sweep in the application wiring.
func (m *Manager) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := m.orders.ListOverdue(ctx, m.now())
	if err != nil {
		return 0, errors.Wrap(err, "list overdue laybye orders")
	}

	expired := 0
	for _, o := range overdue {
		if err := m.orders.UpdateStatus(ctx, o.ID, StatusExpired); err != nil {
			m.lg.Warn("expire laybye order",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	return expired, nil
}
