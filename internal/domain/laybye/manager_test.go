package laybye

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
	"github.com/tillworks/till/internal/domain/sale"
)

// --- Mock repository ---

type mockOrderRepo struct {
	orders  map[string]*Order
	overdue []*Order

	createErr   error
	lastPayment *Payment
}

func newOrderRepo(orders ...*Order) *mockOrderRepo {
	byID := make(map[string]*Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	return &mockOrderRepo{orders: byID}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) AddPayment(_ context.Context, p Payment, newBalance money.Money, newStatus Status) error {
	m.lastPayment = &p
	o := m.orders[p.OrderRef]
	o.RemainingBalance = newBalance
	o.Status = newStatus
	return nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, status Status) error {
	m.orders[id].Status = status
	return nil
}

func (m *mockOrderRepo) ListOverdue(_ context.Context, _ time.Time) ([]*Order, error) {
	return m.overdue, nil
}

// --- Helpers ---

func zar(minor int64) money.Money { return money.New(minor, "ZAR") }

var testNow = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func testManager(repo Repository) *Manager {
	m := NewManager(DefaultPolicy(), repo, zap.NewNop())
	m.now = func() time.Time { return testNow }
	return m
}

func testDraft(t *testing.T, totalMinor int64, customerRef string) sale.Draft {
	t.Helper()
	d, err := sale.NewDraft("branch-1", customerRef, []sale.LineItem{{
		ProductRef: "p1",
		Quantity:   1,
		UnitPrice:  zar(totalMinor),
		LineTotal:  zar(totalMinor),
	}}, zar(0))
	require.NoError(t, err)
	return d
}

func dueIn(d time.Duration) time.Time { return testNow.Add(d) }

// --- CreateOrder ---

func TestCreateOrder(t *testing.T) {
	repo := newOrderRepo()
	m := testManager(repo)

	o, err := m.CreateOrder(context.Background(), testDraft(t, 50000, "c1"), zar(15000), dueIn(30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, o.Status)
	assert.Equal(t, zar(35000), o.RemainingBalance)
	assert.Equal(t, "c1", o.CustomerRef)
	assert.Contains(t, repo.orders, o.ID)
}

func TestCreateOrder_MissingCustomer(t *testing.T) {
	m := testManager(newOrderRepo())

	_, err := m.CreateOrder(context.Background(), testDraft(t, 50000, ""), zar(15000), dueIn(30*24*time.Hour))
	require.ErrorIs(t, err, ErrMissingCustomer)
}

func TestCreateOrder_InvalidDeposit(t *testing.T) {
	m := testManager(newOrderRepo())
	draft := testDraft(t, 50000, "c1")

	_, err := m.CreateOrder(context.Background(), draft, zar(0), dueIn(30*24*time.Hour))
	require.ErrorIs(t, err, ErrInvalidDeposit)

	// Deposit equal to the total is a plain sale, not a laybye.
	_, err = m.CreateOrder(context.Background(), draft, zar(50000), dueIn(30*24*time.Hour))
	require.ErrorIs(t, err, ErrInvalidDeposit)
}

func TestCreateOrder_DepositBelowMinimum(t *testing.T) {
	// total=500.00 at 20% -> minimum deposit 100.00; 50.00 is rejected.
	m := testManager(newOrderRepo())

	_, err := m.CreateOrder(context.Background(), testDraft(t, 50000, "c1"), zar(5000), dueIn(30*24*time.Hour))

	var dbmErr *DepositBelowMinimumError
	require.ErrorAs(t, err, &dbmErr)
	assert.Equal(t, zar(10000), dbmErr.Minimum)
}

func TestCreateOrder_DueDateTooSoon(t *testing.T) {
	m := testManager(newOrderRepo())

	_, err := m.CreateOrder(context.Background(), testDraft(t, 50000, "c1"), zar(15000), dueIn(3*24*time.Hour))

	var ddErr *DueDateTooSoonError
	require.ErrorAs(t, err, &ddErr)
	assert.Equal(t, dueIn(7*24*time.Hour), ddErr.Earliest)
}

// --- AddPayment ---

func openOrder(id string, remaining int64) *Order {
	return &Order{
		ID:               id,
		CustomerRef:      "c1",
		Total:            zar(50000),
		DepositAmount:    zar(10000),
		RemainingBalance: zar(remaining),
		DueDate:          dueIn(30 * 24 * time.Hour),
		Status:           StatusOpen,
	}
}

func TestAddPayment_ReducesBalance(t *testing.T) {
	repo := newOrderRepo(openOrder("o1", 40000))
	m := testManager(repo)

	o, err := m.AddPayment(context.Background(), "o1", zar(15000), payment.MethodCash)
	require.NoError(t, err)
	assert.Equal(t, zar(25000), o.RemainingBalance)
	assert.Equal(t, StatusPartiallyPaid, o.Status)
	require.NotNil(t, repo.lastPayment)
	assert.Equal(t, zar(15000), repo.lastPayment.Amount)
}

func TestAddPayment_PaysOff(t *testing.T) {
	repo := newOrderRepo(openOrder("o1", 15000))
	m := testManager(repo)

	o, err := m.AddPayment(context.Background(), "o1", zar(15000), payment.MethodCard)
	require.NoError(t, err)
	assert.True(t, o.RemainingBalance.IsZero())
	assert.Equal(t, StatusPaidOff, o.Status)
}

func TestAddPayment_ExceedsBalance(t *testing.T) {
	m := testManager(newOrderRepo(openOrder("o1", 10000)))

	_, err := m.AddPayment(context.Background(), "o1", zar(12000), payment.MethodCash)
	require.ErrorIs(t, err, ErrPaymentExceedsBalance)
}

func TestAddPayment_NotPayable(t *testing.T) {
	for _, status := range []Status{StatusPaidOff, StatusCancelled, StatusExpired} {
		o := openOrder("o1", 0)
		o.Status = status
		m := testManager(newOrderRepo(o))

		_, err := m.AddPayment(context.Background(), "o1", zar(100), payment.MethodCash)
		require.ErrorIs(t, err, ErrOrderNotPayable, "status %s", status)
	}
}

func TestAddPayment_OrderNotFound(t *testing.T) {
	m := testManager(newOrderRepo())

	_, err := m.AddPayment(context.Background(), "ghost", zar(100), payment.MethodCash)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

// --- Cancel / ExpireOverdue ---

func TestCancel(t *testing.T) {
	repo := newOrderRepo(openOrder("o1", 40000))
	m := testManager(repo)

	o, err := m.Cancel(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
}

func TestCancel_PaidOffRejected(t *testing.T) {
	o := openOrder("o1", 0)
	o.Status = StatusPaidOff
	m := testManager(newOrderRepo(o))

	_, err := m.Cancel(context.Background(), "o1")
	require.ErrorIs(t, err, ErrOrderNotCancellable)
}

func TestExpireOverdue(t *testing.T) {
	o1 := openOrder("o1", 40000)
	o2 := openOrder("o2", 5000)
	o2.Status = StatusPartiallyPaid
	repo := newOrderRepo(o1, o2)
	repo.overdue = []*Order{o1, o2}
	m := testManager(repo)

	n, err := m.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, StatusExpired, repo.orders["o1"].Status)
	assert.Equal(t, StatusExpired, repo.orders["o2"].Status)
}
