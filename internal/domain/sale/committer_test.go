package sale

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tillworks/till/internal/domain/account"
	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
)

// --- Mocks ---

type transientErr struct{ msg string }

func (e *transientErr) Error() string   { return e.msg }
func (e *transientErr) Transient() bool { return true }

type mockSaleRepo struct {
	created    *Sale
	createErrs []error // popped per Create call
	statusErr  error
	statuses   []PaymentStatus
	refund     *Refund
	refundErr  error
}

func (m *mockSaleRepo) Create(_ context.Context, s *Sale) error {
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	m.created = s
	return nil
}

func (m *mockSaleRepo) MarkPaymentStatus(_ context.Context, _ string, status PaymentStatus) error {
	if m.statusErr != nil {
		return m.statusErr
	}
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockSaleRepo) CreateRefund(_ context.Context, r *Refund) error {
	if m.refundErr != nil {
		return m.refundErr
	}
	m.refund = r
	return nil
}

type mockDebiter struct {
	err   error
	calls []string // "customerRef amount saleRef"
}

func (m *mockDebiter) Debit(_ context.Context, customerRef string, amount money.Money, saleRef string) (account.Quote, error) {
	m.calls = append(m.calls, customerRef+" "+amount.String())
	_ = saleRef
	if m.err != nil {
		return account.Quote{}, m.err
	}
	return account.Quote{AmountFromBalance: amount}, nil
}

type mockRecorder struct {
	saleTotals map[payment.Method]money.Money
	refunds    []money.Money
	err        error
}

func (m *mockRecorder) RecordSale(_ context.Context, _ string, totals map[payment.Method]money.Money) error {
	if m.err != nil {
		return m.err
	}
	m.saleTotals = totals
	return nil
}

func (m *mockRecorder) RecordRefund(_ context.Context, _ string, _ payment.Method, amount money.Money) error {
	if m.err != nil {
		return m.err
	}
	m.refunds = append(m.refunds, amount)
	return nil
}

type mockQuoter struct{ err error }

func (m *mockQuoter) Quote(_ context.Context, _ string, amount money.Money) (account.Quote, error) {
	if m.err != nil {
		return account.Quote{}, m.err
	}
	return account.Quote{AmountFromBalance: amount}, nil
}

// --- Helpers ---

func zar(minor int64) money.Money { return money.New(minor, "ZAR") }

func testDraft(t *testing.T, totalMinor int64) Draft {
	t.Helper()
	d, err := NewDraft("branch-1", "c1", []LineItem{{
		ProductRef: "p1",
		Name:       "Widget",
		Quantity:   1,
		UnitPrice:  zar(totalMinor),
		LineTotal:  zar(totalMinor),
	}}, zar(0))
	require.NoError(t, err)
	return d
}

func fastCommitter(sales Repository, accounts account.Debiter, sessions SessionRecorder) *Committer {
	c := NewCommitter(sales, accounts, sessions, zap.NewNop())
	c.initialInterval = 0 // no real sleeping in unit tests
	return c
}

// --- NewDraft ---

func TestNewDraft_ComputesTotal(t *testing.T) {
	d, err := NewDraft("b1", "", []LineItem{
		{ProductRef: "p1", Quantity: 2, UnitPrice: zar(1000), LineTotal: zar(2000)},
		{ProductRef: "p2", Quantity: 1, UnitPrice: zar(500), LineTotal: zar(500)},
	}, zar(300))
	require.NoError(t, err)
	assert.Equal(t, zar(2200), d.TotalDue)
}

func TestNewDraft_Validation(t *testing.T) {
	_, err := NewDraft("b1", "", nil, zar(0))
	require.ErrorIs(t, err, ErrEmptyItems)

	_, err = NewDraft("b1", "", []LineItem{
		{ProductRef: "p1", Quantity: 0, UnitPrice: zar(100), LineTotal: zar(0)},
	}, zar(0))
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = NewDraft("b1", "", []LineItem{
		{ProductRef: "p1", Quantity: 2, UnitPrice: zar(100), LineTotal: zar(150)},
	}, zar(0))
	require.ErrorIs(t, err, ErrLineTotalMismatch)

	_, err = NewDraft("b1", "", []LineItem{
		{ProductRef: "p1", Quantity: 1, UnitPrice: zar(100), LineTotal: zar(100)},
	}, zar(200))
	require.ErrorIs(t, err, ErrInvalidDiscount)
}

// --- Commit ---

func TestCommit_IncompleteAllocationRejected(t *testing.T) {
	draft := testDraft(t, 10000)
	alloc := payment.NewAllocator(draft.TotalDue, &mockQuoter{})
	require.NoError(t, alloc.Add(context.Background(), payment.MethodCash, zar(4000), ""))

	c := fastCommitter(&mockSaleRepo{}, &mockDebiter{}, &mockRecorder{})
	_, err := c.Commit(context.Background(), draft, alloc)
	require.ErrorIs(t, err, ErrIncompletePayment)

	// Allocations preserved for the caller to adjust.
	assert.Len(t, alloc.Allocations(), 1)
}

func TestCommit_CashOnly(t *testing.T) {
	draft := testDraft(t, 10000)
	alloc := payment.NewAllocator(draft.TotalDue, &mockQuoter{})
	require.NoError(t, alloc.Add(context.Background(), payment.MethodCash, zar(12000), ""))

	repo := &mockSaleRepo{}
	recorder := &mockRecorder{}
	c := fastCommitter(repo, &mockDebiter{}, recorder)

	s, err := c.Commit(context.Background(), draft, alloc)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, s.PaymentStatus)
	assert.Equal(t, zar(2000), s.Change)
	require.NotNil(t, repo.created)
	assert.Equal(t, []PaymentStatus{PaymentPaid}, repo.statuses)

	// Session sees cash net of change.
	assert.Equal(t, zar(10000), recorder.saleTotals[payment.MethodCash])
}

func TestCommit_EndToEndSplitPayment(t *testing.T) {
	// totalDue=115.00, account 80.00 + cash 35.00.
	draft := testDraft(t, 11500)
	alloc := payment.NewAllocator(draft.TotalDue, &mockQuoter{})
	require.NoError(t, alloc.Add(context.Background(), payment.MethodAccount, zar(8000), "c1"))
	require.NoError(t, alloc.Add(context.Background(), payment.MethodCash, zar(3500), ""))
	require.True(t, alloc.Complete())

	repo := &mockSaleRepo{}
	debiter := &mockDebiter{}
	recorder := &mockRecorder{}
	c := fastCommitter(repo, debiter, recorder)

	s, err := c.Commit(context.Background(), draft, alloc)
	require.NoError(t, err)
	require.Len(t, s.Allocations, 2)
	assert.Equal(t, []string{"c1 80.00 ZAR"}, debiter.calls)
	assert.Equal(t, zar(8000), recorder.saleTotals[payment.MethodAccount])
	assert.Equal(t, zar(3500), recorder.saleTotals[payment.MethodCash])
}

func TestCommit_DebitFailureFlagsSale(t *testing.T) {
	draft := testDraft(t, 5000)
	alloc := payment.NewAllocator(draft.TotalDue, &mockQuoter{})
	require.NoError(t, alloc.Add(context.Background(), payment.MethodAccount, zar(5000), "c1"))

	repo := &mockSaleRepo{}
	debiter := &mockDebiter{err: account.ErrConcurrencyConflict}
	c := fastCommitter(repo, debiter, &mockRecorder{})

	_, err := c.Commit(context.Background(), draft, alloc)

	var dfErr *DebitFailedError
	require.ErrorAs(t, err, &dfErr)
	assert.Equal(t, "c1", dfErr.CustomerRef)
	require.ErrorIs(t, err, account.ErrConcurrencyConflict)

	// Sale row exists and is flagged, never silently paid.
	require.NotNil(t, repo.created)
	assert.Equal(t, []PaymentStatus{PaymentNeedsReconciliation}, repo.statuses)
}

func TestCommit_TransientCreateRetried(t *testing.T) {
	draft := testDraft(t, 5000)
	alloc := payment.NewAllocator(draft.TotalDue, &mockQuoter{})
	require.NoError(t, alloc.Add(context.Background(), payment.MethodCash, zar(5000), ""))

	repo := &mockSaleRepo{createErrs: []error{
		&transientErr{msg: "connection reset"},
		&transientErr{msg: "connection reset"},
		nil,
	}}
	c := fastCommitter(repo, &mockDebiter{}, &mockRecorder{})

	s, err := c.Commit(context.Background(), draft, alloc)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, s.PaymentStatus)
}

func TestCommit_NonTransientCreateFailsFast(t *testing.T) {
	draft := testDraft(t, 5000)
	alloc := payment.NewAllocator(draft.TotalDue, &mockQuoter{})
	require.NoError(t, alloc.Add(context.Background(), payment.MethodCash, zar(5000), ""))

	permanent := errors.New("constraint violation")
	repo := &mockSaleRepo{createErrs: []error{permanent, nil}}
	c := fastCommitter(repo, &mockDebiter{}, &mockRecorder{})

	_, err := c.Commit(context.Background(), draft, alloc)
	require.ErrorIs(t, err, permanent)
	assert.Nil(t, repo.created, "must not retry a permanent failure")
}

func TestCommit_SessionRecordFailureDoesNotFailSale(t *testing.T) {
	draft := testDraft(t, 5000)
	alloc := payment.NewAllocator(draft.TotalDue, &mockQuoter{})
	require.NoError(t, alloc.Add(context.Background(), payment.MethodCash, zar(5000), ""))

	c := fastCommitter(&mockSaleRepo{}, &mockDebiter{}, &mockRecorder{err: errors.New("no active session")})

	s, err := c.Commit(context.Background(), draft, alloc)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, s.PaymentStatus)
}

// --- Refund ---

func TestRefund(t *testing.T) {
	repo := &mockSaleRepo{}
	recorder := &mockRecorder{}
	c := fastCommitter(repo, &mockDebiter{}, recorder)

	r, err := c.Refund(context.Background(), "branch-1", "sale-1", zar(1500), payment.MethodCash, "damaged goods")
	require.NoError(t, err)
	assert.Equal(t, "sale-1", r.SaleRef)
	require.NotNil(t, repo.refund)
	assert.Equal(t, []money.Money{zar(1500)}, recorder.refunds)
}

func TestRefund_InvalidAmount(t *testing.T) {
	c := fastCommitter(&mockSaleRepo{}, &mockDebiter{}, &mockRecorder{})

	_, err := c.Refund(context.Background(), "branch-1", "sale-1", zar(0), payment.MethodCash, "")
	require.ErrorIs(t, err, ErrInvalidRefund)
}
