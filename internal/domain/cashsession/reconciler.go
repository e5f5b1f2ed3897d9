package cashsession

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
)

// DefaultVarianceThreshold separates a minor count difference from a
// significant one, in minor units.
const DefaultVarianceThreshold = 500

// Reconciler drives the cash-session lifecycle for all branches.
type Reconciler struct {
	sessions Repository
	lg       *zap.Logger

	// threshold for Classify, in minor units.
	threshold int64
	now       func() time.Time
}

// NewReconciler creates a Reconciler with the default variance threshold.
func NewReconciler(sessions Repository, lg *zap.Logger) *Reconciler {
	return &Reconciler{
		sessions:  sessions,
		lg:        lg,
		threshold: DefaultVarianceThreshold,
		now:       time.Now,
	}
}

// WithThreshold overrides the minor/significant variance boundary.
func (r *Reconciler) WithThreshold(minorUnits int64) *Reconciler {
	r.threshold = minorUnits
	return r
}

// Open starts a session for the branch with the counted opening float.
// A branch has at most one active session.
func (r *Reconciler) Open(ctx context.Context, branchRef string, opening money.Money, cashierRef string) (*Session, error) {
	if opening.IsNegative() {
		return nil, ErrInvalidOpeningFloat
	}
	if _, err := r.sessions.GetActive(ctx, branchRef); err == nil {
		return nil, errors.Wrapf(ErrSessionAlreadyActive, "branch %s", branchRef)
	} else if !errors.Is(err, ErrNoActiveSession) {
		return nil, errors.Wrapf(err, "check active session for branch %s", branchRef)
	}

	s := &Session{
		ID:              uuid.New().String(),
		BranchRef:       branchRef,
		CashierRef:      cashierRef,
		OpeningFloat:    opening,
		SalesByMethod:   make(map[payment.Method]money.Money),
		RefundsByMethod: make(map[payment.Method]money.Money),
		Status:          StatusActive,
		OpenedAt:        r.now(),
	}
	// The store enforces one active session per branch; the pre-check above
	// only gives the common case a better error before the insert races.
	if err := r.sessions.Create(ctx, s); err != nil {
		return nil, errors.Wrapf(err, "open session for branch %s", branchRef)
	}
	return s, nil
}

// Current returns the branch's active session.
func (r *Reconciler) Current(ctx context.Context, branchRef string) (*Session, error) {
	s, err := r.sessions.GetActive(ctx, branchRef)
	if err != nil {
		return nil, errors.Wrapf(err, "active session for branch %s", branchRef)
	}
	return s, nil
}

// RecordSale accumulates a committed sale's per-method totals onto the
// branch's active session.
func (r *Reconciler) RecordSale(ctx context.Context, branchRef string, totals map[payment.Method]money.Money) error {
	s, err := r.sessions.GetActive(ctx, branchRef)
	if err != nil {
		return errors.Wrapf(err, "active session for branch %s", branchRef)
	}
	if err := r.sessions.AddSaleTotals(ctx, s.ID, totals); err != nil {
		return errors.Wrapf(err, "add sale totals to session %s", s.ID)
	}
	return nil
}

// RecordRefund accumulates a refund onto the branch's active session.
func (r *Reconciler) RecordRefund(ctx context.Context, branchRef string, method payment.Method, amount money.Money) error {
	s, err := r.sessions.GetActive(ctx, branchRef)
	if err != nil {
		return errors.Wrapf(err, "active session for branch %s", branchRef)
	}
	if err := r.sessions.AddRefundTotals(ctx, s.ID, method, amount); err != nil {
		return errors.Wrapf(err, "add refund to session %s", s.ID)
	}
	return nil
}

// Close counts the session out.
//
// expected = opening float + sales - refunds - expenses, across all methods;
// the cash-only expectation is computed alongside for the drawer count.
// variance = actual - expected.
//
// Close is idempotent: replaying the identical declared amount and expenses
// against an already closed session returns the stored result; a different
// payload is rejected with ErrSessionAlreadyClosed.
func (r *Reconciler) Close(ctx context.Context, sessionID string, actual money.Money, expenses []Expense, notes string) (*Session, error) {
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "get session %s", sessionID)
	}

	if s.Status != StatusActive {
		if s.Status == StatusClosed && r.samePayload(s, actual, expenses) {
			return s, nil
		}
		return nil, errors.Wrapf(ErrSessionAlreadyClosed, "session %s is %s", s.ID, s.Status)
	}

	for i := range expenses {
		e := &expenses[i]
		if !e.Amount.IsPositive() {
			return nil, errors.Wrapf(ErrInvalidExpense, "expense %q", e.Description)
		}
		e.ID = uuid.New().String()
		e.SessionRef = s.ID
		e.CreatedAt = r.now()
	}
	s.Expenses = expenses

	currency := s.OpeningFloat.Currency
	expensesTotal := s.ExpensesTotal()
	s.ExpectedAmount = money.New(
		s.OpeningFloat.Amount+s.SalesTotal().Amount-s.RefundsTotal().Amount-expensesTotal.Amount,
		currency,
	)
	s.CashExpected = money.New(
		s.OpeningFloat.Amount+
			s.SalesByMethod[payment.MethodCash].Amount-
			s.RefundsByMethod[payment.MethodCash].Amount-
			expensesTotal.Amount,
		currency,
	)
	s.DeclaredAmount = actual
	s.Variance = money.New(actual.Amount-s.ExpectedAmount.Amount, currency)
	s.Notes = notes
	s.Status = StatusClosed
	closedAt := r.now()
	s.ClosedAt = &closedAt

	if err := r.sessions.Close(ctx, s); err != nil {
		return nil, errors.Wrapf(err, "close session %s", s.ID)
	}

	r.lg.Info("cash session closed",
		zap.String("session_id", s.ID),
		zap.String("branch", s.BranchRef),
		zap.String("expected", s.ExpectedAmount.String()),
		zap.String("declared", s.DeclaredAmount.String()),
		zap.String("variance", s.Variance.String()),
	)
	return s, nil
}

// samePayload reports whether a close replay matches what was stored.
func (r *Reconciler) samePayload(s *Session, actual money.Money, expenses []Expense) bool {
	if !s.DeclaredAmount.Equal(actual) || len(s.Expenses) != len(expenses) {
		return false
	}
	for i, e := range expenses {
		if !s.Expenses[i].Amount.Equal(e.Amount) || s.Expenses[i].Description != e.Description {
			return false
		}
	}
	return true
}

// Reconcile marks a closed session reconciled after back-office review.
// Reconciled is terminal.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID, notes string) (*Session, error) {
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "get session %s", sessionID)
	}
	switch s.Status {
	case StatusClosed:
	case StatusReconciled:
		return nil, errors.Wrapf(ErrSessionReconciled, "session %s", s.ID)
	default:
		return nil, errors.Wrapf(ErrSessionNotClosed, "session %s is %s", s.ID, s.Status)
	}

	if err := r.sessions.MarkReconciled(ctx, s.ID, notes); err != nil {
		return nil, errors.Wrapf(err, "reconcile session %s", s.ID)
	}
	s.Status = StatusReconciled
	if notes != "" {
		s.Notes = notes
	}
	return s, nil
}

// Classify buckets a variance by magnitude against the threshold.
func (r *Reconciler) Classify(variance money.Money) Classification {
	abs := variance.Amount
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs == 0:
		return ClassificationExact
	case abs <= r.threshold:
		return ClassificationMinor
	default:
		return ClassificationSignificant
	}
}

// RecordVariance writes the immutable variance record for a closed session
// with a non-zero variance.
func (r *Reconciler) RecordVariance(ctx context.Context, sessionID, notes string) (*VarianceRecord, error) {
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "get session %s", sessionID)
	}
	if s.Status == StatusActive {
		return nil, errors.Wrapf(ErrSessionNotClosed, "session %s", s.ID)
	}
	if s.Variance.IsZero() {
		return nil, ErrNoVariance
	}

	vt := VarianceOverage
	if s.Variance.IsNegative() {
		vt = VarianceShortage
	}
	rec := &VarianceRecord{
		ID:             uuid.New().String(),
		SessionRef:     s.ID,
		Type:           vt,
		Amount:         s.Variance.Abs(),
		Classification: r.Classify(s.Variance),
		Notes:          notes,
		CreatedAt:      r.now(),
	}
	if err := r.sessions.CreateVariance(ctx, rec); err != nil {
		return nil, errors.Wrapf(err, "record variance for session %s", s.ID)
	}
	return rec, nil
}
