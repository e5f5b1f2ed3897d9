package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tillworks/till/internal/domain/account"
	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
)

// Transient marks an error as a retryable persistence failure. The repository
// layer implements it for connection-level and serialization failures.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err is a retryable persistence failure.
func IsTransient(err error) bool {
	var t Transient
	return errors.As(err, &t) && t.Transient()
}

// DebitFailedError indicates the sale record was created but a subsequent
// account debit failed. The sale is flagged needs_reconciliation: recoverable
// by manual follow-up, never silently treated as paid.
type DebitFailedError struct {
	SaleID      string
	CustomerRef string
	Err         error
}

func (e *DebitFailedError) Error() string {
	return fmt.Sprintf("sale %s committed but debit of customer %s failed: %v",
		e.SaleID, e.CustomerRef, e.Err)
}

func (e *DebitFailedError) Unwrap() error { return e.Err }

// Committer converts a completed allocation set plus cart contents into an
// immutable committed sale.
type Committer struct {
	sales    Repository
	accounts account.Debiter
	sessions SessionRecorder
	lg       *zap.Logger

	maxRetries      uint64
	initialInterval time.Duration
	now             func() time.Time
}

// NewCommitter creates a Committer with the given collaborators.
func NewCommitter(sales Repository, accounts account.Debiter, sessions SessionRecorder, lg *zap.Logger) *Committer {
	return &Committer{
		sales:    sales,
		accounts: accounts,
		sessions: sessions,
		lg:       lg,

		maxRetries:      3,
		initialInterval: 100 * time.Millisecond,
		now:             time.Now,
	}
}

// Commit persists the sale and applies its account debits.
//
// Ordering: the sale row (with allocations and items) is written first with
// payment status pending, then each account leg is debited, then the status
// flips to paid and the totals are fed to the active cash session. A failure
// before the sale row exists leaves no durable state, so the caller's
// allocator is preserved for retry or adjustment. A failure after the row
// exists marks the sale needs_reconciliation and returns DebitFailedError.
//
// Transient persistence failures are retried with bounded exponential
// backoff. A debit ErrConcurrencyConflict is never retried here: the stale
// amount must be re-quoted by the caller.
func (c *Committer) Commit(ctx context.Context, draft Draft, alloc *payment.Allocator) (*Sale, error) {
	if !alloc.Complete() {
		covered, _ := alloc.TotalDue().Sub(alloc.Remaining())
		return nil, errors.Wrapf(ErrIncompletePayment,
			"allocated %s of %s", covered, draft.TotalDue)
	}

	s := &Sale{
		ID:            uuid.New().String(),
		BranchRef:     draft.BranchRef,
		CustomerRef:   draft.CustomerRef,
		Items:         draft.Items,
		Discount:      draft.Discount,
		Total:         draft.TotalDue,
		Change:        alloc.Change(),
		Allocations:   alloc.Allocations(),
		PaymentStatus: PaymentPending,
		CreatedAt:     c.now(),
	}

	if err := c.retryTransient(ctx, func() error {
		return c.sales.Create(ctx, s)
	}); err != nil {
		return nil, errors.Wrap(err, "create sale")
	}

	for _, leg := range s.Allocations {
		if leg.Method != payment.MethodAccount {
			continue
		}
		if _, err := c.accounts.Debit(ctx, leg.CustomerRef, leg.Amount, s.ID); err != nil {
			c.flagForReconciliation(ctx, s)
			return nil, &DebitFailedError{SaleID: s.ID, CustomerRef: leg.CustomerRef, Err: err}
		}
	}

	if err := c.retryTransient(ctx, func() error {
		return c.sales.MarkPaymentStatus(ctx, s.ID, PaymentPaid)
	}); err != nil {
		// Money moved but the flag write failed: same recovery path as a
		// failed debit, the back office resolves it from the movements.
		c.flagForReconciliation(ctx, s)
		return nil, errors.Wrapf(err, "mark sale %s paid", s.ID)
	}
	s.PaymentStatus = PaymentPaid

	totals := payment.MethodTotals(s.Allocations, s.Change)
	if err := c.sessions.RecordSale(ctx, s.BranchRef, totals); err != nil {
		// The sale is durable; session totals can be rebuilt from sales.
		c.lg.Warn("record sale in cash session",
			zap.String("sale_id", s.ID),
			zap.String("branch", s.BranchRef),
			zap.Error(err),
		)
	}

	return s, nil
}

// Refund records a post-sale reversal and feeds it into the branch's active
// session refund totals.
func (c *Committer) Refund(ctx context.Context, branchRef, saleRef string, amount money.Money, method payment.Method, reason string) (*Refund, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidRefund
	}
	if !method.Valid() {
		return nil, errors.Wrapf(payment.ErrInvalidMethod, "%q", method)
	}

	r := &Refund{
		ID:        uuid.New().String(),
		SaleRef:   saleRef,
		Amount:    amount,
		Method:    method,
		Reason:    reason,
		CreatedAt: c.now(),
	}
	if err := c.retryTransient(ctx, func() error {
		return c.sales.CreateRefund(ctx, r)
	}); err != nil {
		return nil, errors.Wrapf(err, "create refund for sale %s", saleRef)
	}

	if err := c.sessions.RecordRefund(ctx, branchRef, method, amount); err != nil {
		c.lg.Warn("record refund in cash session",
			zap.String("sale_id", saleRef),
			zap.String("branch", branchRef),
			zap.Error(err),
		)
	}

	return r, nil
}

// flagForReconciliation marks the sale for manual follow-up. Best effort:
// a failure here is logged, the returned error already carries the cause.
func (c *Committer) flagForReconciliation(ctx context.Context, s *Sale) {
	if err := c.retryTransient(ctx, func() error {
		return c.sales.MarkPaymentStatus(ctx, s.ID, PaymentNeedsReconciliation)
	}); err != nil {
		c.lg.Error("flag sale for reconciliation",
			zap.String("sale_id", s.ID),
			zap.Error(err),
		)
		return
	}
	s.PaymentStatus = PaymentNeedsReconciliation
}

// retryTransient runs op, retrying transient persistence failures with
// bounded exponential backoff. Non-transient errors fail immediately.
func (c *Committer) retryTransient(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
}
