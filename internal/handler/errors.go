package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/tillworks/till/internal/domain/account"
	"github.com/tillworks/till/internal/domain/cashsession"
	"github.com/tillworks/till/internal/domain/laybye"
	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
	"github.com/tillworks/till/internal/domain/sale"
)

// respondError maps a domain error onto an HTTP status and a
// {code, message} body with optional detail fields.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
	}

	writeJSON(w, r, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		if status == http.StatusInternalServerError {
			e.Str("internal error")
		} else {
			e.Str(err.Error())
		}
		encodeErrorDetails(e, err)
		e.ObjEnd()
	})
}

func encodeErrorDetails(e *jx.Encoder, err error) {
	var creditErr *account.ExceedsCreditLimitError
	if errors.As(err, &creditErr) {
		e.FieldStart("maxPossiblePayment")
		encodeMoney(e, creditErr.MaxPossiblePayment)
		e.FieldStart("remainingNeedsOtherPayment")
		encodeMoney(e, creditErr.RemainingNeedsOtherPayment)
		return
	}

	var depositErr *laybye.DepositBelowMinimumError
	if errors.As(err, &depositErr) {
		e.FieldStart("minimumDeposit")
		encodeMoney(e, depositErr.Minimum)
		return
	}

	var dueErr *laybye.DueDateTooSoonError
	if errors.As(err, &dueErr) {
		e.FieldStart("earliestDueDate")
		e.Str(dueErr.Earliest.Format("2006-01-02"))
		return
	}

	var debitErr *sale.DebitFailedError
	if errors.As(err, &debitErr) {
		e.FieldStart("saleId")
		e.Str(debitErr.SaleID)
		return
	}
}

func statusFor(err error) int {
	var (
		creditErr     *account.ExceedsCreditLimitError
		depositErr    *laybye.DepositBelowMinimumError
		dueErr        *laybye.DueDateTooSoonError
		debitErr      *sale.DebitFailedError
		transitionErr *payment.InvalidTransitionError
	)

	switch {
	case errors.Is(err, account.ErrAccountNotFound),
		errors.Is(err, laybye.ErrOrderNotFound),
		errors.Is(err, sale.ErrSaleNotFound),
		errors.Is(err, cashsession.ErrSessionNotFound),
		errors.Is(err, cashsession.ErrNoActiveSession):
		return http.StatusNotFound

	case errors.Is(err, account.ErrAccountInactive):
		return http.StatusPaymentRequired

	case errors.As(err, &creditErr),
		errors.As(err, &debitErr),
		errors.Is(err, account.ErrConcurrencyConflict),
		errors.Is(err, payment.ErrAlreadyComplete),
		errors.Is(err, laybye.ErrOrderNotPayable),
		errors.Is(err, laybye.ErrOrderNotCancellable),
		errors.Is(err, cashsession.ErrSessionAlreadyActive),
		errors.Is(err, cashsession.ErrSessionAlreadyClosed),
		errors.Is(err, cashsession.ErrSessionNotClosed),
		errors.Is(err, cashsession.ErrSessionReconciled):
		return http.StatusConflict

	case errors.As(err, &depositErr),
		errors.As(err, &dueErr),
		errors.As(err, &transitionErr),
		errors.Is(err, money.ErrCurrencyMismatch),
		errors.Is(err, money.ErrFractionalMinorUnit),
		errors.Is(err, account.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidMethod),
		errors.Is(err, payment.ErrMissingCustomer),
		errors.Is(err, payment.ErrOverpaymentNotAllowed),
		errors.Is(err, payment.ErrNoSuchAllocation),
		errors.Is(err, sale.ErrEmptyItems),
		errors.Is(err, sale.ErrInvalidQuantity),
		errors.Is(err, sale.ErrLineTotalMismatch),
		errors.Is(err, sale.ErrInvalidDiscount),
		errors.Is(err, sale.ErrIncompletePayment),
		errors.Is(err, sale.ErrInvalidRefund),
		errors.Is(err, laybye.ErrMissingCustomer),
		errors.Is(err, laybye.ErrInvalidDeposit),
		errors.Is(err, laybye.ErrInvalidPayment),
		errors.Is(err, laybye.ErrPaymentExceedsBalance),
		errors.Is(err, cashsession.ErrInvalidOpeningFloat),
		errors.Is(err, cashsession.ErrInvalidExpense),
		errors.Is(err, cashsession.ErrNoVariance):
		return http.StatusUnprocessableEntity

	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// errBadRequest marks malformed request payloads.
var errBadRequest = errors.New("bad request")

// badRequest wraps a payload decoding failure.
func badRequest(err error) error {
	return errors.Wrapf(errBadRequest, "%v", err)
}
