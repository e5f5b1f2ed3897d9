package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/tillworks/till/internal/domain/laybye"
	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
	"github.com/tillworks/till/internal/domain/sale"
)

// CreateLaybye handles POST /api/laybye: opens a deposit-secured order.
func (h *Handler) CreateLaybye(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	var (
		branchRef, customerRef string
		items                  []sale.LineItem
		deposit                money.Money
		dueDate                time.Time
	)
	discount := money.Zero(h.currency)

	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "branchRef":
			branchRef, err = d.Str()
		case "customerRef":
			customerRef, err = d.Str()
		case "items":
			items, err = decodeLineItems(d)
		case "discount":
			discount, err = decodeMoney(d)
		case "deposit":
			deposit, err = decodeMoney(d)
		case "dueDate":
			var s string
			if s, err = d.Str(); err == nil {
				dueDate, err = time.Parse(time.RFC3339, s)
			}
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		respondError(w, r, badRequest(err))
		return
	}
	if dueDate.IsZero() {
		respondError(w, r, badRequest(errors.New("dueDate is required")))
		return
	}

	draft, err := sale.NewDraft(branchRef, customerRef, items, discount)
	if err != nil {
		respondError(w, r, err)
		return
	}

	o, err := h.laybyes.CreateOrder(r.Context(), draft, deposit, dueDate)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) {
		encodeLaybye(e, o)
	})
}

// PayLaybye handles POST /api/laybye/{id}/payments.
func (h *Handler) PayLaybye(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	var (
		amount money.Money
		method payment.Method
	)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "amount":
			amount, err = decodeMoney(d)
		case "method":
			var s string
			s, err = d.Str()
			method = payment.Method(s)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		respondError(w, r, badRequest(err))
		return
	}
	if !method.Valid() {
		respondError(w, r, errors.Wrapf(payment.ErrInvalidMethod, "%q", method))
		return
	}

	o, err := h.laybyes.AddPayment(r.Context(), r.PathValue("id"), amount, method)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		encodeLaybye(e, o)
	})
}

// CancelLaybye handles DELETE /api/laybye/{id}.
func (h *Handler) CancelLaybye(w http.ResponseWriter, r *http.Request) {
	o, err := h.laybyes.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		encodeLaybye(e, o)
	})
}

func encodeLaybye(e *jx.Encoder, o *laybye.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("customerRef")
	e.Str(o.CustomerRef)
	e.FieldStart("branchRef")
	e.Str(o.BranchRef)
	e.FieldStart("items")
	encodeLineItems(e, o.Items)
	e.FieldStart("total")
	encodeMoney(e, o.Total)
	e.FieldStart("deposit")
	encodeMoney(e, o.DepositAmount)
	e.FieldStart("remainingBalance")
	encodeMoney(e, o.RemainingBalance)
	e.FieldStart("dueDate")
	e.Str(o.DueDate.Format(time.RFC3339))
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.ObjEnd()
}
