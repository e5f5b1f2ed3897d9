package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
	"github.com/tillworks/till/internal/domain/sale"
)

type settlementRequest struct {
	branchRef   string
	customerRef string
	items       []sale.LineItem
	discount    money.Money
	allocations []payment.Allocation
}

// CommitSettlement handles POST /api/settlements: builds the draft, replays
// the allocation legs through the allocator (quoting account legs), and
// commits the sale.
func (h *Handler) CommitSettlement(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	req := settlementRequest{discount: money.Zero(h.currency)}
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "branchRef":
			req.branchRef, err = d.Str()
		case "customerRef":
			req.customerRef, err = d.Str()
		case "items":
			req.items, err = decodeLineItems(d)
		case "discount":
			req.discount, err = decodeMoney(d)
		case "allocations":
			err = d.Arr(func(d *jx.Decoder) error {
				var a payment.Allocation
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "method":
						var s string
						s, err = d.Str()
						a.Method = payment.Method(s)
					case "amount":
						a.Amount, err = decodeMoney(d)
					case "customerRef":
						a.CustomerRef, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.allocations = append(req.allocations, a)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	draft, err := sale.NewDraft(req.branchRef, req.customerRef, req.items, req.discount)
	if err != nil {
		respondError(w, r, err)
		return
	}

	alloc := payment.NewAllocator(draft.TotalDue, h.accounts)
	for _, leg := range req.allocations {
		if err := alloc.Add(r.Context(), leg.Method, leg.Amount, leg.CustomerRef); err != nil {
			respondError(w, r, err)
			return
		}
	}

	s, err := h.committer.Commit(r.Context(), draft, alloc)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) {
		encodeSale(e, s)
	})
}

// RefundSale handles POST /api/settlements/{id}/refunds.
func (h *Handler) RefundSale(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	var (
		branchRef, reason string
		method            payment.Method
		amount            money.Money
	)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "branchRef":
			branchRef, err = d.Str()
		case "amount":
			amount, err = decodeMoney(d)
		case "method":
			var s string
			s, err = d.Str()
			method = payment.Method(s)
		case "reason":
			reason, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	rf, err := h.committer.Refund(r.Context(), branchRef, r.PathValue("id"), amount, method, reason)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(rf.ID)
		e.FieldStart("saleRef")
		e.Str(rf.SaleRef)
		e.FieldStart("amount")
		encodeMoney(e, rf.Amount)
		e.FieldStart("method")
		e.Str(string(rf.Method))
		if rf.Reason != "" {
			e.FieldStart("reason")
			e.Str(rf.Reason)
		}
		e.ObjEnd()
	})
}

// QuoteAccount handles POST /api/accounts/{id}/quote: an advisory
// affordability check that moves no money.
func (h *Handler) QuoteAccount(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	var amount money.Money
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "amount":
			amount, err = decodeMoney(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	q, err := h.accounts.Quote(r.Context(), r.PathValue("id"), amount)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("amountFromBalance")
		encodeMoney(e, q.AmountFromBalance)
		e.FieldStart("amountFromCredit")
		encodeMoney(e, q.AmountFromCredit)
		e.FieldStart("newBalanceAfterPayment")
		encodeMoney(e, q.NewBalanceAfterPayment)
		e.ObjEnd()
	})
}
