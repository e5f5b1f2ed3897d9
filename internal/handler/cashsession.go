package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/tillworks/till/internal/domain/cashsession"
	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
)

// OpenSession handles POST /api/cash-sessions.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	var (
		branchRef, cashierRef string
		opening               money.Money
	)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "branchRef":
			branchRef, err = d.Str()
		case "cashierRef":
			cashierRef, err = d.Str()
		case "openingFloat":
			opening, err = decodeMoney(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		respondError(w, r, badRequest(err))
		return
	}
	if branchRef == "" {
		respondError(w, r, badRequest(errors.New("branchRef is required")))
		return
	}

	s, err := h.sessions.Open(r.Context(), branchRef, opening, cashierRef)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) {
		h.encodeSession(e, s)
	})
}

// CurrentSession handles GET /api/cash-sessions/current?branch=.
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	branchRef := r.URL.Query().Get("branch")
	if branchRef == "" {
		respondError(w, r, badRequest(errors.New("branch query parameter is required")))
		return
	}

	s, err := h.sessions.Current(r.Context(), branchRef)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		h.encodeSession(e, s)
	})
}

// CloseSession handles POST /api/cash-sessions/{id}/close.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	var (
		declared money.Money
		expenses []cashsession.Expense
		notes    string
	)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "declared":
			declared, err = decodeMoney(d)
		case "notes":
			notes, err = d.Str()
		case "expenses":
			err = d.Arr(func(d *jx.Decoder) error {
				var exp cashsession.Expense
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "description":
						exp.Description, err = d.Str()
					case "amount":
						exp.Amount, err = decodeMoney(d)
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				expenses = append(expenses, exp)
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

	s, err := h.sessions.Close(r.Context(), r.PathValue("id"), declared, expenses, notes)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		h.encodeSession(e, s)
	})
}

// ReconcileSession handles POST /api/cash-sessions/{id}/reconcile.
func (h *Handler) ReconcileSession(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	notes, err := decodeNotes(d)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	s, err := h.sessions.Reconcile(r.Context(), r.PathValue("id"), notes)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		h.encodeSession(e, s)
	})
}

// RecordVariance handles POST /api/cash-sessions/{id}/variances.
func (h *Handler) RecordVariance(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	notes, err := decodeNotes(d)
	if err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	rec, err := h.sessions.RecordVariance(r.Context(), r.PathValue("id"), notes)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(rec.ID)
		e.FieldStart("sessionRef")
		e.Str(rec.SessionRef)
		e.FieldStart("type")
		e.Str(string(rec.Type))
		e.FieldStart("amount")
		encodeMoney(e, rec.Amount)
		e.FieldStart("classification")
		e.Str(string(rec.Classification))
		if rec.Notes != "" {
			e.FieldStart("notes")
			e.Str(rec.Notes)
		}
		e.ObjEnd()
	})
}

// decodeNotes reads an optional {"notes": "..."} body. An empty body is fine.
func decodeNotes(d *jx.Decoder) (string, error) {
	if d.Next() != jx.Object {
		return "", nil
	}
	var notes string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "notes":
			notes, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return notes, err
}

func (h *Handler) encodeSession(e *jx.Encoder, s *cashsession.Session) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("branchRef")
	e.Str(s.BranchRef)
	if s.CashierRef != "" {
		e.FieldStart("cashierRef")
		e.Str(s.CashierRef)
	}
	e.FieldStart("openingFloat")
	encodeMoney(e, s.OpeningFloat)

	e.FieldStart("salesByMethod")
	encodeMethodTotals(e, s.SalesByMethod)
	e.FieldStart("refundsByMethod")
	encodeMethodTotals(e, s.RefundsByMethod)

	e.FieldStart("status")
	e.Str(string(s.Status))
	e.FieldStart("openedAt")
	e.Str(s.OpenedAt.Format(time.RFC3339))

	if s.Status != cashsession.StatusActive {
		e.FieldStart("declared")
		encodeMoney(e, s.DeclaredAmount)
		e.FieldStart("expected")
		encodeMoney(e, s.ExpectedAmount)
		e.FieldStart("cashExpected")
		encodeMoney(e, s.CashExpected)
		e.FieldStart("variance")
		encodeMoney(e, s.Variance)
		e.FieldStart("classification")
		e.Str(string(h.sessions.Classify(s.Variance)))
		if s.ClosedAt != nil {
			e.FieldStart("closedAt")
			e.Str(s.ClosedAt.Format(time.RFC3339))
		}
	}
	if s.Notes != "" {
		e.FieldStart("notes")
		e.Str(s.Notes)
	}
	e.ObjEnd()
}

func encodeMethodTotals(e *jx.Encoder, totals map[payment.Method]money.Money) {
	e.ObjStart()
	for _, method := range []payment.Method{
		payment.MethodCash, payment.MethodCard, payment.MethodMobileMoney, payment.MethodAccount,
	} {
		if amount, ok := totals[method]; ok {
			e.FieldStart(string(method))
			encodeMoney(e, amount)
		}
	}
	e.ObjEnd()
}
