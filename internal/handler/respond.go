package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
	"github.com/tillworks/till/internal/domain/sale"
)

const maxBodySize = 1 << 20

// readBody reads and returns a jx decoder over the request body.
func readBody(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	return jx.DecodeBytes(data), nil
}

// writeJSON writes a JSON response built by encode.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("write response", zap.Error(err))
	}
}

// Money travels as {"amount": "115.00", "currency": "ZAR"}: major-unit decimal
// string, exact, no floats on the wire.

func encodeMoney(e *jx.Encoder, m money.Money) {
	e.ObjStart()
	e.FieldStart("amount")
	e.Str(m.Decimal().StringFixed(2))
	e.FieldStart("currency")
	e.Str(m.Currency)
	e.ObjEnd()
}

func decodeMoney(d *jx.Decoder) (money.Money, error) {
	var amount, currency string
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "amount":
			amount, err = d.Str()
		case "currency":
			currency, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return money.Money{}, errors.Wrap(err, "decode money")
	}
	if amount == "" {
		return money.Money{}, errors.New("money requires an amount")
	}
	return money.Parse(amount, currency)
}

func decodeLineItems(d *jx.Decoder) ([]sale.LineItem, error) {
	var items []sale.LineItem
	err := d.Arr(func(d *jx.Decoder) error {
		var item sale.LineItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productRef":
				item.ProductRef, err = d.Str()
			case "name":
				item.Name, err = d.Str()
			case "quantity":
				item.Quantity, err = d.Int()
			case "unitPrice":
				item.UnitPrice, err = decodeMoney(d)
			case "lineTotal":
				item.LineTotal, err = decodeMoney(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode items")
	}
	return items, nil
}

func encodeLineItems(e *jx.Encoder, items []sale.LineItem) {
	e.ArrStart()
	for _, item := range items {
		e.ObjStart()
		e.FieldStart("productRef")
		e.Str(item.ProductRef)
		e.FieldStart("name")
		e.Str(item.Name)
		e.FieldStart("quantity")
		e.Int(item.Quantity)
		e.FieldStart("unitPrice")
		encodeMoney(e, item.UnitPrice)
		e.FieldStart("lineTotal")
		encodeMoney(e, item.LineTotal)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeAllocations(e *jx.Encoder, allocations []payment.Allocation) {
	e.ArrStart()
	for _, a := range allocations {
		e.ObjStart()
		e.FieldStart("method")
		e.Str(string(a.Method))
		e.FieldStart("amount")
		encodeMoney(e, a.Amount)
		if a.CustomerRef != "" {
			e.FieldStart("customerRef")
			e.Str(a.CustomerRef)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeSale(e *jx.Encoder, s *sale.Sale) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("branchRef")
	e.Str(s.BranchRef)
	if s.CustomerRef != "" {
		e.FieldStart("customerRef")
		e.Str(s.CustomerRef)
	}
	e.FieldStart("items")
	encodeLineItems(e, s.Items)
	e.FieldStart("discount")
	encodeMoney(e, s.Discount)
	e.FieldStart("total")
	encodeMoney(e, s.Total)
	e.FieldStart("change")
	encodeMoney(e, s.Change)
	e.FieldStart("allocations")
	encodeAllocations(e, s.Allocations)
	e.FieldStart("paymentStatus")
	e.Str(string(s.PaymentStatus))
	e.FieldStart("createdAt")
	e.Str(s.CreatedAt.Format(time.RFC3339))
	e.ObjEnd()
}
