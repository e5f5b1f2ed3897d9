// Package handler exposes the settlement core over HTTP. Endpoints are plain
// net/http handlers with go-faster/jx JSON bodies; domain errors are mapped to
// {code, message} responses in errors.go.
package handler

import (
	"net/http"

	"github.com/tillworks/till/internal/domain/account"
	"github.com/tillworks/till/internal/domain/cashsession"
	"github.com/tillworks/till/internal/domain/laybye"
	"github.com/tillworks/till/internal/domain/sale"
)

// Handler holds the domain services the HTTP endpoints delegate to.
type Handler struct {
	accounts  *account.Validator
	committer *sale.Committer
	laybyes   *laybye.Manager
	sessions  *cashsession.Reconciler
	currency  string
}

// NewHandler constructs a Handler with the required domain services.
// currency is the store currency every request amount must be denominated in.
func NewHandler(
	accounts *account.Validator,
	committer *sale.Committer,
	laybyes *laybye.Manager,
	sessions *cashsession.Reconciler,
	currency string,
) *Handler {
	return &Handler{
		accounts:  accounts,
		committer: committer,
		laybyes:   laybyes,
		sessions:  sessions,
		currency:  currency,
	}
}

// Routes registers all API endpoints on mux under /api.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/settlements", h.CommitSettlement)
	mux.HandleFunc("POST /api/settlements/{id}/refunds", h.RefundSale)
	mux.HandleFunc("POST /api/accounts/{id}/quote", h.QuoteAccount)

	mux.HandleFunc("POST /api/laybye", h.CreateLaybye)
	mux.HandleFunc("POST /api/laybye/{id}/payments", h.PayLaybye)
	mux.HandleFunc("DELETE /api/laybye/{id}", h.CancelLaybye)

	mux.HandleFunc("POST /api/cash-sessions", h.OpenSession)
	mux.HandleFunc("GET /api/cash-sessions/current", h.CurrentSession)
	mux.HandleFunc("POST /api/cash-sessions/{id}/close", h.CloseSession)
	mux.HandleFunc("POST /api/cash-sessions/{id}/reconcile", h.ReconcileSession)
	mux.HandleFunc("POST /api/cash-sessions/{id}/variances", h.RecordVariance)
}
