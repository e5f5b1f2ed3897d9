//go:build integration

package integration

import (
	"net/http"
	"regexp"
	"testing"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func groceryBasket() []lineItemJSON {
	// 2 x 25.00 + 65.00 = 115.00
	return []lineItemJSON{
		{ProductRef: "sku-201", Name: "Maize meal 10kg", Quantity: 2, UnitPrice: zar("25.00")},
		{ProductRef: "sku-305", Name: "Cooking oil 5L", Quantity: 1, UnitPrice: zar("65.00")},
	}
}

func TestSettlement_NoAuth(t *testing.T) {
	req := settlementRequest{
		BranchRef:   "branch-auth",
		Items:       groceryBasket(),
		Allocations: []allocationJSON{{Method: "cash", Amount: zar("115.00")}},
	}
	resp := doPost(t, "/api/settlements", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSettlement_InvalidKey(t *testing.T) {
	req := settlementRequest{
		BranchRef:   "branch-auth",
		Items:       groceryBasket(),
		Allocations: []allocationJSON{{Method: "cash", Amount: zar("115.00")}},
	}
	resp := doPostWithAuth(t, "/api/settlements", req, "wrong-key")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSettlement_SplitPayment(t *testing.T) {
	// 115.00 settled as 80.00 on account plus 40.00 cash: 5.00 change.
	req := settlementRequest{
		BranchRef:   "branch-split",
		CustomerRef: "acc-demo-1",
		Items:       groceryBasket(),
		Allocations: []allocationJSON{
			{Method: "account", Amount: zar("80.00"), CustomerRef: "acc-demo-1"},
			{Method: "cash", Amount: zar("40.00")},
		},
	}
	resp := doPostWithAuth(t, "/api/settlements", req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	s := decodeJSON[saleResponse](t, resp)
	if !uuidPattern.MatchString(s.ID) {
		t.Errorf("sale ID %q is not a valid UUID", s.ID)
	}
	if s.Total != zar("115.00") {
		t.Errorf("total: got %+v, want 115.00", s.Total)
	}
	if s.Change != zar("5.00") {
		t.Errorf("change: got %+v, want 5.00", s.Change)
	}
	if s.PaymentStatus != "paid" {
		t.Errorf("payment status: got %q, want paid", s.PaymentStatus)
	}
	if len(s.Allocations) != 2 {
		t.Errorf("expected 2 allocations, got %d", len(s.Allocations))
	}
}

func TestSettlement_IncompleteAllocation(t *testing.T) {
	req := settlementRequest{
		BranchRef:   "branch-split",
		Items:       groceryBasket(),
		Allocations: []allocationJSON{{Method: "cash", Amount: zar("10.00")}},
	}
	resp := doPostWithAuth(t, "/api/settlements", req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestSettlement_CreditLimitExceeded(t *testing.T) {
	// acc-demo-1 can never cover 2000.00.
	req := settlementRequest{
		BranchRef:   "branch-split",
		CustomerRef: "acc-demo-1",
		Items: []lineItemJSON{
			{ProductRef: "sku-900", Name: "Generator", Quantity: 1, UnitPrice: zar("2000.00")},
		},
		Allocations: []allocationJSON{
			{Method: "account", Amount: zar("2000.00"), CustomerRef: "acc-demo-1"},
		},
	}
	resp := doPostWithAuth(t, "/api/settlements", req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Message == "" {
		t.Error("error message is empty")
	}
}

func TestSettlement_InactiveAccount(t *testing.T) {
	req := settlementRequest{
		BranchRef:   "branch-split",
		CustomerRef: "acc-demo-3",
		Items: []lineItemJSON{
			{ProductRef: "sku-101", Name: "Bread", Quantity: 1, UnitPrice: zar("18.00")},
		},
		Allocations: []allocationJSON{
			{Method: "account", Amount: zar("18.00"), CustomerRef: "acc-demo-3"},
		},
	}
	resp := doPostWithAuth(t, "/api/settlements", req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
}

func TestQuote(t *testing.T) {
	// acc-demo-2: balance -100.00, credit limit 500.00. A 60.00 payment is
	// carried entirely by credit.
	body := map[string]any{"amount": zar("60.00")}
	resp := doPostWithAuth(t, "/api/accounts/acc-demo-2/quote", body, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	q := decodeJSON[quoteResponse](t, resp)
	if q.AmountFromBalance != zar("0.00") {
		t.Errorf("from balance: got %+v, want 0.00", q.AmountFromBalance)
	}
	if q.AmountFromCredit != zar("60.00") {
		t.Errorf("from credit: got %+v, want 60.00", q.AmountFromCredit)
	}
	if q.NewBalanceAfterPayment != zar("-160.00") {
		t.Errorf("new balance: got %+v, want -160.00", q.NewBalanceAfterPayment)
	}
}

func TestQuote_UnknownAccount(t *testing.T) {
	body := map[string]any{"amount": zar("10.00")}
	resp := doPostWithAuth(t, "/api/accounts/no-such-account/quote", body, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRefund(t *testing.T) {
	req := settlementRequest{
		BranchRef: "branch-refund",
		Items: []lineItemJSON{
			{ProductRef: "sku-410", Name: "Kettle", Quantity: 1, UnitPrice: zar("50.00")},
		},
		Allocations: []allocationJSON{{Method: "cash", Amount: zar("50.00")}},
	}
	resp := doPostWithAuth(t, "/api/settlements", req, testAPIKey)
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("settlement: expected 201, got %d", resp.StatusCode)
	}
	s := decodeJSON[saleResponse](t, resp)
	resp.Body.Close()

	refundBody := map[string]any{
		"branchRef": "branch-refund",
		"amount":    zar("20.00"),
		"method":    "cash",
		"reason":    "damaged on collection",
	}
	resp = doPostWithAuth(t, "/api/settlements/"+s.ID+"/refunds", refundBody, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("refund: expected 201, got %d", resp.StatusCode)
	}

	type refundResponse struct {
		ID      string    `json:"id"`
		SaleRef string    `json:"saleRef"`
		Amount  moneyJSON `json:"amount"`
	}
	rf := decodeJSON[refundResponse](t, resp)

	if rf.SaleRef != s.ID {
		t.Errorf("sale ref: got %q, want %q", rf.SaleRef, s.ID)
	}
	if rf.Amount != zar("20.00") {
		t.Errorf("amount: got %+v, want 20.00", rf.Amount)
	}
}
