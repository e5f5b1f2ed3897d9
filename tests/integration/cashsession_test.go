//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func openSession(t *testing.T, branch, openingFloat string) sessionResponse {
	t.Helper()

	body := map[string]any{
		"branchRef":    branch,
		"cashierRef":   "cashier-7",
		"openingFloat": zar(openingFloat),
	}
	resp := doPostWithAuth(t, "/api/cash-sessions", body, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open session: expected 201, got %d", resp.StatusCode)
	}
	return decodeJSON[sessionResponse](t, resp)
}

func TestCashSession_Lifecycle(t *testing.T) {
	s := openSession(t, "branch-cash", "200.00")
	if s.Status != "active" {
		t.Fatalf("status: got %q, want active", s.Status)
	}

	// A second session on the same branch is rejected while one is active.
	body := map[string]any{"branchRef": "branch-cash", "openingFloat": zar("100.00")}
	resp := doPostWithAuth(t, "/api/cash-sessions", body, testAPIKey)
	if resp.StatusCode != http.StatusConflict {
		resp.Body.Close()
		t.Fatalf("second open: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// An 800.00 cash sale lands in the session totals.
	sale := settlementRequest{
		BranchRef: "branch-cash",
		Items: []lineItemJSON{
			{ProductRef: "sku-888", Name: "Stove", Quantity: 1, UnitPrice: zar("800.00")},
		},
		Allocations: []allocationJSON{{Method: "cash", Amount: zar("800.00")}},
	}
	resp = doPostWithAuth(t, "/api/settlements", sale, testAPIKey)
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("settlement: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doGetWithAuth(t, "/api/cash-sessions/current?branch=branch-cash")
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("current: expected 200, got %d", resp.StatusCode)
	}
	s = decodeJSON[sessionResponse](t, resp)
	resp.Body.Close()

	if got := s.SalesByMethod["cash"]; got != zar("800.00") {
		t.Errorf("cash sales: got %+v, want 800.00", got)
	}

	// Close with a 4.00 overage: expected 1000.00, declared 1004.00.
	closeBody := map[string]any{"declared": zar("1004.00")}
	resp = doPostWithAuth(t, "/api/cash-sessions/"+s.ID+"/close", closeBody, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("close: expected 200, got %d", resp.StatusCode)
	}
	s = decodeJSON[sessionResponse](t, resp)
	resp.Body.Close()

	if s.Status != "closed" {
		t.Errorf("status after close: got %q, want closed", s.Status)
	}
	if s.Expected != zar("1000.00") {
		t.Errorf("expected amount: got %+v, want 1000.00", s.Expected)
	}
	if s.Variance != zar("4.00") {
		t.Errorf("variance: got %+v, want 4.00", s.Variance)
	}
	if s.Classification != "minor" {
		t.Errorf("classification: got %q, want minor", s.Classification)
	}

	// Record the variance for the back office.
	resp = doPostWithAuth(t, "/api/cash-sessions/"+s.ID+"/variances", map[string]any{}, testAPIKey)
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("variance: expected 201, got %d", resp.StatusCode)
	}
	v := decodeJSON[varianceResponse](t, resp)
	resp.Body.Close()

	if v.Type != "overage" {
		t.Errorf("variance type: got %q, want overage", v.Type)
	}
	if v.Amount != zar("4.00") {
		t.Errorf("variance amount: got %+v, want 4.00", v.Amount)
	}

	// Reconcile, then verify a second reconcile is rejected.
	reconcileBody := map[string]any{"notes": "supervisor sign-off"}
	resp = doPostWithAuth(t, "/api/cash-sessions/"+s.ID+"/reconcile", reconcileBody, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("reconcile: expected 200, got %d", resp.StatusCode)
	}
	s = decodeJSON[sessionResponse](t, resp)
	resp.Body.Close()

	if s.Status != "reconciled" {
		t.Errorf("status after reconcile: got %q, want reconciled", s.Status)
	}

	resp = doPostWithAuth(t, "/api/cash-sessions/"+s.ID+"/reconcile", map[string]any{}, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second reconcile: expected 409, got %d", resp.StatusCode)
	}
}

func TestCashSession_ExactClose(t *testing.T) {
	s := openSession(t, "branch-cash-exact", "150.00")

	closeBody := map[string]any{"declared": zar("150.00")}
	resp := doPostWithAuth(t, "/api/cash-sessions/"+s.ID+"/close", closeBody, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close: expected 200, got %d", resp.StatusCode)
	}
	s = decodeJSON[sessionResponse](t, resp)

	if s.Variance != zar("0.00") {
		t.Errorf("variance: got %+v, want 0.00", s.Variance)
	}
	if s.Classification != "exact" {
		t.Errorf("classification: got %q, want exact", s.Classification)
	}
}

func TestCashSession_NoActiveSession(t *testing.T) {
	resp := doGetWithAuth(t, "/api/cash-sessions/current?branch=branch-never-opened")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
