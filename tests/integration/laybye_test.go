//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"
)

func laybyeRequest(deposit string) map[string]any {
	return map[string]any{
		"branchRef":   "branch-laybye",
		"customerRef": "acc-demo-1",
		"items": []lineItemJSON{
			{ProductRef: "sku-770", Name: "School uniform set", Quantity: 1, UnitPrice: zar("500.00")},
		},
		"deposit": zar(deposit),
		"dueDate": time.Now().AddDate(0, 1, 0).Format(time.RFC3339),
	}
}

func TestLaybye_Lifecycle(t *testing.T) {
	// Create with a 30% deposit on 500.00.
	resp := doPostWithAuth(t, "/api/laybye", laybyeRequest("150.00"), testAPIKey)
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	o := decodeJSON[laybyeResponse](t, resp)
	resp.Body.Close()

	if o.Status != "open" {
		t.Errorf("status: got %q, want open", o.Status)
	}
	if o.RemainingBalance != zar("350.00") {
		t.Errorf("remaining: got %+v, want 350.00", o.RemainingBalance)
	}

	// A partial payment moves the order to partially_paid.
	payBody := map[string]any{"amount": zar("100.00"), "method": "cash"}
	resp = doPostWithAuth(t, "/api/laybye/"+o.ID+"/payments", payBody, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("payment: expected 200, got %d", resp.StatusCode)
	}
	o = decodeJSON[laybyeResponse](t, resp)
	resp.Body.Close()

	if o.Status != "partially_paid" {
		t.Errorf("status after payment: got %q, want partially_paid", o.Status)
	}
	if o.RemainingBalance != zar("250.00") {
		t.Errorf("remaining after payment: got %+v, want 250.00", o.RemainingBalance)
	}

	// Cancel releases the goods back to stock.
	resp = doDeleteWithAuth(t, "/api/laybye/"+o.ID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}
	o = decodeJSON[laybyeResponse](t, resp)
	if o.Status != "cancelled" {
		t.Errorf("status after cancel: got %q, want cancelled", o.Status)
	}
}

func TestLaybye_PayOff(t *testing.T) {
	resp := doPostWithAuth(t, "/api/laybye", laybyeRequest("200.00"), testAPIKey)
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	o := decodeJSON[laybyeResponse](t, resp)
	resp.Body.Close()

	payBody := map[string]any{"amount": zar("300.00"), "method": "card"}
	resp = doPostWithAuth(t, "/api/laybye/"+o.ID+"/payments", payBody, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("payment: expected 200, got %d", resp.StatusCode)
	}
	o = decodeJSON[laybyeResponse](t, resp)

	if o.Status != "paid_off" {
		t.Errorf("status: got %q, want paid_off", o.Status)
	}
	if o.RemainingBalance != zar("0.00") {
		t.Errorf("remaining: got %+v, want 0.00", o.RemainingBalance)
	}
}

func TestLaybye_DepositBelowMinimum(t *testing.T) {
	// 50.00 is below the 20% minimum of 100.00.
	resp := doPostWithAuth(t, "/api/laybye", laybyeRequest("50.00"), testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Message == "" {
		t.Error("error message is empty")
	}
}

func TestLaybye_DueDateTooSoon(t *testing.T) {
	req := laybyeRequest("150.00")
	req["dueDate"] = time.Now().Add(48 * time.Hour).Format(time.RFC3339)

	resp := doPostWithAuth(t, "/api/laybye", req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestLaybye_OverPaymentRejected(t *testing.T) {
	resp := doPostWithAuth(t, "/api/laybye", laybyeRequest("150.00"), testAPIKey)
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	o := decodeJSON[laybyeResponse](t, resp)
	resp.Body.Close()

	payBody := map[string]any{"amount": zar("400.00"), "method": "cash"}
	resp = doPostWithAuth(t, "/api/laybye/"+o.ID+"/payments", payBody, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}
