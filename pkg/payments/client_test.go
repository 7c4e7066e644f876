package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateCheckoutSession(t *testing.T) {
	var gotAuth string
	var gotParams CheckoutParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotParams); err != nil {
			t.Errorf("decode params: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_123","url":"https://pay.example.com/cs_123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	session, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{
		Reference:   "promo-1",
		ProductName: "7-day sale boost",
		AmountCents: 499,
		Currency:    "usd",
		SuccessURL:  "https://yardhop.app/promoted",
		CancelURL:   "https://yardhop.app/canceled",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_123" || session.URL != "https://pay.example.com/cs_123" {
		t.Fatalf("session: %+v", session)
	}
	if gotAuth != "Bearer sk_test" {
		t.Fatalf("authorization: %q", gotAuth)
	}
	if gotParams.Reference != "promo-1" || gotParams.AmountCents != 499 {
		t.Fatalf("params: %+v", gotParams)
	}
}

func TestCreateCheckoutSessionValidatesParams(t *testing.T) {
	c := NewClient("http://pay.invalid", "sk_test")
	ctx := context.Background()

	if _, err := c.CreateCheckoutSession(ctx, CheckoutParams{AmountCents: 100}); err == nil {
		t.Fatalf("expected error for missing reference")
	}
	if _, err := c.CreateCheckoutSession(ctx, CheckoutParams{Reference: "promo-1"}); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}
}

func TestCreateCheckoutSessionProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":"account not activated"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	_, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{Reference: "promo-1", AmountCents: 499})
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if got := err.Error(); got != "payment provider: account not activated" {
		t.Fatalf("error message: %q", got)
	}
}

func TestCreateCheckoutSessionIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"cs_123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	if _, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{Reference: "promo-1", AmountCents: 499}); err == nil {
		t.Fatalf("expected error for session without url")
	}
}
