package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"yardhop/pkg/domain"
	"yardhop/pkg/payments"
)

func checkoutEvent(eventID, eventType, sessionID, reference string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"data":{"object":{"id":%q,"client_reference_id":%q,"amount_total":499,"currency":"usd"}}}`,
		eventID, eventType, sessionID, reference,
	))
}

func signEvent(payload []byte) string {
	return payments.SignPayload(payload, "whsec_test", time.Now())
}

func TestPromoteSaleOpensCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signUp(t, "owner@example.com")
	sale := env.seedSale(t, owner.ID, "boost-me", 44.9778, -93.2650)

	promo, url, err := env.app.PromoteSale(ctx, owner, sale.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promo.Status != domain.PromotionPending {
		t.Errorf("status = %s, want pending", promo.Status)
	}
	if promo.AmountCents != 499 || promo.Currency != "usd" {
		t.Errorf("price = %d %s", promo.AmountCents, promo.Currency)
	}
	if !strings.Contains(url, "cs_test_1") {
		t.Errorf("checkout url = %q", url)
	}
	if len(env.payments.requests) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(env.payments.requests))
	}
	if env.payments.requests[0].Reference != promo.ID {
		t.Errorf("checkout reference = %q, want promotion id", env.payments.requests[0].Reference)
	}

	stored, err := env.app.GetSalePromotion(ctx, owner, sale.ID)
	if err != nil {
		t.Fatalf("get promotion: %v", err)
	}
	if stored.SessionID != "cs_test_1" {
		t.Errorf("session id = %q", stored.SessionID)
	}
}

func TestPromoteSalePreconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signUp(t, "owner@example.com")
	stranger, _ := env.signUp(t, "stranger@example.com")

	draft, err := env.app.CreateSale(ctx, owner, saleInput())
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, _, err := env.app.PromoteSale(ctx, owner, draft.ID); err == nil {
		t.Error("promoting a draft accepted")
	} else {
		wantStatus(t, err, http.StatusConflict)
	}

	sale := env.seedSale(t, owner.ID, "live", 44.9778, -93.2650)
	if _, _, err := env.app.PromoteSale(ctx, stranger, sale.ID); !errors.Is(err, ErrNotSaleOwner) {
		t.Errorf("stranger promote: got %v", err)
	}

	if err := env.store.SetPromotedUntil(sale.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("set promoted: %v", err)
	}
	if _, _, err := env.app.PromoteSale(ctx, owner, sale.ID); err == nil {
		t.Error("double promotion accepted")
	} else {
		wantStatus(t, err, http.StatusConflict)
	}
}

func TestPromoteSaleProviderFailureCancelsPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signUp(t, "owner@example.com")
	sale := env.seedSale(t, owner.ID, "doomed", 44.9778, -93.2650)

	env.payments.fail = true
	if _, _, err := env.app.PromoteSale(ctx, owner, sale.ID); err == nil {
		t.Fatal("expected provider error")
	}
	promos, err := env.store.ListPromotionsBySale(sale.ID)
	if err != nil {
		t.Fatalf("list promotions: %v", err)
	}
	if len(promos) != 1 || promos[0].Status != domain.PromotionCanceled {
		t.Errorf("promotions = %+v, want one canceled", promos)
	}
}

func TestWebhookActivatesPromotion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signUp(t, "owner@example.com")
	sale := env.seedSale(t, owner.ID, "paid", 44.9778, -93.2650)

	promo, _, err := env.app.PromoteSale(ctx, owner, sale.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}

	payload := checkoutEvent("evt_1", payments.EventCheckoutCompleted, "cs_test_1", promo.ID)
	if err := env.app.ProcessPaymentWebhook(ctx, payload, signEvent(payload)); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	updated, err := env.app.GetSalePromotion(ctx, owner, sale.ID)
	if err != nil {
		t.Fatalf("get promotion: %v", err)
	}
	if updated.Status != domain.PromotionActive {
		t.Errorf("status = %s, want active", updated.Status)
	}
	if updated.EndsAt.Before(time.Now().Add(6 * 24 * time.Hour)) {
		t.Errorf("promotion window ends too soon: %s", updated.EndsAt)
	}
	refreshed, ok, _ := env.store.GetSale(sale.ID)
	if !ok || !refreshed.Promoted(time.Now()) {
		t.Errorf("sale not flagged promoted: %+v", refreshed)
	}

	// Replays are swallowed without reapplying anything.
	if err := env.app.ProcessPaymentWebhook(ctx, payload, signEvent(payload)); err != nil {
		t.Fatalf("replayed webhook: %v", err)
	}
	seen, err := env.store.HasPaymentEvent("evt_1")
	if err != nil || !seen {
		t.Errorf("event not recorded: seen=%v err=%v", seen, err)
	}
}

func TestWebhookExpiredCheckoutCancelsPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signUp(t, "owner@example.com")
	sale := env.seedSale(t, owner.ID, "lapsed", 44.9778, -93.2650)

	promo, _, err := env.app.PromoteSale(ctx, owner, sale.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}

	payload := checkoutEvent("evt_2", payments.EventCheckoutExpired, "cs_test_1", promo.ID)
	if err := env.app.ProcessPaymentWebhook(ctx, payload, signEvent(payload)); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	updated, err := env.app.GetSalePromotion(ctx, owner, sale.ID)
	if err != nil {
		t.Fatalf("get promotion: %v", err)
	}
	if updated.Status != domain.PromotionCanceled {
		t.Errorf("status = %s, want canceled", updated.Status)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := checkoutEvent("evt_3", payments.EventCheckoutCompleted, "cs_x", "promo-x")
	badSig := payments.SignPayload(payload, "whsec_other", time.Now())
	err := env.app.ProcessPaymentWebhook(ctx, payload, badSig)
	if err == nil {
		t.Fatal("bad signature accepted")
	}
	wantStatus(t, err, http.StatusBadRequest)

	staleSig := payments.SignPayload(payload, "whsec_test", time.Now().Add(-time.Hour))
	if err := env.app.ProcessPaymentWebhook(ctx, payload, staleSig); err == nil {
		t.Fatal("stale signature accepted")
	}
}

func TestWebhookUnknownSessionIsAcked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := checkoutEvent("evt_4", payments.EventCheckoutCompleted, "cs_unknown", "promo-unknown")
	if err := env.app.ProcessPaymentWebhook(ctx, payload, signEvent(payload)); err != nil {
		t.Fatalf("unknown session should ack: %v", err)
	}
	seen, err := env.store.HasPaymentEvent("evt_4")
	if err != nil || !seen {
		t.Errorf("unknown event not recorded: seen=%v err=%v", seen, err)
	}
}

func TestReportSale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signUp(t, "owner@example.com")
	reporter, _ := env.signUp(t, "reporter@example.com")
	sale := env.seedSale(t, owner.ID, "fishy", 44.9778, -93.2650)

	if _, err := env.app.ReportSale(ctx, owner, sale.ID, ReportInput{Reason: "spam"}); err == nil {
		t.Error("self-report accepted")
	}
	if _, err := env.app.ReportSale(ctx, reporter, sale.ID, ReportInput{}); err == nil {
		t.Error("empty reason accepted")
	}

	report, err := env.app.ReportSale(ctx, reporter, sale.ID, ReportInput{Reason: "spam", Details: "<b>links</b> everywhere"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Status != domain.ReportOpen {
		t.Errorf("status = %s, want open", report.Status)
	}
	if report.Details != "links everywhere" {
		t.Errorf("details = %q", report.Details)
	}
}
