package server

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"yardhop/pkg/domain"
	"yardhop/pkg/payments"
	"yardhop/services/api/internal/app"
)

func TestLoginRateLimitOverHTTP(t *testing.T) {
	env := newServerEnv(t, func(cfg *Config) {
		cfg.LoginRateLimitPerMinute = 1
	})
	env.signUp(t, "limited@example.com")

	creds := map[string]string{
		"email":    "limited@example.com",
		"password": serverTestPassword,
	}
	resp := env.do(t, http.MethodPost, "/api/auth/login", "", creds)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first login expected 200, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/login", "", creds)
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second login expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("429 should carry a Retry-After header")
	}
}

func TestServerRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without an app should fail")
	}

	env := newServerEnv(t)
	if _, err := New(Config{App: env.app}); err == nil {
		t.Fatal("New without redis should fail to build the rate limiters")
	}
}

func TestInternalJobRoutesRequireServiceToken(t *testing.T) {
	env := newServerEnv(t)

	resp := env.doInternal(t, http.MethodPost, "/api/internal/jobs/expire-promotions", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing service token expected 401, got %d", resp.StatusCode)
	}

	resp = env.doInternal(t, http.MethodPost, "/api/internal/jobs/expire-promotions", "garbage")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus service token expected 401, got %d", resp.StatusCode)
	}

	token, err := env.signer.Sign("yardhop-api")
	if err != nil {
		t.Fatalf("sign service token: %v", err)
	}

	resp = env.doInternal(t, http.MethodPost, "/api/internal/jobs/expire-promotions", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expire job expected 200, got %d", resp.StatusCode)
	}
	var result app.JobResult
	decodeBody(t, resp, &result)
	if result.Processed != 0 || result.Skipped != 0 {
		t.Fatalf("expire job result = %+v, want zeros", result)
	}

	// the digest job needs a queue, which this environment does not wire
	resp = env.doInternal(t, http.MethodPost, "/api/internal/jobs/weekly-digest", token)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("digest job without queue expected 409, got %d", resp.StatusCode)
	}
	var envelope struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &envelope)
	if envelope.Code != "conflict" {
		t.Fatalf("digest job code = %q", envelope.Code)
	}

	resp = env.doInternal(t, http.MethodGet, "/api/internal/jobs/expire-promotions", token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET on a job route expected 405, got %d", resp.StatusCode)
	}
}

func TestPaymentWebhookRoute(t *testing.T) {
	env := newServerEnv(t)
	payload := []byte(`{"id":"evt_http_1","type":"checkout.session.completed","data":{"object":{"id":"cs_unknown","client_reference_id":"promo-missing"}}}`)

	// events for sessions we never opened are acked so the provider stops retrying
	sig := payments.SignPayload(payload, serverTestWebhookSecret, time.Now())
	resp := env.postWebhook(t, payload, sig)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signed webhook expected 200, got %d", resp.StatusCode)
	}
	var ack struct {
		Received bool `json:"received"`
	}
	decodeBody(t, resp, &ack)
	if !ack.Received {
		t.Fatal("webhook ack should set received")
	}

	wrong := payments.SignPayload(payload, "whsec_other", time.Now())
	resp = env.postWebhook(t, payload, wrong)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong-secret webhook expected 400, got %d", resp.StatusCode)
	}

	resp = env.postWebhook(t, payload, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsigned webhook expected 400, got %d", resp.StatusCode)
	}
}

func TestAdminModerationHidesSaleFromPublicList(t *testing.T) {
	env := newServerEnv(t)
	_, adminToken := env.signUp(t, "admin@example.com")
	_, ownerToken := env.signUp(t, "owner@example.com")
	sale := env.createSale(t, ownerToken, "Questionable sale", "55401")
	env.publishSale(t, ownerToken, sale.ID)

	var list struct {
		Items []domain.Sale `json:"items"`
		Count int           `json:"count"`
	}
	resp := env.do(t, http.MethodGet, "/api/sales", "", nil)
	decodeBody(t, resp, &list)
	if list.Count != 1 {
		t.Fatalf("public list before moderation = %d, want 1", list.Count)
	}

	resp = env.do(t, http.MethodPatch, "/api/admin/sales/"+sale.ID, adminToken, map[string]string{
		"moderation": "hidden",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("moderation patch expected 200, got %d", resp.StatusCode)
	}
	var hidden domain.Sale
	decodeBody(t, resp, &hidden)
	if hidden.Moderation != domain.ModerationHidden {
		t.Fatalf("moderation after patch = %q", hidden.Moderation)
	}

	resp = env.do(t, http.MethodGet, "/api/sales", "", nil)
	decodeBody(t, resp, &list)
	if list.Count != 0 {
		t.Fatalf("public list after moderation = %d, want 0", list.Count)
	}

	resp = env.do(t, http.MethodGet, "/api/sales/"+sale.ID, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("hidden sale detail expected 404, got %d", resp.StatusCode)
	}
	var envelope struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &envelope)
	if envelope.Code != "not_found" {
		t.Fatalf("hidden sale code = %q", envelope.Code)
	}

	// the owner still sees their own sale
	resp = env.do(t, http.MethodGet, "/api/sales/"+sale.ID, ownerToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner view of hidden sale expected 200, got %d", resp.StatusCode)
	}
}

func (e *serverEnv) doInternal(t *testing.T, method, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("X-Internal-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *serverEnv) postWebhook(t *testing.T, payload []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/webhooks/payments", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Payment-Signature", signature)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	return resp
}
