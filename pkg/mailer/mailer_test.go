package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPMailerSend(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/send" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewHTTPMailer(srv.URL, "key-123", "digest@yardhop.app")
	err := m.Send(context.Background(), Message{
		To:      "user@example.com",
		Subject: "Sales near you this week",
		HTML:    "<p>12 sales</p>",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAuth != "Bearer key-123" {
		t.Fatalf("authorization: got %q", gotAuth)
	}
	if gotBody["from"] != "digest@yardhop.app" || gotBody["to"] != "user@example.com" {
		t.Fatalf("payload: %+v", gotBody)
	}
	if gotBody["subject"] != "Sales near you this week" {
		t.Fatalf("subject: %q", gotBody["subject"])
	}
}

func TestHTTPMailerSendValidatesMessage(t *testing.T) {
	m := NewHTTPMailer("http://mail.invalid", "", "digest@yardhop.app")
	if err := m.Send(context.Background(), Message{Subject: "s"}); err == nil {
		t.Fatalf("expected error for missing recipient")
	}
	if err := m.Send(context.Background(), Message{To: "a@b.c"}); err == nil {
		t.Fatalf("expected error for missing subject")
	}
}

func TestHTTPMailerSendProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"invalid recipient"}`))
	}))
	defer srv.Close()

	m := NewHTTPMailer(srv.URL, "", "digest@yardhop.app")
	err := m.Send(context.Background(), Message{To: "bad", Subject: "s"})
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if got := err.Error(); got != "mail provider: invalid recipient" {
		t.Fatalf("error message: %q", got)
	}
}

func TestNopMailer(t *testing.T) {
	if err := (NopMailer{}).Send(context.Background(), Message{To: "a@b.c", Subject: "s"}); err != nil {
		t.Fatalf("nop mailer: %v", err)
	}
}
