package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Mailer delivers email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPMailer posts messages to an email provider's JSON API.
type HTTPMailer struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewHTTPMailer constructs a provider client. from is the sender address
// stamped on every message.
func NewHTTPMailer(baseURL, apiKey, from string) *HTTPMailer {
	return &HTTPMailer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		from:       strings.TrimSpace(from),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers one message through the provider.
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("mail recipient required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return errors.New("mail subject required")
	}
	payload := struct {
		From string `json:"from"`
		Message
	}{From: m.from, Message: msg}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return fmt.Errorf("mail provider: %s", errResp.Error)
		}
		return fmt.Errorf("mail provider returned %s", resp.Status)
	}
	return nil
}

// NopMailer drops messages, for dev mode and environments without a
// provider key.
type NopMailer struct{}

// Send discards the message.
func (NopMailer) Send(ctx context.Context, msg Message) error { return nil }
