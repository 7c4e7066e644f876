package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how old a webhook signature may be.
const DefaultTolerance = 5 * time.Minute

// Provider event types the promotion flow reacts to.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

var (
	// ErrSignatureInvalid indicates a missing, malformed, or wrong signature.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrSignatureExpired indicates the signature timestamp is outside tolerance.
	ErrSignatureExpired = errors.New("webhook signature expired")
)

// Event is one provider webhook delivery.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// SessionObject is the checkout session carried in checkout events.
type SessionObject struct {
	ID          string `json:"id"`
	Reference   string `json:"client_reference_id"`
	AmountTotal int64  `json:"amount_total"`
	Currency    string `json:"currency"`
}

// Session decodes the event payload as a checkout session.
func (e Event) Session() (SessionObject, error) {
	var s SessionObject
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return SessionObject{}, fmt.Errorf("decode session object: %w", err)
	}
	return s, nil
}

// VerifySignature checks a timestamped HMAC-SHA256 signature header of the
// form "t=<unix>,v1=<hex>[,v1=<hex>...]". The signed payload is
// "<t>.<body>"; any matching v1 entry passes, which allows secret rollover.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("webhook secret not configured")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrSignatureInvalid
			}
			ts = parsed
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrSignatureInvalid
	}

	at := time.Unix(ts, 0)
	if now.Sub(at) > tolerance || at.Sub(now) > tolerance {
		return ErrSignatureExpired
	}

	expected := computeSignature(payload, secret, ts)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// ParseEvent verifies the signature and decodes the event.
func ParseEvent(payload []byte, header, secret string, tolerance time.Duration, now time.Time) (Event, error) {
	if err := VerifySignature(payload, header, secret, tolerance, now); err != nil {
		return Event{}, err
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode webhook event: %w", err)
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return Event{}, errors.New("webhook event missing id or type")
	}
	return event, nil
}

// SignPayload produces a signature header for a payload, as the provider
// would. Used by tests and the dev-mode fake provider.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	sig := computeSignature(payload, secret, ts)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(sig))
}

func computeSignature(payload []byte, secret string, ts int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
