package polar

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Polar signs webhooks with the Standard Webhooks scheme: an HMAC-SHA256 over
// "{msg-id}.{timestamp}.{payload}" keyed with the base64-decoded secret, sent
// base64-encoded in the webhook-signature header as "v1,<sig>" entries.

// Webhook event types delivered by Polar that this service handles.
const (
	EventOrderPaid            = "order.paid"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
)

// Event is the envelope of every Polar webhook payload. Data is decoded per
// event type by the consumer.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var (
	ErrMissingSignatureHeaders = errors.New("missing webhook signature headers")
	ErrInvalidSignature        = errors.New("webhook signature verification failed")
	ErrTimestampOutOfTolerance = errors.New("webhook timestamp outside tolerance")
)

// signatureTolerance bounds replay: events older or newer than this are rejected.
const signatureTolerance = 5 * time.Minute

func decodeSecret(secret string) []byte {
	trimmed := strings.TrimPrefix(secret, "whsec_")
	if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return decoded
	}
	return []byte(trimmed)
}

// VerifySignature checks the Standard Webhooks headers against the payload.
func VerifySignature(headers http.Header, payload []byte, secret string, now time.Time) error {
	msgID := headers.Get("webhook-id")
	timestamp := headers.Get("webhook-timestamp")
	signatures := headers.Get("webhook-signature")
	if msgID == "" || timestamp == "" || signatures == "" {
		return ErrMissingSignatureHeaders
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing webhook timestamp: %w", err)
	}
	sent := time.Unix(ts, 0)
	if sent.Before(now.Add(-signatureTolerance)) || sent.After(now.Add(signatureTolerance)) {
		return ErrTimestampOutOfTolerance
	}

	mac := hmac.New(sha256.New, decodeSecret(secret))
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, entry := range strings.Fields(signatures) {
		version, sig, found := strings.Cut(entry, ",")
		if !found || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ParseEvent verifies the request signature and decodes the event envelope.
func ParseEvent(headers http.Header, payload []byte, secret string, now time.Time) (*Event, error) {
	if err := VerifySignature(headers, payload, secret, now); err != nil {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decoding webhook envelope: %w", err)
	}
	if event.Type == "" {
		return nil, errors.New("webhook envelope missing type")
	}
	return &event, nil
}
