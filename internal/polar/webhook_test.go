package polar

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

const rawSecret = "0123456789abcdef"

func encodedSecret() string {
	return "whsec_" + base64.StdEncoding.EncodeToString([]byte(rawSecret))
}

func sign(msgID, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(rawSecret))
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedHeaders(msgID string, sent time.Time, payload []byte) http.Header {
	ts := fmt.Sprintf("%d", sent.Unix())
	h := http.Header{}
	h.Set("webhook-id", msgID)
	h.Set("webhook-timestamp", ts)
	h.Set("webhook-signature", "v1,"+sign(msgID, ts, payload))
	return h
}

func TestVerifySignatureValid(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"order.paid","data":{}}`)
	h := signedHeaders("msg_1", now, payload)

	if err := VerifySignature(h, payload, encodedSecret(), now); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifySignatureTamperedPayload(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"order.paid","data":{}}`)
	h := signedHeaders("msg_1", now, payload)

	err := VerifySignature(h, []byte(`{"type":"order.paid","data":{"paid":true}}`), encodedSecret(), now)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	now := time.Now()
	payload := []byte(`{}`)
	h := signedHeaders("msg_1", now, payload)

	otherSecret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("fedcba9876543210"))
	err := VerifySignature(h, payload, otherSecret, now)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifySignatureMissingHeaders(t *testing.T) {
	err := VerifySignature(http.Header{}, []byte(`{}`), encodedSecret(), time.Now())
	if !errors.Is(err, ErrMissingSignatureHeaders) {
		t.Fatalf("err = %v, want ErrMissingSignatureHeaders", err)
	}
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	now := time.Now()
	payload := []byte(`{}`)
	h := signedHeaders("msg_1", now.Add(-10*time.Minute), payload)

	err := VerifySignature(h, payload, encodedSecret(), now)
	if !errors.Is(err, ErrTimestampOutOfTolerance) {
		t.Fatalf("err = %v, want ErrTimestampOutOfTolerance", err)
	}
}

func TestVerifySignatureMultipleEntries(t *testing.T) {
	now := time.Now()
	payload := []byte(`{}`)
	ts := fmt.Sprintf("%d", now.Unix())
	h := http.Header{}
	h.Set("webhook-id", "msg_1")
	h.Set("webhook-timestamp", ts)
	// A rotated-secret delivery carries several signatures; one valid entry
	// is enough.
	bogus := base64.StdEncoding.EncodeToString([]byte("not-a-real-signature"))
	h.Set("webhook-signature", "v1,"+bogus+" v1,"+sign("msg_1", ts, payload))

	if err := VerifySignature(h, payload, encodedSecret(), now); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestParseEvent(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"subscription.created","data":{"id":"sub_1"}}`)
	h := signedHeaders("msg_1", now, payload)

	event, err := ParseEvent(h, payload, encodedSecret(), now)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if event.Type != EventSubscriptionCreated {
		t.Errorf("type = %q, want %q", event.Type, EventSubscriptionCreated)
	}
}

func TestParseEventMissingType(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"data":{}}`)
	h := signedHeaders("msg_1", now, payload)

	if _, err := ParseEvent(h, payload, encodedSecret(), now); err == nil {
		t.Fatal("expected error for envelope without type")
	}
}

func TestDecodeSecretPlain(t *testing.T) {
	// A secret that is not valid base64 is used as raw bytes.
	plain := "whsec_not base64!!"
	now := time.Now()
	payload := []byte(`{}`)
	ts := fmt.Sprintf("%d", now.Unix())

	mac := hmac.New(sha256.New, []byte("not base64!!"))
	fmt.Fprintf(mac, "msg_1.%s.", ts)
	mac.Write(payload)

	h := http.Header{}
	h.Set("webhook-id", "msg_1")
	h.Set("webhook-timestamp", ts)
	h.Set("webhook-signature", "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	if err := VerifySignature(h, payload, plain, now); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}
