package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

type lookupFunc func(ctx context.Context, eventID string) (bool, error)

func (f lookupFunc) EventKnown(ctx context.Context, eventID string) (bool, error) {
	return f(ctx, eventID)
}

func noneKnown(context.Context, string) (bool, error) { return false, nil }

func sigHex(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func sign(secret string, ts int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, sigHex(secret, ts, body))
}

func eventBody(id, typ, intentID string, created int64) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"created":%d,"data":{"object":{"id":%q,"status":"succeeded","metadata":{"order_id":"ord-1"}}}}`,
		id, typ, created, intentID))
}

func testVerifier(known EventLookup, at time.Time) *Verifier {
	v := NewVerifier("whsec_test", 5*time.Minute, known, nil)
	v.now = func() time.Time { return at }
	return v
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := eventBody("evt_1", EventIntentSucceeded, "pi_1", now.Unix())
	v := testVerifier(lookupFunc(noneKnown), now)

	evt, err := v.Verify(context.Background(), body, sign("whsec_test", now.Unix(), body))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if evt.ID != "evt_1" || evt.Type != EventIntentSucceeded || evt.IntentID != "pi_1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.OrderID != "ord-1" {
		t.Fatalf("order id hint = %q", evt.OrderID)
	}
	if evt.Checksum == "" {
		t.Fatal("checksum not set")
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := eventBody("evt_1", EventIntentSucceeded, "pi_1", now.Unix())
	v := testVerifier(lookupFunc(noneKnown), now)

	_, err := v.Verify(context.Background(), body, sign("whsec_wrong", now.Unix(), body))
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("want ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := eventBody("evt_1", EventIntentSucceeded, "pi_1", now.Unix())
	header := sign("whsec_test", now.Unix(), body)
	tampered := eventBody("evt_1", EventIntentSucceeded, "pi_OTHER", now.Unix())

	v := testVerifier(lookupFunc(noneKnown), now)
	if _, err := v.Verify(context.Background(), tampered, header); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("want ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := eventBody("evt_1", EventIntentSucceeded, "pi_1", now.Unix())
	v := testVerifier(lookupFunc(noneKnown), now)

	for _, header := range []string{"", "v1=aaaa", "t=notanumber,v1=aaaa", "t=12345"} {
		if _, err := v.Verify(context.Background(), body, header); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("header %q: want ErrBadSignature, got %v", header, err)
		}
	}
}

func TestVerifyStaleUnknownEventRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	old := now.Add(-time.Hour)
	body := eventBody("evt_old", EventIntentSucceeded, "pi_1", old.Unix())
	v := testVerifier(lookupFunc(noneKnown), now)

	_, err := v.Verify(context.Background(), body, sign("whsec_test", old.Unix(), body))
	if !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("want ErrStaleEvent, got %v", err)
	}
}

func TestVerifyStaleKnownEventPassesAsDuplicate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	old := now.Add(-time.Hour)
	body := eventBody("evt_old", EventIntentSucceeded, "pi_1", old.Unix())
	v := testVerifier(lookupFunc(func(_ context.Context, id string) (bool, error) {
		return id == "evt_old", nil
	}), now)

	evt, err := v.Verify(context.Background(), body, sign("whsec_test", old.Unix(), body))
	if err != nil {
		t.Fatalf("stale but known event should verify: %v", err)
	}
	if evt.ID != "evt_old" {
		t.Fatalf("event id = %q", evt.ID)
	}
}

func TestVerifyRotatedSecretSecondSignatureMatches(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := eventBody("evt_1", EventIntentSucceeded, "pi_1", now.Unix())

	header := fmt.Sprintf("t=%d,v1=%s,v1=%s",
		now.Unix(),
		sigHex("whsec_old", now.Unix(), body),
		sigHex("whsec_test", now.Unix(), body))

	v := testVerifier(lookupFunc(noneKnown), now)
	if _, err := v.Verify(context.Background(), body, header); err != nil {
		t.Fatalf("rotation header should verify: %v", err)
	}
}

func TestVerifyRejectsMalformedPayload(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"type":"payment_intent.succeeded"}`) // no id
	v := testVerifier(lookupFunc(noneKnown), now)

	_, err := v.Verify(context.Background(), body, sign("whsec_test", now.Unix(), body))
	if !errors.Is(err, ErrBadPayload) {
		t.Fatalf("want ErrBadPayload, got %v", err)
	}
}
