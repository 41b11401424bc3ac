package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws/awstest"
)

func newTestStore(now *time.Time) (*Store, *awstest.Dynamo) {
	db := awstest.Storefront()
	s := NewStore(db, "idempotency", 48*time.Hour)
	s.nowFunc = func() time.Time { return *now }
	return s, db
}

func TestBegin_Get_MarkDone(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, db := newTestStore(&now)
	ctx := context.Background()
	fp := Fingerprint("c1", `{"items":[]}`)

	rec, acquired, err := s.Begin(ctx, "k1", fp)
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if !acquired || rec != nil {
		t.Fatalf("expected fresh claim, got acquired=%v rec=%+v", acquired, rec)
	}

	// a retry while the first attempt runs sees it in progress
	rec, acquired, err = s.Begin(ctx, "k1", fp)
	if err != nil {
		t.Fatalf("second Begin error: %v", err)
	}
	if acquired {
		t.Fatalf("expected acquired=false on duplicate")
	}
	if rec == nil || rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS record, got %+v", rec)
	}

	if err := s.MarkDone(ctx, "k1", "order-1", `{"ok":true}`, 201); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}

	rec, acquired, err = s.Begin(ctx, "k1", fp)
	if err != nil {
		t.Fatalf("third Begin error: %v", err)
	}
	if acquired {
		t.Fatalf("expected replay, not a new claim")
	}
	if rec.Status != StatusDone || rec.ResponseStatus != 201 || rec.ResponseBody != `{"ok":true}` || rec.ResourceID != "order-1" {
		t.Fatalf("unexpected stored response: %+v", rec)
	}

	item := db.Get("idempotency", "k1")
	if exp, ok := item["expires_at"].(*types.AttributeValueMemberN); !ok || exp.Value != "1741003200" {
		t.Fatalf("expires_at not 48h ahead: %+v", item["expires_at"])
	}
}

func TestBegin_FingerprintMismatch(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(&now)
	ctx := context.Background()

	if _, _, err := s.Begin(ctx, "k1", Fingerprint("a")); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	_, acquired, err := s.Begin(ctx, "k1", Fingerprint("b"))
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}
	if acquired {
		t.Fatalf("mismatched request must not acquire the key")
	}
}

func TestBegin_ReclaimsFailed(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(&now)
	ctx := context.Background()
	fp := Fingerprint("a")

	if _, _, err := s.Begin(ctx, "k1", fp); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	now = now.Add(time.Second)
	if err := s.MarkFailed(ctx, "k1", "insufficient_funds"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}

	now = now.Add(time.Second)
	_, acquired, err := s.Begin(ctx, "k1", fp)
	if err != nil {
		t.Fatalf("Begin after failure error: %v", err)
	}
	if !acquired {
		t.Fatalf("expected a failed key to be claimable again")
	}
	rec, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS after reclaim, got %s", rec.Status)
	}
}

func TestBegin_ReclaimsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(&now)
	ctx := context.Background()

	if _, _, err := s.Begin(ctx, "k1", Fingerprint("a")); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if err := s.MarkDone(ctx, "k1", "o1", "{}", 201); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}

	now = now.Add(49 * time.Hour)
	_, acquired, err := s.Begin(ctx, "k1", Fingerprint("b"))
	if err != nil {
		t.Fatalf("Begin after expiry error: %v", err)
	}
	if !acquired {
		t.Fatalf("expected an expired key to be reusable")
	}
}

func TestBegin_InfrastructureError(t *testing.T) {
	now := time.Now()
	s, db := newTestStore(&now)
	db.FailNext("PutItem", errors.New("throttled"))

	if _, _, err := s.Begin(context.Background(), "k1", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGet_Missing(t *testing.T) {
	now := time.Now()
	s, _ := newTestStore(&now)
	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", rec, err)
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("a", "bc") == Fingerprint("ab", "c") {
		t.Fatalf("fingerprint must separate parts")
	}
	if Fingerprint("a") != Fingerprint("a") {
		t.Fatalf("fingerprint must be stable")
	}
}
