package domain

import (
	"testing"
	"time"
)

func testSnapshot() CartSnapshot {
	return CartSnapshot{
		SnapshotID:  "snap-1",
		CartID:      "cart-1",
		CartVersion: 3,
		Currency:    "USD",
		Items: []SnapshotItem{
			{SKU: "SKU-A", Qty: 2, UnitPriceCents: 1500},
		},
		Totals:   SnapshotTotals{SubtotalCents: 3000, TotalCents: 3000},
		SignedAt: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestSnapshotSignAndVerify(t *testing.T) {
	secret := []byte("signing-secret")

	signed, err := testSnapshot().Sign(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signed.Signature == "" {
		t.Fatal("expected non-empty signature")
	}
	if err := signed.VerifySignature(secret); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSnapshotVerifyRejectsTampering(t *testing.T) {
	secret := []byte("signing-secret")

	signed, err := testSnapshot().Sign(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := signed
	tampered.Totals.TotalCents = 1
	if err := tampered.VerifySignature(secret); err != ErrSnapshotSignature {
		t.Fatalf("expected ErrSnapshotSignature, got %v", err)
	}

	if err := signed.VerifySignature([]byte("other-secret")); err != ErrSnapshotSignature {
		t.Fatalf("wrong secret: expected ErrSnapshotSignature, got %v", err)
	}

	unsigned := testSnapshot()
	if err := unsigned.VerifySignature(secret); err != ErrSnapshotSignature {
		t.Fatalf("missing signature: expected ErrSnapshotSignature, got %v", err)
	}
}
