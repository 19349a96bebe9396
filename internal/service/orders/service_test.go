package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
	"github.com/dkorolev/commerce/internal/storage/memory"
)

var testCartSecret = []byte("cart-signing-secret")

func signedSnapshot(t *testing.T) domain.CartSnapshot {
	t.Helper()
	snapshot := domain.CartSnapshot{
		SnapshotID:  "snap-1",
		CartID:      "cart-1",
		CartVersion: 2,
		Currency:    "USD",
		Items: []domain.SnapshotItem{
			{SKU: "SKU-A", Qty: 2, UnitPriceCents: 1500},
		},
		Totals:   domain.SnapshotTotals{SubtotalCents: 3000, TotalCents: 3000},
		SignedAt: time.Now().UTC(),
	}
	signed, err := snapshot.Sign(testCartSecret)
	if err != nil {
		t.Fatalf("sign snapshot: %v", err)
	}
	return signed
}

func newTestService(t *testing.T) (*Service, *memory.OrderStore) {
	t.Helper()
	store := memory.NewOrderStore(nil, nil)
	return NewService(store, testCartSecret), store
}

func TestCreateOrderFromSignedSnapshot(t *testing.T) {
	service, store := newTestService(t)

	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:         "user-1",
		Snapshot:       signedSnapshot(t),
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != domain.OrderStatusPlaced {
		t.Fatalf("status = %s, want placed", order.Status)
	}
	if order.AmountCents != 3000 {
		t.Fatalf("amount = %d, want 3000 (snapshot totals)", order.AmountCents)
	}

	events, err := store.Outbox().PendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending outbox: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventOrderPlaced {
		t.Fatalf("expected single OrderPlaced event, got %+v", events)
	}
}

func TestCreateOrderRejectsTamperedSnapshot(t *testing.T) {
	service, store := newTestService(t)

	snapshot := signedSnapshot(t)
	snapshot.Totals.TotalCents = 1

	_, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		Snapshot: snapshot,
	})
	if !errors.Is(err, domain.ErrSnapshotSignature) {
		t.Fatalf("expected ErrSnapshotSignature, got %v", err)
	}

	events, _ := store.Outbox().PendingOutbox(context.Background(), 10)
	if len(events) != 0 {
		t.Fatalf("tampered snapshot produced %d events", len(events))
	}
}

func TestCreateOrderReplaysWithSameKey(t *testing.T) {
	service, store := newTestService(t)
	snapshot := signedSnapshot(t)

	first, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:         "user-1",
		Snapshot:       snapshot,
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	second, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:         "user-1",
		Snapshot:       snapshot,
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned order %s, want %s", second.ID, first.ID)
	}

	// Ровно один заказ и одно событие на N вызовов с одним ключом.
	events, _ := store.Outbox().PendingOutbox(context.Background(), 10)
	if len(events) != 1 {
		t.Fatalf("expected 1 outbox event, got %d", len(events))
	}
}

func TestCancelOrder(t *testing.T) {
	service, store := newTestService(t)

	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		Snapshot: signedSnapshot(t),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	canceled, err := service.CancelOrder(context.Background(), order.ID, "customer request", "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != domain.OrderStatusCanceled {
		t.Fatalf("status = %s, want canceled", canceled.Status)
	}
	if canceled.CancellationReason != "customer request" {
		t.Fatalf("reason = %q", canceled.CancellationReason)
	}

	// Повторная отмена — no-op без нового события.
	if _, err := service.CancelOrder(context.Background(), order.ID, "again", ""); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	events, _ := store.Outbox().PendingOutbox(context.Background(), 10)
	if len(events) != 2 {
		t.Fatalf("expected placed+canceled events, got %d", len(events))
	}
	if events[1].Type != domain.EventOrderCanceled {
		t.Fatalf("second event type = %s", events[1].Type)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.CancelOrder(context.Background(), "ghost", "", ""); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
