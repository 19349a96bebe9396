package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
	"github.com/dkorolev/commerce/internal/storage/memory"
)

func newTestEngine(t *testing.T) (*Engine, *memory.InventoryStore) {
	t.Helper()
	store := memory.NewInventoryStore(nil)
	return NewEngine(store, WithDefaultTTL(15*time.Minute)), store
}

func seedBalance(t *testing.T, store *memory.InventoryStore, sku string, onHand, reserved int64) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(tx domain.InventoryTx) error {
		return tx.UpsertBalance(domain.Balance{SKU: sku, OnHand: onHand, Reserved: reserved})
	})
	if err != nil {
		t.Fatalf("seed balance %s: %v", sku, err)
	}
}

func pendingEvents(t *testing.T, store *memory.InventoryStore) []domain.OutboxMessage {
	t.Helper()
	msgs, err := store.Outbox().PendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("pending outbox: %v", err)
	}
	return msgs
}

func TestReserveAllOrNothingSuccess(t *testing.T) {
	engine, store := newTestEngine(t)
	seedBalance(t, store, "SKU-A", 10, 0)
	seedBalance(t, store, "SKU-B", 5, 2)

	result, err := engine.Reserve(context.Background(), ReserveCommand{
		OrderID: "order-1",
		Items: []domain.ReservationItem{
			{SKU: "SKU-A", Qty: 3},
			{SKU: "SKU-B", Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("expected outcome applied, got %s (reason=%s)", result.Outcome, result.Reason)
	}
	if result.ExpiresAt.IsZero() {
		t.Fatal("expected expiresAt to be set")
	}

	a, _ := store.GetBalance(context.Background(), "SKU-A")
	if a.Reserved != 3 {
		t.Fatalf("SKU-A reserved = %d, want 3", a.Reserved)
	}
	b, _ := store.GetBalance(context.Background(), "SKU-B")
	if b.Reserved != 5 {
		t.Fatalf("SKU-B reserved = %d, want 5", b.Reserved)
	}

	events := pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected 1 outbox event, got %d", len(events))
	}
	if events[0].Type != domain.EventStockReserved {
		t.Fatalf("event type = %s, want %s", events[0].Type, domain.EventStockReserved)
	}
}

func TestReserveMergesDuplicateSKUs(t *testing.T) {
	engine, store := newTestEngine(t)
	seedBalance(t, store, "SKU-A", 10, 0)

	result, err := engine.Reserve(context.Background(), ReserveCommand{
		OrderID: "order-1",
		Items: []domain.ReservationItem{
			{SKU: "SKU-A", Qty: 2},
			{SKU: " SKU-A ", Qty: 3},
			{SKU: "SKU-A", Qty: 0},
		},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", result.Outcome)
	}

	balance, _ := store.GetBalance(context.Background(), "SKU-A")
	if balance.Reserved != 5 {
		t.Fatalf("reserved = %d, want 5 (2+3 merged, zero dropped)", balance.Reserved)
	}
}

func TestReserveInsufficientStockLeavesBalancesUntouched(t *testing.T) {
	engine, store := newTestEngine(t)
	seedBalance(t, store, "SKU-A", 10, 0)
	seedBalance(t, store, "SKU-B", 1, 0)

	result, err := engine.Reserve(context.Background(), ReserveCommand{
		OrderID: "order-1",
		Items: []domain.ReservationItem{
			{SKU: "SKU-A", Qty: 3},
			{SKU: "SKU-B", Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", result.Outcome)
	}
	if result.Reason != domain.ReservationFailureInsufficientStock {
		t.Fatalf("reason = %s, want %s", result.Reason, domain.ReservationFailureInsufficientStock)
	}
	if len(result.InsufficientItems) != 1 || result.InsufficientItems[0].SKU != "SKU-B" {
		t.Fatalf("unexpected insufficient items: %+v", result.InsufficientItems)
	}
	if result.InsufficientItems[0].Available != 1 {
		t.Fatalf("available = %d, want 1", result.InsufficientItems[0].Available)
	}

	// Нехватка одного SKU не должна трогать балансы других.
	a, _ := store.GetBalance(context.Background(), "SKU-A")
	if a.Reserved != 0 {
		t.Fatalf("SKU-A reserved = %d, want 0", a.Reserved)
	}

	events := pendingEvents(t, store)
	if len(events) != 1 || events[0].Type != domain.EventStockReservationFailed {
		t.Fatalf("expected single reservation failed event, got %+v", events)
	}
}

func TestReserveUnknownSKUReportedAsInsufficient(t *testing.T) {
	engine, store := newTestEngine(t)

	result, err := engine.Reserve(context.Background(), ReserveCommand{
		OrderID: "order-1",
		Items:   []domain.ReservationItem{{SKU: "GHOST", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.Outcome != OutcomeFailed || result.Reason != domain.ReservationFailureInsufficientStock {
		t.Fatalf("expected insufficient stock failure, got %+v", result)
	}
	if len(pendingEvents(t, store)) != 1 {
		t.Fatal("expected failure event in outbox")
	}
}

func TestReserveEmptyItemsFailsAsInvalid(t *testing.T) {
	engine, store := newTestEngine(t)

	result, err := engine.Reserve(context.Background(), ReserveCommand{
		OrderID: "order-1",
		Items:   []domain.ReservationItem{{SKU: "  ", Qty: 1}, {SKU: "SKU-A", Qty: -5}},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.Outcome != OutcomeFailed || result.Reason != domain.ReservationFailureInvalidItems {
		t.Fatalf("expected invalid items failure, got %+v", result)
	}

	events := pendingEvents(t, store)
	if len(events) != 1 || events[0].Type != domain.EventStockReservationFailed {
		t.Fatalf("expected reservation failed event, got %+v", events)
	}
}

func TestReserveDuplicateMessageHasNoEffect(t *testing.T) {
	engine, store := newTestEngine(t)
	seedBalance(t, store, "SKU-A", 10, 0)

	cmd := ReserveCommand{
		OrderID:   "order-1",
		Items:     []domain.ReservationItem{{SKU: "SKU-A", Qty: 2}},
		MessageID: "msg-1",
	}
	if _, err := engine.Reserve(context.Background(), cmd); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	result, err := engine.Reserve(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if result.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", result.Outcome)
	}

	balance, _ := store.GetBalance(context.Background(), "SKU-A")
	if balance.Reserved != 2 {
		t.Fatalf("reserved = %d, want 2 (no double reserve)", balance.Reserved)
	}
	if got := len(pendingEvents(t, store)); got != 1 {
		t.Fatalf("expected 1 outbox event, got %d", got)
	}
}

func TestCommitConsumesStock(t *testing.T) {
	engine, store := newTestEngine(t)
	seedBalance(t, store, "SKU-A", 10, 0)

	if _, err := engine.Reserve(context.Background(), ReserveCommand{
		OrderID: "order-1",
		Items:   []domain.ReservationItem{{SKU: "SKU-A", Qty: 4}},
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	result, err := engine.Commit(context.Background(), TransitionCommand{OrderID: "order-1"})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if result.Outcome != OutcomeApplied || result.Marked != 1 {
		t.Fatalf("unexpected commit result: %+v", result)
	}

	balance, _ := store.GetBalance(context.Background(), "SKU-A")
	if balance.OnHand != 6 || balance.Reserved != 0 {
		t.Fatalf("balance = %+v, want onHand=6 reserved=0", balance)
	}

	events := pendingEvents(t, store)
	if len(events) != 2 || events[1].Type != domain.EventStockCommitted {
		t.Fatalf("expected reserved+committed events, got %+v", events)
	}

	// Повторный commit не находит ACTIVE-резервов.
	again, err := engine.Commit(context.Background(), TransitionCommand{OrderID: "order-1"})
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if again.Outcome != OutcomeNoop {
		t.Fatalf("expected noop, got %s", again.Outcome)
	}
	if balance, _ = store.GetBalance(context.Background(), "SKU-A"); balance.OnHand != 6 {
		t.Fatalf("second commit changed onHand to %d", balance.OnHand)
	}
}

func TestReleaseReturnsReservedStock(t *testing.T) {
	engine, store := newTestEngine(t)
	seedBalance(t, store, "SKU-A", 10, 0)

	if _, err := engine.Reserve(context.Background(), ReserveCommand{
		OrderID: "order-1",
		Items:   []domain.ReservationItem{{SKU: "SKU-A", Qty: 4}},
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	result, err := engine.Release(context.Background(), TransitionCommand{
		OrderID: "order-1",
		Reason:  "payment failed",
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", result.Outcome)
	}

	balance, _ := store.GetBalance(context.Background(), "SKU-A")
	if balance.OnHand != 10 || balance.Reserved != 0 {
		t.Fatalf("balance = %+v, want onHand=10 reserved=0", balance)
	}

	events := pendingEvents(t, store)
	if len(events) != 2 || events[1].Type != domain.EventStockReleased {
		t.Fatalf("expected reserved+released events, got %+v", events)
	}
}

func TestReleaseFloorsReservedAtZero(t *testing.T) {
	engine, store := newTestEngine(t)
	seedBalance(t, store, "SKU-A", 10, 1)

	err := store.WithinTx(context.Background(), func(tx domain.InventoryTx) error {
		now := time.Now().UTC()
		return tx.InsertReservations([]domain.Reservation{{
			OrderID:   "order-1",
			SKU:       "SKU-A",
			Qty:       5,
			Status:    domain.ReservationStatusActive,
			ExpiresAt: now.Add(time.Minute),
			CreatedAt: now,
			UpdatedAt: now,
		}})
	})
	if err != nil {
		t.Fatalf("insert reservation: %v", err)
	}

	if _, err := engine.Release(context.Background(), TransitionCommand{OrderID: "order-1"}); err != nil {
		t.Fatalf("release: %v", err)
	}

	// reserved был меньше qty резерва: вычитание не должно уйти в минус.
	balance, _ := store.GetBalance(context.Background(), "SKU-A")
	if balance.Reserved != 0 {
		t.Fatalf("reserved = %d, want 0", balance.Reserved)
	}
}

func TestExpireSweepReleasesExpiredOrders(t *testing.T) {
	engine, store := newTestEngine(t)
	seedBalance(t, store, "SKU-A", 10, 3)
	seedBalance(t, store, "SKU-B", 10, 2)

	past := time.Now().UTC().Add(-time.Minute)
	err := store.WithinTx(context.Background(), func(tx domain.InventoryTx) error {
		return tx.InsertReservations([]domain.Reservation{
			{OrderID: "order-1", SKU: "SKU-A", Qty: 3, Status: domain.ReservationStatusActive, ExpiresAt: past, CreatedAt: past, UpdatedAt: past},
			{OrderID: "order-1", SKU: "SKU-B", Qty: 2, Status: domain.ReservationStatusActive, ExpiresAt: past, CreatedAt: past, UpdatedAt: past},
		})
	})
	if err != nil {
		t.Fatalf("insert reservations: %v", err)
	}

	expired, err := engine.ExpireSweep(context.Background(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired orders = %d, want 1 (two rows, one order)", expired)
	}

	a, _ := store.GetBalance(context.Background(), "SKU-A")
	b, _ := store.GetBalance(context.Background(), "SKU-B")
	if a.Reserved != 0 || b.Reserved != 0 {
		t.Fatalf("reserved after sweep: a=%d b=%d, want 0/0", a.Reserved, b.Reserved)
	}

	events := pendingEvents(t, store)
	if len(events) != 1 || events[0].Type != domain.EventStockExpired {
		t.Fatalf("expected single expired event, got %+v", events)
	}

	// Повторный прогон ничего не находит.
	expired, err = engine.ExpireSweep(context.Background(), 100)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("second sweep expired %d orders", expired)
	}
}

func TestAdjustRejectsOnHandBelowReserved(t *testing.T) {
	engine, store := newTestEngine(t)
	seedBalance(t, store, "SKU-A", 10, 4)

	if _, err := engine.Adjust(context.Background(), "SKU-A", 3); err == nil {
		t.Fatal("expected error when lowering onHand below reserved")
	}

	balance, err := engine.Adjust(context.Background(), "SKU-A", 20)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if balance.OnHand != 20 || balance.Reserved != 4 {
		t.Fatalf("balance = %+v, want onHand=20 reserved=4", balance)
	}
}
