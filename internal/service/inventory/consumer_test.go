package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkorolev/commerce/internal/domain"
	"github.com/dkorolev/commerce/internal/storage/memory"
)

func TestConsumerRejectsUnknownEventType(t *testing.T) {
	engine := NewEngine(memory.NewInventoryStore(nil))
	consumer := NewConsumer(engine)

	// Unregistered type must surface as an error so the broker dead-letters
	// the message instead of silently acking it.
	unknown := domain.EventEnvelope{ID: "msg-1", Type: "orders.order.archived.v9", Payload: json.RawMessage(`{}`)}
	err := consumer.Handle(context.Background(), unknown)
	if !errors.Is(err, domain.ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestConsumerIgnoresNonSagaEvents(t *testing.T) {
	engine := NewEngine(memory.NewInventoryStore(nil))
	consumer := NewConsumer(engine)

	payload, err := json.Marshal(domain.PaymentCapturedPayload{
		PaymentID:   "pay-1",
		OrderID:     "order-1",
		AmountCents: 1000,
		Currency:    "USD",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	captured := domain.EventEnvelope{ID: "msg-2", Type: domain.EventPaymentCaptured, Payload: payload}
	if err := consumer.Handle(context.Background(), captured); err != nil {
		t.Fatalf("captured event must be acked without effects, got %v", err)
	}
}

func TestConsumerOrderPlacedReservesStock(t *testing.T) {
	store := memory.NewInventoryStore(nil)
	engine := NewEngine(store)
	consumer := NewConsumer(engine)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx domain.InventoryTx) error {
		return tx.UpsertBalance(domain.Balance{SKU: "SKU-A", OnHand: 10})
	})
	if err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	payload, err := json.Marshal(domain.OrderPlacedPayload{
		OrderID:     "order-1",
		AmountCents: 1000,
		Currency:    "USD",
		Items:       []domain.OrderLineRef{{SKU: "SKU-A", Qty: 3}},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	env := domain.EventEnvelope{ID: "msg-3", Type: domain.EventOrderPlaced, Payload: payload}
	if err := consumer.Handle(ctx, env); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	balance, err := store.GetBalance(ctx, "SKU-A")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance.Reserved != 3 {
		t.Fatalf("expected 3 reserved, got %d", balance.Reserved)
	}
}
