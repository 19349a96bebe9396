package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkorolev/commerce/internal/client"
	"github.com/dkorolev/commerce/internal/domain"
	"github.com/dkorolev/commerce/internal/storage/memory"
)

func reservedEnvelope(t *testing.T, messageID, orderID string) domain.EventEnvelope {
	t.Helper()
	payload, err := json.Marshal(domain.StockReservedPayload{
		OrderID:   orderID,
		Items:     []domain.OrderLineRef{{SKU: "SKU-A", Qty: 2}},
		ExpiresAt: time.Now().UTC().Add(15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return domain.EventEnvelope{
		ID:         messageID,
		Type:       domain.EventStockReserved,
		OccurredAt: time.Now().UTC(),
		Aggregate:  domain.EventAggregate{ID: orderID, Type: "reservation", Version: 1},
		Payload:    payload,
	}
}

func failedEnvelope(t *testing.T, messageID, orderID string) domain.EventEnvelope {
	t.Helper()
	payload, err := json.Marshal(domain.StockReservationFailedPayload{
		OrderID: orderID,
		Reason:  domain.ReservationFailureInsufficientStock,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return domain.EventEnvelope{
		ID:         messageID,
		Type:       domain.EventStockReservationFailed,
		OccurredAt: time.Now().UTC(),
		Aggregate:  domain.EventAggregate{ID: orderID, Type: "reservation", Version: 1},
		Payload:    payload,
	}
}

func placeTestOrder(t *testing.T, service *Service) domain.Order {
	t.Helper()
	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		Snapshot: signedSnapshot(t),
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return order
}

func TestConsumerStockReservedRunsSaga(t *testing.T) {
	var paymentCalls, shipmentCalls atomic.Int32

	paymentsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paymentCalls.Add(1)
		if got := r.Header.Get(client.InternalSecretHeader); got != "secret" {
			t.Errorf("internal secret header = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(client.AuthorizeAndCaptureResponse{PaymentID: "pay-1", Status: "captured"})
	}))
	defer paymentsSrv.Close()

	fulfillmentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shipmentCalls.Add(1)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(client.CreateShipmentResponse{ShipmentID: "ship-1", Status: "created"})
	}))
	defer fulfillmentSrv.Close()

	store := memory.NewOrderStore(nil, nil)
	service := NewService(store, testCartSecret)
	order := placeTestOrder(t, service)

	consumer := NewConsumer(store,
		client.NewPaymentsClient(client.ServiceConfig{BaseURL: paymentsSrv.URL, Timeout: time.Second, Secret: "secret"}),
		client.NewFulfillmentClient(client.ServiceConfig{BaseURL: fulfillmentSrv.URL, Timeout: time.Second, Secret: "secret"}),
	)

	env := reservedEnvelope(t, "msg-1", order.ID)
	if err := consumer.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	updated, _ := store.GetOrder(context.Background(), order.ID)
	if updated.Status != domain.OrderStatusReserved {
		t.Fatalf("status = %s, want reserved", updated.Status)
	}
	if paymentCalls.Load() != 1 || shipmentCalls.Load() != 1 {
		t.Fatalf("downstream calls: payments=%d fulfillment=%d, want 1/1", paymentCalls.Load(), shipmentCalls.Load())
	}

	// Повторная доставка того же события не создаёт второй платёж.
	if err := consumer.Handle(context.Background(), env); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if paymentCalls.Load() != 1 {
		t.Fatalf("redelivery triggered %d payment calls", paymentCalls.Load())
	}
}

func TestConsumerDownstreamFailureDoesNotFailHandler(t *testing.T) {
	paymentsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer paymentsSrv.Close()

	store := memory.NewOrderStore(nil, nil)
	service := NewService(store, testCartSecret)
	order := placeTestOrder(t, service)

	consumer := NewConsumer(store,
		client.NewPaymentsClient(client.ServiceConfig{BaseURL: paymentsSrv.URL, Timeout: time.Second, Secret: "secret"}),
		nil,
	)

	if err := consumer.Handle(context.Background(), reservedEnvelope(t, "msg-1", order.ID)); err != nil {
		t.Fatalf("handler must not fail on downstream error, got %v", err)
	}

	updated, _ := store.GetOrder(context.Background(), order.ID)
	if updated.Status != domain.OrderStatusReserved {
		t.Fatalf("status = %s, want reserved despite payment failure", updated.Status)
	}
}

func TestConsumerReservationFailedRejectsOrder(t *testing.T) {
	store := memory.NewOrderStore(nil, nil)
	service := NewService(store, testCartSecret)
	order := placeTestOrder(t, service)

	consumer := NewConsumer(store, nil, nil)
	if err := consumer.Handle(context.Background(), failedEnvelope(t, "msg-1", order.ID)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	updated, _ := store.GetOrder(context.Background(), order.ID)
	if updated.Status != domain.OrderStatusRejected {
		t.Fatalf("status = %s, want rejected", updated.Status)
	}
	if updated.CancellationReason != domain.ReservationFailureInsufficientStock {
		t.Fatalf("reason = %q", updated.CancellationReason)
	}
}

func TestConsumerRejectsUnknownEventType(t *testing.T) {
	store := memory.NewOrderStore(nil, nil)
	consumer := NewConsumer(store, nil, nil)

	// Unregistered type must surface as an error so the broker dead-letters
	// the message instead of silently acking it.
	unknown := domain.EventEnvelope{ID: "msg-1", Type: "inventory.stock.audited.v9", Payload: json.RawMessage(`{}`)}
	err := consumer.Handle(context.Background(), unknown)
	if !errors.Is(err, domain.ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestConsumerIgnoresUnrelatedEvents(t *testing.T) {
	store := memory.NewOrderStore(nil, nil)
	consumer := NewConsumer(store, nil, nil)

	payload, _ := json.Marshal(domain.StockCommittedPayload{
		OrderID: "order-1",
		Items:   []domain.OrderLineRef{{SKU: "SKU-A", Qty: 1}},
	})
	committed := domain.EventEnvelope{ID: "msg-2", Type: domain.EventStockCommitted, Payload: payload}
	if err := consumer.Handle(context.Background(), committed); err != nil {
		t.Fatalf("committed event must be ignored, got %v", err)
	}
}
