package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// ShipmentStore — in-memory хранилище fulfillment-сервиса.
type ShipmentStore struct {
	mu        sync.Mutex
	shipments map[string]domain.Shipment
	byOrder   map[string]string
	outbox    *OutboxMemory
	idem      *IdempotencyMemory
}

var _ domain.ShipmentStore = (*ShipmentStore)(nil)

// NewShipmentStore создаёт in-memory хранилище отгрузок.
func NewShipmentStore(outbox *OutboxMemory, idem *IdempotencyMemory) *ShipmentStore {
	if outbox == nil {
		outbox = NewOutboxMemory()
	}
	if idem == nil {
		idem = NewIdempotencyMemory()
	}
	return &ShipmentStore{
		shipments: make(map[string]domain.Shipment),
		byOrder:   make(map[string]string),
		outbox:    outbox,
		idem:      idem,
	}
}

// Outbox возвращает outbox-таблицу хранилища.
func (s *ShipmentStore) Outbox() *OutboxMemory {
	return s.outbox
}

// Idempotency возвращает таблицу ключей идемпотентности хранилища.
func (s *ShipmentStore) Idempotency() *IdempotencyMemory {
	return s.idem
}

func (s *ShipmentStore) WithinTx(_ context.Context, fn func(tx domain.ShipmentTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &shipmentTx{
		shipments: cloneShipmentMap(s.shipments),
		byOrder:   cloneStringMap(s.byOrder),
		idem:      newIdemBuffer(s.idem),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.shipments = tx.shipments
	s.byOrder = tx.byOrder
	s.outbox.apply(tx.appended)
	tx.idem.commit()
	return nil
}

func (s *ShipmentStore) GetShipment(_ context.Context, id string) (domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shipments[id]
	if !ok {
		return domain.Shipment{}, domain.ErrShipmentNotFound
	}
	return sh, nil
}

func (s *ShipmentStore) ShipmentByOrder(_ context.Context, orderID string) (domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOrder[orderID]
	if !ok {
		return domain.Shipment{}, domain.ErrShipmentNotFound
	}
	return s.shipments[id], nil
}

type shipmentTx struct {
	shipments map[string]domain.Shipment
	byOrder   map[string]string
	idem      *idemBuffer
	appended  []domain.OutboxMessage
}

var _ domain.ShipmentTx = (*shipmentTx)(nil)

func (t *shipmentTx) AppendOutbox(msg domain.OutboxMessage) error {
	t.appended = append(t.appended, cloneOutboxMessage(msg))
	return nil
}

func (t *shipmentTx) ClaimIdempotency(key, operation string, ttlAt time.Time) (domain.IdempotencyRecord, bool, error) {
	return t.idem.claim(key, operation, ttlAt)
}

func (t *shipmentTx) CompleteIdempotency(key, operation string, responseBody []byte, httpStatus int) error {
	return t.idem.complete(key, operation, responseBody, httpStatus)
}

func (t *shipmentTx) InsertShipment(sh domain.Shipment) error {
	if _, ok := t.byOrder[sh.OrderID]; ok {
		return errors.New("shipment for order " + sh.OrderID + " already exists")
	}
	t.shipments[sh.ID] = sh
	t.byOrder[sh.OrderID] = sh.ID
	return nil
}

func (t *shipmentTx) ShipmentByOrder(orderID string) (domain.Shipment, error) {
	id, ok := t.byOrder[orderID]
	if !ok {
		return domain.Shipment{}, domain.ErrShipmentNotFound
	}
	return t.shipments[id], nil
}

func cloneShipmentMap(src map[string]domain.Shipment) map[string]domain.Shipment {
	dst := make(map[string]domain.Shipment, len(src))
	for id, sh := range src {
		dst[id] = sh
	}
	return dst
}

func cloneStringMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
