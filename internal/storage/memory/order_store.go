package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// OrderStore — in-memory хранилище orders-сервиса.
type OrderStore struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	processed map[string]domain.ProcessedMessage
	outbox    *OutboxMemory
	idem      *IdempotencyMemory
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore создаёт in-memory хранилище заказов.
func NewOrderStore(outbox *OutboxMemory, idem *IdempotencyMemory) *OrderStore {
	if outbox == nil {
		outbox = NewOutboxMemory()
	}
	if idem == nil {
		idem = NewIdempotencyMemory()
	}
	return &OrderStore{
		orders:    make(map[string]domain.Order),
		processed: make(map[string]domain.ProcessedMessage),
		outbox:    outbox,
		idem:      idem,
	}
}

// Outbox возвращает outbox-таблицу хранилища.
func (s *OrderStore) Outbox() *OutboxMemory {
	return s.outbox
}

// Idempotency возвращает таблицу ключей идемпотентности хранилища.
func (s *OrderStore) Idempotency() *IdempotencyMemory {
	return s.idem
}

func (s *OrderStore) WithinTx(_ context.Context, fn func(tx domain.OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &orderTx{
		orders:    cloneOrderMap(s.orders),
		processed: cloneProcessedMap(s.processed),
		idem:      newIdemBuffer(s.idem),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.orders = tx.orders
	s.processed = tx.processed
	s.outbox.apply(tx.appended)
	tx.idem.commit()
	return nil
}

func (s *OrderStore) GetOrder(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *OrderStore) ListOrdersByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			result = append(result, cloneOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type orderTx struct {
	orders    map[string]domain.Order
	processed map[string]domain.ProcessedMessage
	idem      *idemBuffer
	appended  []domain.OutboxMessage
}

var _ domain.OrderTx = (*orderTx)(nil)

func (t *orderTx) AppendOutbox(msg domain.OutboxMessage) error {
	t.appended = append(t.appended, cloneOutboxMessage(msg))
	return nil
}

func (t *orderTx) ClaimIdempotency(key, operation string, ttlAt time.Time) (domain.IdempotencyRecord, bool, error) {
	return t.idem.claim(key, operation, ttlAt)
}

func (t *orderTx) CompleteIdempotency(key, operation string, responseBody []byte, httpStatus int) error {
	return t.idem.complete(key, operation, responseBody, httpStatus)
}

func (t *orderTx) ClaimMessage(messageID, source string) (bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false, errors.New("message id is required")
	}
	if _, ok := t.processed[messageID]; ok {
		return false, nil
	}
	t.processed[messageID] = domain.ProcessedMessage{
		MessageID:   messageID,
		Source:      source,
		ProcessedAt: time.Now().UTC(),
	}
	return true, nil
}

func (t *orderTx) InsertOrder(o domain.Order) error {
	t.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *orderTx) GetOrderForUpdate(id string) (domain.Order, error) {
	o, ok := t.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t *orderTx) UpdateOrder(o domain.Order) error {
	existing, ok := t.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	// Снапшот неизменяем: сохраняем его из существующей записи.
	o.Snapshot = existing.Snapshot
	o.UpdatedAt = time.Now().UTC()
	t.orders[o.ID] = cloneOrder(o)
	return nil
}

func cloneOrder(o domain.Order) domain.Order {
	cloned := o
	cloned.Snapshot = cloneSnapshot(o.Snapshot)
	return cloned
}

func cloneOrderMap(src map[string]domain.Order) map[string]domain.Order {
	dst := make(map[string]domain.Order, len(src))
	for id, o := range src {
		dst[id] = cloneOrder(o)
	}
	return dst
}

func cloneProcessedMap(src map[string]domain.ProcessedMessage) map[string]domain.ProcessedMessage {
	dst := make(map[string]domain.ProcessedMessage, len(src))
	for id, msg := range src {
		dst[id] = msg
	}
	return dst
}
