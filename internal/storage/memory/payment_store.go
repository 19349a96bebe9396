package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// PaymentStore — in-memory хранилище payments-сервиса.
type PaymentStore struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	outbox   *OutboxMemory
	idem     *IdempotencyMemory
}

var _ domain.PaymentStore = (*PaymentStore)(nil)

// NewPaymentStore создаёт in-memory хранилище платежей.
func NewPaymentStore(outbox *OutboxMemory, idem *IdempotencyMemory) *PaymentStore {
	if outbox == nil {
		outbox = NewOutboxMemory()
	}
	if idem == nil {
		idem = NewIdempotencyMemory()
	}
	return &PaymentStore{
		payments: make(map[string]domain.Payment),
		outbox:   outbox,
		idem:     idem,
	}
}

// Outbox возвращает outbox-таблицу хранилища.
func (s *PaymentStore) Outbox() *OutboxMemory {
	return s.outbox
}

// Idempotency возвращает таблицу ключей идемпотентности хранилища.
func (s *PaymentStore) Idempotency() *IdempotencyMemory {
	return s.idem
}

func (s *PaymentStore) WithinTx(_ context.Context, fn func(tx domain.PaymentTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &paymentTx{
		payments: clonePaymentMap(s.payments),
		idem:     newIdemBuffer(s.idem),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.payments = tx.payments
	s.outbox.apply(tx.appended)
	tx.idem.commit()
	return nil
}

func (s *PaymentStore) GetPayment(_ context.Context, id string) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (s *PaymentStore) PaymentByOrder(_ context.Context, orderID string) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		latest domain.Payment
		found  bool
	)
	for _, p := range s.payments {
		if p.OrderID != orderID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
			found = true
		}
	}
	if !found {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return clonePayment(latest), nil
}

type paymentTx struct {
	payments map[string]domain.Payment
	idem     *idemBuffer
	appended []domain.OutboxMessage
}

var _ domain.PaymentTx = (*paymentTx)(nil)

func (t *paymentTx) AppendOutbox(msg domain.OutboxMessage) error {
	t.appended = append(t.appended, cloneOutboxMessage(msg))
	return nil
}

func (t *paymentTx) ClaimIdempotency(key, operation string, ttlAt time.Time) (domain.IdempotencyRecord, bool, error) {
	return t.idem.claim(key, operation, ttlAt)
}

func (t *paymentTx) CompleteIdempotency(key, operation string, responseBody []byte, httpStatus int) error {
	return t.idem.complete(key, operation, responseBody, httpStatus)
}

func (t *paymentTx) InsertPayment(p domain.Payment) error {
	t.payments[p.ID] = clonePayment(p)
	return nil
}

func (t *paymentTx) GetPaymentForUpdate(id string) (domain.Payment, error) {
	p, ok := t.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (t *paymentTx) UpdatePayment(p domain.Payment) error {
	if _, ok := t.payments[p.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	t.payments[p.ID] = clonePayment(p)
	return nil
}

func clonePayment(p domain.Payment) domain.Payment {
	cloned := p
	if p.AuthorizedAt != nil {
		ts := *p.AuthorizedAt
		cloned.AuthorizedAt = &ts
	}
	if p.CapturedAt != nil {
		ts := *p.CapturedAt
		cloned.CapturedAt = &ts
	}
	if p.FailedAt != nil {
		ts := *p.FailedAt
		cloned.FailedAt = &ts
	}
	return cloned
}

func clonePaymentMap(src map[string]domain.Payment) map[string]domain.Payment {
	dst := make(map[string]domain.Payment, len(src))
	for id, p := range src {
		dst[id] = clonePayment(p)
	}
	return dst
}
