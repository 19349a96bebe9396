package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// IdempotencyMemory — in-memory таблица ключей идемпотентности сервиса.
// Транзакции сервисных хранилищ работают с ней через буфер: изменения
// видны остальным только после коммита.
type IdempotencyMemory struct {
	mu    sync.RWMutex
	items map[string]domain.IdempotencyRecord
}

var _ domain.IdempotencyStore = (*IdempotencyMemory)(nil)

// NewIdempotencyMemory создаёт пустую in-memory таблицу ключей.
func NewIdempotencyMemory() *IdempotencyMemory {
	return &IdempotencyMemory{items: make(map[string]domain.IdempotencyRecord)}
}

func idemKey(key, operation string) string {
	return key + "\x00" + operation
}

func (m *IdempotencyMemory) GetIdempotency(_ context.Context, key, operation string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.items[idemKey(key, operation)]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneIdempotencyRecord(record), nil
}

func (m *IdempotencyMemory) DeleteExpiredIdempotency(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, record := range m.items {
		if record.TTLAt.After(before) {
			continue
		}
		delete(m.items, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

func (m *IdempotencyMemory) get(key, operation string) (domain.IdempotencyRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.items[idemKey(key, operation)]
	return cloneIdempotencyRecord(record), ok
}

func (m *IdempotencyMemory) apply(staged map[string]domain.IdempotencyRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, record := range staged {
		m.items[key] = cloneIdempotencyRecord(record)
	}
}

// idemBuffer — транзакционный вид таблицы ключей: чтения сквозные,
// записи копятся в staged до коммита.
type idemBuffer struct {
	shared *IdempotencyMemory
	staged map[string]domain.IdempotencyRecord
}

func newIdemBuffer(shared *IdempotencyMemory) *idemBuffer {
	return &idemBuffer{shared: shared, staged: make(map[string]domain.IdempotencyRecord)}
}

func (b *idemBuffer) claim(key, operation string, ttlAt time.Time) (domain.IdempotencyRecord, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, false, domain.ErrIdempotencyKeyRequired
	}

	if existing, ok := b.staged[idemKey(key, operation)]; ok {
		return cloneIdempotencyRecord(existing), false, nil
	}
	if existing, ok := b.shared.get(key, operation); ok {
		return existing, false, nil
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(30 * 24 * time.Hour)
	}

	record := domain.IdempotencyRecord{
		Key:       key,
		Operation: operation,
		Status:    domain.IdempotencyStatusProcessing,
		TTLAt:     ttlAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.staged[idemKey(key, operation)] = cloneIdempotencyRecord(record)
	return record, true, nil
}

func (b *idemBuffer) complete(key, operation string, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	record, ok := b.staged[idemKey(key, operation)]
	if !ok {
		record, ok = b.shared.get(key, operation)
		if !ok {
			return domain.ErrIdempotencyKeyNotFound
		}
	}

	record.Status = domain.IdempotencyStatusCompleted
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = time.Now().UTC()
	b.staged[idemKey(key, operation)] = record
	return nil
}

func (b *idemBuffer) commit() {
	b.shared.apply(b.staged)
}

func cloneIdempotencyRecord(record domain.IdempotencyRecord) domain.IdempotencyRecord {
	cloned := record
	cloned.ResponseBody = append([]byte(nil), record.ResponseBody...)
	return cloned
}
