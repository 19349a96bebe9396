package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// OutboxMemory — in-memory outbox-таблица сервиса. Сервисные хранилища
// дописывают в неё при коммите транзакции, publisher-воркер читает её же,
// поэтому один экземпляр разделяется между хранилищем и воркером.
type OutboxMemory struct {
	mu    sync.Mutex
	items map[string]domain.OutboxMessage
}

var _ domain.OutboxStore = (*OutboxMemory)(nil)

// NewOutboxMemory создаёт пустую in-memory outbox-таблицу.
func NewOutboxMemory() *OutboxMemory {
	return &OutboxMemory{items: make(map[string]domain.OutboxMessage)}
}

// apply фиксирует записи, накопленные транзакцией сервисного хранилища.
func (o *OutboxMemory) apply(msgs []domain.OutboxMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, msg := range msgs {
		o.items[msg.ID] = cloneOutboxMessage(msg)
	}
}

func (o *OutboxMemory) PendingOutbox(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var result []domain.OutboxMessage
	for _, msg := range o.items {
		if msg.Status == domain.OutboxStatusPending {
			result = append(result, cloneOutboxMessage(msg))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].OccurredAt.Before(result[j].OccurredAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (o *OutboxMemory) ClaimOutbox(_ context.Context, id string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	msg, ok := o.items[id]
	if !ok || msg.Status != domain.OutboxStatusPending {
		return false, nil
	}
	msg.Status = domain.OutboxStatusProcessing
	o.items[id] = msg
	return true, nil
}

func (o *OutboxMemory) MarkOutboxPublished(_ context.Context, id string) error {
	return o.markProcessing(id, func(msg *domain.OutboxMessage) {
		now := time.Now().UTC()
		msg.Status = domain.OutboxStatusPublished
		msg.Error = ""
		msg.PublishedAt = &now
	})
}

func (o *OutboxMemory) MarkOutboxFailed(_ context.Context, id string, cause string) error {
	return o.markProcessing(id, func(msg *domain.OutboxMessage) {
		msg.Status = domain.OutboxStatusFailed
		msg.Error = strings.TrimSpace(cause)
	})
}

func (o *OutboxMemory) RequeueFailedOutbox(_ context.Context, limit int) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	requeued := 0
	for id, msg := range o.items {
		if msg.Status != domain.OutboxStatusFailed {
			continue
		}
		msg.Status = domain.OutboxStatusPending
		msg.Error = ""
		o.items[id] = msg
		requeued++
		if limit > 0 && requeued >= limit {
			break
		}
	}
	return requeued, nil
}

func (o *OutboxMemory) OutboxStats(_ context.Context) (domain.OutboxStats, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var stats domain.OutboxStats
	for _, msg := range o.items {
		switch msg.Status {
		case domain.OutboxStatusPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || msg.OccurredAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = msg.OccurredAt
			}
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (o *OutboxMemory) markProcessing(id string, mutate func(*domain.OutboxMessage)) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	msg, ok := o.items[id]
	if !ok || msg.Status != domain.OutboxStatusProcessing {
		return domain.ErrOutboxPublish
	}
	mutate(&msg)
	o.items[id] = msg
	return nil
}

func cloneOutboxMessage(msg domain.OutboxMessage) domain.OutboxMessage {
	cloned := msg
	cloned.Payload = append([]byte(nil), msg.Payload...)
	if msg.PublishedAt != nil {
		publishedAt := *msg.PublishedAt
		cloned.PublishedAt = &publishedAt
	}
	return cloned
}
