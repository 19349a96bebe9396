package domain

import (
	"encoding/json"
	"time"
)

// OutboxStatus описывает жизненный цикл записи transactional outbox.
// Запись движется только вперёд: pending → processing → published|failed.
type OutboxStatus string

const (
	// OutboxStatusPending — запись создана в транзакции бизнес-мутации и ждёт публикации.
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusProcessing — запись захвачена воркером; защищает от двойной публикации.
	OutboxStatusProcessing OutboxStatus = "processing"
	// OutboxStatusPublished — событие подтверждено брокером.
	OutboxStatusPublished OutboxStatus = "published"
	// OutboxStatusFailed — публикация не удалась; запись ждёт вмешательства оператора.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxMessage — строка outbox-таблицы сервиса. Поля повторяют envelope
// события, чтобы воркер мог восстановить его без обращения к агрегату.
type OutboxMessage struct {
	ID            string
	Type          string
	AggregateID   string
	AggregateType string
	Payload       []byte
	OccurredAt    time.Time
	CorrelationID string
	CausationID   string
	Status        OutboxStatus
	Error         string
	PublishedAt   *time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// NewOutboxMessage строит outbox-запись из envelope события.
func NewOutboxMessage(env EventEnvelope) OutboxMessage {
	return OutboxMessage{
		ID:            env.ID,
		Type:          env.Type,
		AggregateID:   env.Aggregate.ID,
		AggregateType: env.Aggregate.Type,
		Payload:       env.Payload,
		OccurredAt:    env.OccurredAt,
		CorrelationID: env.CorrelationID,
		CausationID:   env.CausationID,
		Status:        OutboxStatusPending,
	}
}

// Envelope восстанавливает wire-представление события из outbox-записи.
func (m OutboxMessage) Envelope() EventEnvelope {
	return EventEnvelope{
		ID:         m.ID,
		Type:       m.Type,
		OccurredAt: m.OccurredAt,
		Aggregate: EventAggregate{
			ID:      m.AggregateID,
			Type:    m.AggregateType,
			Version: 1,
		},
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
		Payload:       json.RawMessage(m.Payload),
	}
}
