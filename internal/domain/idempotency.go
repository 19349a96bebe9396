package domain

import "time"

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing — запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusCompleted — запрос завершён, ответ сохранён для replay.
	IdempotencyStatusCompleted IdempotencyStatus = "completed"
)

// IdempotencyRecord хранит состояние мутации по паре (key, operation).
// Запись создаётся в той же транзакции, что и сама мутация: конфликт
// уникального индекса означает повтор запроса.
type IdempotencyRecord struct {
	Key          string
	Operation    string
	Status       IdempotencyStatus
	ResponseBody []byte
	HTTPStatus   int
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusCompleted:
		return true
	default:
		return false
	}
}

// ProcessedMessage фиксирует применённое входящее событие. Существование
// строки — и есть признак дубликата; вставка выполняется внутри транзакции
// побочного эффекта.
type ProcessedMessage struct {
	MessageID   string
	Source      string
	ProcessedAt time.Time
}
