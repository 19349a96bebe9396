package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// outboxQueries реализует outbox-операции над таблицей конкретного сервиса.
// Схема всех outbox-таблиц одинакова, различается только имя.
type outboxQueries struct {
	table string
}

func (q outboxQueries) append(ctx context.Context, db Querier, msg domain.OutboxMessage) error {
	if msg.Status == "" {
		msg.Status = domain.OutboxStatusPending
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, event_type, aggregate_id, aggregate_type, payload,
			occurred_at, correlation_id, causation_id, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, q.table),
		msg.ID, msg.Type, msg.AggregateID, msg.AggregateType, msg.Payload,
		msg.OccurredAt, msg.CorrelationID, msg.CausationID, string(msg.Status),
	)
	if err != nil {
		return fmt.Errorf("append outbox message: %w", err)
	}
	return nil
}

func (q outboxQueries) pending(ctx context.Context, db Querier, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, event_type, aggregate_id, aggregate_type, payload,
		       occurred_at, correlation_id, causation_id
		FROM %s
		WHERE status = 'pending'
		ORDER BY occurred_at, id
		LIMIT $1
	`, q.table), limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		msg := domain.OutboxMessage{Status: domain.OutboxStatusPending}
		if err := rows.Scan(
			&msg.ID, &msg.Type, &msg.AggregateID, &msg.AggregateType, &msg.Payload,
			&msg.OccurredAt, &msg.CorrelationID, &msg.CausationID,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return result, nil
}

// claim атомарно переводит pending → processing. Ноль затронутых строк
// означает, что запись уже захвачена конкурентным воркером.
func (q outboxQueries) claim(ctx context.Context, db Querier, id string) (bool, error) {
	res, err := db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = 'processing'
		WHERE id = $1 AND status = 'pending'
	`, q.table), id)
	if err != nil {
		return false, fmt.Errorf("claim outbox message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for outbox claim: %w", err)
	}
	return affected == 1, nil
}

func (q outboxQueries) markPublished(ctx context.Context, db Querier, id string) error {
	res, err := db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = 'published', published_at = $2, error = ''
		WHERE id = $1 AND status = 'processing'
	`, q.table), id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message published: %w", err)
	}
	return q.checkAffected(res)
}

func (q outboxQueries) markFailed(ctx context.Context, db Querier, id, cause string) error {
	res, err := db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = 'failed', error = $2
		WHERE id = $1 AND status = 'processing'
	`, q.table), id, cause)
	if err != nil {
		return fmt.Errorf("mark outbox message failed: %w", err)
	}
	return q.checkAffected(res)
}

// requeueFailed возвращает failed-записи в pending — ручной реплей оператором.
func (q outboxQueries) requeueFailed(ctx context.Context, db Querier, limit int) (int, error) {
	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET status = 'pending', error = ''
			WHERE id IN (
				SELECT id FROM %s
				WHERE status = 'failed'
				ORDER BY occurred_at
				LIMIT $1
			)
		`, q.table, q.table), limit)
	} else {
		res, err = db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET status = 'pending', error = ''
			WHERE status = 'failed'
		`, q.table))
	}
	if err != nil {
		return 0, fmt.Errorf("requeue failed outbox messages: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for outbox requeue: %w", err)
	}
	return int(affected), nil
}

func (q outboxQueries) stats(ctx context.Context, db Querier) (domain.OutboxStats, error) {
	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			MIN(occurred_at) FILTER (WHERE status = 'pending')
		FROM %s
	`, q.table)).Scan(&stats.PendingCount, &stats.FailedCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (q outboxQueries) checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox update: %w", err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}
