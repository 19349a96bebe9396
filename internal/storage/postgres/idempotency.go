package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

const defaultIdempotencyTTL = 30 * 24 * time.Hour

// idempotencyQueries реализует операции над таблицей идемпотентности сервиса.
type idempotencyQueries struct {
	table string
}

// claim вставляет запись (key, operation) со статусом processing. При
// конфликте уникального индекса перечитывает существующую запись — так
// повтор запроса получает либо replay-ответ, либо "ещё обрабатывается".
func (q idempotencyQueries) claim(ctx context.Context, db Querier, key, operation string, ttlAt time.Time) (domain.IdempotencyRecord, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, false, domain.ErrIdempotencyKeyRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, operation, status, ttl_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, q.table),
		key, operation, string(domain.IdempotencyStatusProcessing), ttlAt, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := q.get(ctx, db, key, operation)
			if getErr != nil {
				return domain.IdempotencyRecord{}, false, fmt.Errorf("reread idempotency record: %w", getErr)
			}
			return existing, false, nil
		}
		return domain.IdempotencyRecord{}, false, fmt.Errorf("create idempotency record: %w", err)
	}

	return domain.IdempotencyRecord{
		Key:       key,
		Operation: operation,
		Status:    domain.IdempotencyStatusProcessing,
		TTLAt:     ttlAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, true, nil
}

func (q idempotencyQueries) get(ctx context.Context, db Querier, key, operation string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	var (
		record       domain.IdempotencyRecord
		statusRaw    string
		responseBody []byte
		httpStatus   sql.NullInt64
	)

	err := db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT key, operation, status, response_body, http_status, ttl_at, created_at, updated_at
		FROM %s
		WHERE key = $1 AND operation = $2
	`, q.table), key, operation).Scan(
		&record.Key, &record.Operation, &statusRaw, &responseBody, &httpStatus,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	record.Status = domain.IdempotencyStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", statusRaw, key)
	}
	record.ResponseBody = append([]byte(nil), responseBody...)
	if httpStatus.Valid {
		record.HTTPStatus = int(httpStatus.Int64)
	}
	return record, nil
}

func (q idempotencyQueries) complete(ctx context.Context, db Querier, key, operation string, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	res, err := db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = $3, response_body = $4, http_status = $5, updated_at = $6
		WHERE key = $1 AND operation = $2
	`, q.table),
		key, operation, string(domain.IdempotencyStatusCompleted),
		responseBody, httpStatus, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (q idempotencyQueries) deleteExpired(ctx context.Context, db Querier, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = db.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s
			WHERE (key, operation) IN (
				SELECT key, operation FROM %s
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
			)
		`, q.table, q.table), before, limit)
	} else {
		res, err = db.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s WHERE ttl_at <= $1
		`, q.table), before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}
