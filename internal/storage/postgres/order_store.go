package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// OrderStore — PostgreSQL-хранилище orders-сервиса.
type OrderStore struct {
	store  *Store
	outbox outboxQueries
	idem   idempotencyQueries
	inbox  inboxQueries
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore создаёт хранилище заказов поверх открытого подключения.
func NewOrderStore(store *Store) *OrderStore {
	return &OrderStore{
		store:  store,
		outbox: outboxQueries{table: OrdersOutboxTable},
		idem:   idempotencyQueries{table: OrdersIdempotencyTable},
		inbox:  inboxQueries{table: ordersInboxTable},
	}
}

// WithinTx выполняет fn внутри одной транзакции orders-сервиса.
func (s *OrderStore) WithinTx(ctx context.Context, fn func(tx domain.OrderTx) error) error {
	return s.store.WithinTx(ctx, func(tx *sql.Tx) error {
		return fn(&orderTx{ctx: ctx, tx: tx, outbox: s.outbox, idem: s.idem, inbox: s.inbox})
	})
}

// GetOrder возвращает заказ по id.
func (s *OrderStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return scanOrder(s.store.db.QueryRowContext(ctx, orderSelect+` WHERE id = $1`, id))
}

// ListOrdersByUser возвращает заказы пользователя от новых к старым.
func (s *OrderStore) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.store.db.QueryContext(ctx, orderSelect+`
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders by user: %w", err)
	}
	defer rows.Close()

	var result []domain.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return result, nil
}

const orderSelect = `
	SELECT id, user_id, status, currency, amount_cents, snapshot, cancellation_reason, created_at, updated_at
	FROM orders`

type orderTx struct {
	ctx    context.Context
	tx     *sql.Tx
	outbox outboxQueries
	idem   idempotencyQueries
	inbox  inboxQueries
}

var _ domain.OrderTx = (*orderTx)(nil)

func (t *orderTx) AppendOutbox(msg domain.OutboxMessage) error {
	return t.outbox.append(t.ctx, t.tx, msg)
}

func (t *orderTx) ClaimIdempotency(key, operation string, ttlAt time.Time) (domain.IdempotencyRecord, bool, error) {
	return t.idem.claim(t.ctx, t.tx, key, operation, ttlAt)
}

func (t *orderTx) CompleteIdempotency(key, operation string, responseBody []byte, httpStatus int) error {
	return t.idem.complete(t.ctx, t.tx, key, operation, responseBody, httpStatus)
}

func (t *orderTx) ClaimMessage(messageID, source string) (bool, error) {
	return t.inbox.claimMessage(t.ctx, t.tx, messageID, source)
}

func (t *orderTx) InsertOrder(o domain.Order) error {
	snapshot, err := json.Marshal(o.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal order snapshot: %w", err)
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO orders (id, user_id, status, currency, amount_cents, snapshot, cancellation_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		o.ID, o.UserID, string(o.Status), o.Currency, o.AmountCents,
		snapshot, o.CancellationReason, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *orderTx) GetOrderForUpdate(id string) (domain.Order, error) {
	return scanOrder(t.tx.QueryRowContext(t.ctx, orderSelect+` WHERE id = $1 FOR UPDATE`, id))
}

// UpdateOrder сохраняет мутируемые поля заказа. Снапшот неизменяем и
// никогда не перезаписывается.
func (t *orderTx) UpdateOrder(o domain.Order) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE orders
		SET status = $2, cancellation_reason = $3, updated_at = $4
		WHERE id = $1
	`,
		o.ID, string(o.Status), o.CancellationReason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("order rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

type orderScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row *sql.Row) (domain.Order, error) {
	o, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	return o, nil
}

func scanOrderRow(row orderScanner) (domain.Order, error) {
	var (
		o           domain.Order
		statusRaw   string
		snapshotRaw []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &statusRaw, &o.Currency, &o.AmountCents,
		&snapshotRaw, &o.CancellationReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}
	o.Status = domain.OrderStatus(statusRaw)
	if err := json.Unmarshal(snapshotRaw, &o.Snapshot); err != nil {
		return domain.Order{}, fmt.Errorf("unmarshal order snapshot: %w", err)
	}
	return o, nil
}
