package postgres

import (
	"context"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// Имена таблиц платформы. Outbox/idempotency/inbox-таблицы всех сервисов
// структурно идентичны, поэтому запросы параметризуются именем таблицы.
const (
	CartOutboxTable        = "cart_outbox"
	CatalogOutboxTable     = "catalog_outbox"
	OrdersOutboxTable      = "orders_outbox"
	InventoryOutboxTable   = "inventory_outbox"
	PaymentsOutboxTable    = "payments_outbox"
	FulfillmentOutboxTable = "fulfillment_outbox"

	CatalogIdempotencyTable     = "catalog_idempotency_keys"
	OrdersIdempotencyTable      = "orders_idempotency_keys"
	PaymentsIdempotencyTable    = "payments_idempotency_keys"
	FulfillmentIdempotencyTable = "fulfillment_idempotency_keys"

	ordersInboxTable    = "orders_processed_messages"
	inventoryInboxTable = "inventory_processed_messages"
)

// OutboxRepo даёт publisher-воркеру и ops-тулингу доступ к outbox-таблице
// сервиса вне бизнес-транзакций.
type OutboxRepo struct {
	store *Store
	q     outboxQueries
}

var _ domain.OutboxStore = (*OutboxRepo)(nil)

// NewOutboxRepo создаёт репозиторий над указанной outbox-таблицей.
func NewOutboxRepo(store *Store, table string) *OutboxRepo {
	return &OutboxRepo{store: store, q: outboxQueries{table: table}}
}

func (r *OutboxRepo) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.q.pending(ctx, r.store.db, limit)
}

func (r *OutboxRepo) ClaimOutbox(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.q.claim(ctx, r.store.db, id)
}

func (r *OutboxRepo) MarkOutboxPublished(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.q.markPublished(ctx, r.store.db, id)
}

func (r *OutboxRepo) MarkOutboxFailed(ctx context.Context, id string, cause string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.q.markFailed(ctx, r.store.db, id, cause)
}

func (r *OutboxRepo) RequeueFailedOutbox(ctx context.Context, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.q.requeueFailed(ctx, r.store.db, limit)
}

func (r *OutboxRepo) OutboxStats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.q.stats(ctx, r.store.db)
}

// IdempotencyRepo обслуживает таблицу идемпотентности вне транзакций:
// чтение replay-ответов и фоновая чистка истёкших ключей.
type IdempotencyRepo struct {
	store *Store
	q     idempotencyQueries
}

var _ domain.IdempotencyStore = (*IdempotencyRepo)(nil)

// NewIdempotencyRepo создаёт репозиторий над указанной таблицей ключей.
func NewIdempotencyRepo(store *Store, table string) *IdempotencyRepo {
	return &IdempotencyRepo{store: store, q: idempotencyQueries{table: table}}
}

func (r *IdempotencyRepo) GetIdempotency(ctx context.Context, key, operation string) (domain.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.q.get(ctx, r.store.db, key, operation)
}

func (r *IdempotencyRepo) DeleteExpiredIdempotency(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.q.deleteExpired(ctx, r.store.db, before, limit)
}
