package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// ShipmentStore — PostgreSQL-хранилище fulfillment-сервиса.
type ShipmentStore struct {
	store  *Store
	outbox outboxQueries
	idem   idempotencyQueries
}

var _ domain.ShipmentStore = (*ShipmentStore)(nil)

// NewShipmentStore создаёт хранилище отгрузок поверх открытого подключения.
func NewShipmentStore(store *Store) *ShipmentStore {
	return &ShipmentStore{
		store:  store,
		outbox: outboxQueries{table: FulfillmentOutboxTable},
		idem:   idempotencyQueries{table: FulfillmentIdempotencyTable},
	}
}

// WithinTx выполняет fn внутри одной транзакции fulfillment-сервиса.
func (s *ShipmentStore) WithinTx(ctx context.Context, fn func(tx domain.ShipmentTx) error) error {
	return s.store.WithinTx(ctx, func(tx *sql.Tx) error {
		return fn(&shipmentTx{ctx: ctx, tx: tx, outbox: s.outbox, idem: s.idem})
	})
}

// GetShipment возвращает отгрузку по id.
func (s *ShipmentStore) GetShipment(ctx context.Context, id string) (domain.Shipment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return scanShipment(s.store.db.QueryRowContext(ctx, shipmentSelect+` WHERE id = $1`, id))
}

// ShipmentByOrder возвращает отгрузку заказа. Отгрузка на заказ одна.
func (s *ShipmentStore) ShipmentByOrder(ctx context.Context, orderID string) (domain.Shipment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return scanShipment(s.store.db.QueryRowContext(ctx, shipmentSelect+` WHERE order_id = $1`, orderID))
}

const shipmentSelect = `
	SELECT id, order_id, status, created_at, updated_at
	FROM shipments`

type shipmentTx struct {
	ctx    context.Context
	tx     *sql.Tx
	outbox outboxQueries
	idem   idempotencyQueries
}

var _ domain.ShipmentTx = (*shipmentTx)(nil)

func (t *shipmentTx) AppendOutbox(msg domain.OutboxMessage) error {
	return t.outbox.append(t.ctx, t.tx, msg)
}

func (t *shipmentTx) ClaimIdempotency(key, operation string, ttlAt time.Time) (domain.IdempotencyRecord, bool, error) {
	return t.idem.claim(t.ctx, t.tx, key, operation, ttlAt)
}

func (t *shipmentTx) CompleteIdempotency(key, operation string, responseBody []byte, httpStatus int) error {
	return t.idem.complete(t.ctx, t.tx, key, operation, responseBody, httpStatus)
}

func (t *shipmentTx) InsertShipment(s domain.Shipment) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO shipments (id, order_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`,
		s.ID, s.OrderID, string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("shipment for order %s already exists: %w", s.OrderID, err)
		}
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

func (t *shipmentTx) ShipmentByOrder(orderID string) (domain.Shipment, error) {
	return scanShipment(t.tx.QueryRowContext(t.ctx, shipmentSelect+` WHERE order_id = $1 FOR UPDATE`, orderID))
}

func scanShipment(row *sql.Row) (domain.Shipment, error) {
	var (
		s         domain.Shipment
		statusRaw string
	)
	err := row.Scan(&s.ID, &s.OrderID, &statusRaw, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Shipment{}, domain.ErrShipmentNotFound
		}
		return domain.Shipment{}, fmt.Errorf("get shipment: %w", err)
	}
	s.Status = domain.ShipmentStatus(statusRaw)
	return s, nil
}
