package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// InventoryStore — PostgreSQL-хранилище inventory-сервиса.
type InventoryStore struct {
	store  *Store
	outbox outboxQueries
	inbox  inboxQueries
}

var _ domain.InventoryStore = (*InventoryStore)(nil)

// NewInventoryStore создаёт хранилище стока поверх открытого подключения.
func NewInventoryStore(store *Store) *InventoryStore {
	return &InventoryStore{
		store:  store,
		outbox: outboxQueries{table: InventoryOutboxTable},
		inbox:  inboxQueries{table: inventoryInboxTable},
	}
}

// WithinTx выполняет fn внутри одной транзакции inventory-сервиса.
func (s *InventoryStore) WithinTx(ctx context.Context, fn func(tx domain.InventoryTx) error) error {
	return s.store.WithinTx(ctx, func(tx *sql.Tx) error {
		return fn(&inventoryTx{ctx: ctx, tx: tx, outbox: s.outbox, inbox: s.inbox})
	})
}

// GetBalance возвращает баланс SKU.
func (s *InventoryStore) GetBalance(ctx context.Context, sku string) (domain.Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var b domain.Balance
	err := s.store.db.QueryRowContext(ctx, `
		SELECT sku, on_hand, reserved
		FROM inventory_balances
		WHERE sku = $1
	`, sku).Scan(&b.SKU, &b.OnHand, &b.Reserved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Balance{}, domain.ErrSKUNotFound
		}
		return domain.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// ExpiredReservations возвращает ACTIVE-резервы с истёкшим TTL.
func (s *InventoryStore) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.store.db.QueryContext(ctx, reservationSelect+`
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`, string(domain.ReservationStatusActive), now, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired reservations: %w", err)
	}
	defer rows.Close()

	return collectReservations(rows)
}

const reservationSelect = `
	SELECT order_id, sku, qty, status, expires_at, created_at, updated_at
	FROM inventory_reservations`

type inventoryTx struct {
	ctx    context.Context
	tx     *sql.Tx
	outbox outboxQueries
	inbox  inboxQueries
}

var _ domain.InventoryTx = (*inventoryTx)(nil)

func (t *inventoryTx) AppendOutbox(msg domain.OutboxMessage) error {
	return t.outbox.append(t.ctx, t.tx, msg)
}

func (t *inventoryTx) ClaimMessage(messageID, source string) (bool, error) {
	return t.inbox.claimMessage(t.ctx, t.tx, messageID, source)
}

// BalancesForUpdate блокирует балансы перечисленных SKU. Строки всегда
// захватываются в лексикографическом порядке SKU, чтобы два конкурентных
// резерва с пересекающимися наборами не взяли локи навстречу друг другу.
func (t *inventoryTx) BalancesForUpdate(skus []string) (map[string]domain.Balance, error) {
	if len(skus) == 0 {
		return map[string]domain.Balance{}, nil
	}

	ordered := append([]string(nil), skus...)
	sort.Strings(ordered)

	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT sku, on_hand, reserved
		FROM inventory_balances
		WHERE sku = ANY($1)
		ORDER BY sku
		FOR UPDATE
	`, ordered)
	if err != nil {
		return nil, fmt.Errorf("lock balances: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.Balance, len(ordered))
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.SKU, &b.OnHand, &b.Reserved); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		result[b.SKU] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return result, nil
}

func (t *inventoryTx) UpsertBalance(b domain.Balance) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO inventory_balances (sku, on_hand, reserved, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (sku) DO UPDATE
		SET on_hand = EXCLUDED.on_hand, reserved = EXCLUDED.reserved, updated_at = EXCLUDED.updated_at
	`, b.SKU, b.OnHand, b.Reserved, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

func (t *inventoryTx) AddReserved(sku string, qty int64) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE inventory_balances
		SET reserved = reserved + $2, updated_at = $3
		WHERE sku = $1
	`, sku, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add reserved: %w", err)
	}
	return checkSKUAffected(res)
}

// CommitStock списывает qty из onHand и reserved. Декременты флорятся в
// ноль: повторная компенсация не должна уводить счётчики в минус.
func (t *inventoryTx) CommitStock(sku string, qty int64) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE inventory_balances
		SET on_hand = GREATEST(on_hand - $2, 0),
		    reserved = GREATEST(reserved - $2, 0),
		    updated_at = $3
		WHERE sku = $1
	`, sku, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("commit stock: %w", err)
	}
	return checkSKUAffected(res)
}

func (t *inventoryTx) ReleaseStock(sku string, qty int64) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE inventory_balances
		SET reserved = GREATEST(reserved - $2, 0), updated_at = $3
		WHERE sku = $1
	`, sku, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	return checkSKUAffected(res)
}

func (t *inventoryTx) InsertReservations(rows []domain.Reservation) error {
	for _, r := range rows {
		_, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO inventory_reservations (order_id, sku, qty, status, expires_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			r.OrderID, r.SKU, r.Qty, string(r.Status), r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert reservation %s/%s: %w", r.OrderID, r.SKU, err)
		}
	}
	return nil
}

func (t *inventoryTx) ActiveReservations(orderID string) ([]domain.Reservation, error) {
	rows, err := t.tx.QueryContext(t.ctx, reservationSelect+`
		WHERE order_id = $1 AND status = $2
		ORDER BY sku
	`, orderID, string(domain.ReservationStatusActive))
	if err != nil {
		return nil, fmt.Errorf("query active reservations: %w", err)
	}
	defer rows.Close()

	return collectReservations(rows)
}

// MarkReservations переводит ACTIVE-резервы заказа в терминальный статус.
// Предикат по ACTIVE делает переход однократным даже при гонке со sweeper-ом.
func (t *inventoryTx) MarkReservations(orderID string, to domain.ReservationStatus) (int, error) {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE inventory_reservations
		SET status = $3, updated_at = $4
		WHERE order_id = $1 AND status = $2
	`, orderID, string(domain.ReservationStatusActive), string(to), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark reservations: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reservation rows affected: %w", err)
	}
	return int(affected), nil
}

func checkSKUAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("balance rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrSKUNotFound
	}
	return nil
}

func collectReservations(rows *sql.Rows) ([]domain.Reservation, error) {
	var result []domain.Reservation
	for rows.Next() {
		var (
			r         domain.Reservation
			statusRaw string
		)
		if err := rows.Scan(&r.OrderID, &r.SKU, &r.Qty, &statusRaw, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		r.Status = domain.ReservationStatus(statusRaw)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return result, nil
}
