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

// CartStore — PostgreSQL-хранилище cart-сервиса.
type CartStore struct {
	store  *Store
	outbox outboxQueries
}

var _ domain.CartStore = (*CartStore)(nil)

// NewCartStore создаёт хранилище корзин поверх открытого подключения.
func NewCartStore(store *Store) *CartStore {
	return &CartStore{store: store, outbox: outboxQueries{table: CartOutboxTable}}
}

// WithinTx выполняет fn внутри одной транзакции cart-сервиса.
func (s *CartStore) WithinTx(ctx context.Context, fn func(tx domain.CartTx) error) error {
	return s.store.WithinTx(ctx, func(tx *sql.Tx) error {
		return fn(&cartTx{ctx: ctx, tx: tx, outbox: s.outbox})
	})
}

// GetCart возвращает корзину по id.
func (s *CartStore) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return scanCart(s.store.db.QueryRowContext(ctx, `
		SELECT id, user_id, currency, status, items, version, created_at, updated_at
		FROM carts
		WHERE id = $1
	`, id))
}

// GetSnapshot возвращает подписанный снапшот по id корзины. У корзины
// после чекаута ровно один снапшот.
func (s *CartStore) GetSnapshot(ctx context.Context, cartID string) (domain.CartSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		snap     domain.CartSnapshot
		itemsRaw []byte
	)
	err := s.store.db.QueryRowContext(ctx, `
		SELECT snapshot_id, cart_id, cart_version, currency, items,
		       subtotal_cents, total_cents, signed_at, signature
		FROM cart_snapshots
		WHERE cart_id = $1
	`, cartID).Scan(
		&snap.SnapshotID, &snap.CartID, &snap.CartVersion, &snap.Currency, &itemsRaw,
		&snap.Totals.SubtotalCents, &snap.Totals.TotalCents, &snap.SignedAt, &snap.Signature,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartSnapshot{}, domain.ErrCartNotFound
		}
		return domain.CartSnapshot{}, fmt.Errorf("get cart snapshot: %w", err)
	}
	if err := json.Unmarshal(itemsRaw, &snap.Items); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("unmarshal snapshot items: %w", err)
	}
	return snap, nil
}

type cartTx struct {
	ctx    context.Context
	tx     *sql.Tx
	outbox outboxQueries
}

var _ domain.CartTx = (*cartTx)(nil)

func (t *cartTx) AppendOutbox(msg domain.OutboxMessage) error {
	return t.outbox.append(t.ctx, t.tx, msg)
}

func (t *cartTx) InsertCart(cart domain.Cart) error {
	items, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("marshal cart items: %w", err)
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO carts (id, user_id, currency, status, items, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		cart.ID, cart.UserID, cart.Currency, string(cart.Status),
		items, cart.Version, cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

func (t *cartTx) GetCartForUpdate(id string) (domain.Cart, error) {
	return scanCart(t.tx.QueryRowContext(t.ctx, `
		SELECT id, user_id, currency, status, items, version, created_at, updated_at
		FROM carts
		WHERE id = $1
		FOR UPDATE
	`, id))
}

// UpdateCart сохраняет корзину с уже увеличенной версией; предикат сверяет
// предыдущую версию строки, несовпадение означает конкурентную мутацию.
func (t *cartTx) UpdateCart(cart domain.Cart) error {
	items, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("marshal cart items: %w", err)
	}

	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE carts
		SET currency = $3, status = $4, items = $5, version = $6, updated_at = $7
		WHERE id = $1 AND version = $2
	`,
		cart.ID, cart.Version-1, cart.Currency, string(cart.Status),
		items, cart.Version, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cart rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCartVersionConflict
	}
	return nil
}

func (t *cartTx) InsertSnapshot(snapshot domain.CartSnapshot) error {
	items, err := json.Marshal(snapshot.Items)
	if err != nil {
		return fmt.Errorf("marshal snapshot items: %w", err)
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO cart_snapshots (snapshot_id, cart_id, cart_version, currency, items,
		                            subtotal_cents, total_cents, signed_at, signature)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		snapshot.SnapshotID, snapshot.CartID, snapshot.CartVersion, snapshot.Currency, items,
		snapshot.Totals.SubtotalCents, snapshot.Totals.TotalCents, snapshot.SignedAt, snapshot.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert cart snapshot: %w", err)
	}
	return nil
}

func scanCart(row *sql.Row) (domain.Cart, error) {
	var (
		cart      domain.Cart
		statusRaw string
		itemsRaw  []byte
	)
	err := row.Scan(
		&cart.ID, &cart.UserID, &cart.Currency, &statusRaw, &itemsRaw,
		&cart.Version, &cart.CreatedAt, &cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}
	cart.Status = domain.CartStatus(statusRaw)
	if err := json.Unmarshal(itemsRaw, &cart.Items); err != nil {
		return domain.Cart{}, fmt.Errorf("unmarshal cart items: %w", err)
	}
	return cart, nil
}
