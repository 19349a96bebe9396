package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// CatalogStore — PostgreSQL-хранилище catalog-сервиса.
type CatalogStore struct {
	store  *Store
	outbox outboxQueries
	idem   idempotencyQueries
}

var _ domain.CatalogStore = (*CatalogStore)(nil)

// NewCatalogStore создаёт хранилище каталога поверх открытого подключения.
func NewCatalogStore(store *Store) *CatalogStore {
	return &CatalogStore{
		store:  store,
		outbox: outboxQueries{table: CatalogOutboxTable},
		idem:   idempotencyQueries{table: CatalogIdempotencyTable},
	}
}

// WithinTx выполняет fn внутри одной транзакции catalog-сервиса.
func (s *CatalogStore) WithinTx(ctx context.Context, fn func(tx domain.CatalogTx) error) error {
	return s.store.WithinTx(ctx, func(tx *sql.Tx) error {
		return fn(&catalogTx{ctx: ctx, tx: tx, outbox: s.outbox, idem: s.idem})
	})
}

// GetProduct возвращает товар по id.
func (s *CatalogStore) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return scanProduct(s.store.db.QueryRowContext(ctx, productSelect+` WHERE id = $1`, id))
}

// ProductsBySKU возвращает активные товары по списку SKU. Отсутствующие
// или деактивированные SKU в результат не попадают — решает вызывающий.
func (s *CatalogStore) ProductsBySKU(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	if len(skus) == 0 {
		return map[string]domain.Product{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.store.db.QueryContext(ctx, productSelect+`
		WHERE sku = ANY($1) AND active
	`, skus)
	if err != nil {
		return nil, fmt.Errorf("query products by sku: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(skus))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID, &p.SKU, &p.Name, &p.Description, &p.PriceCents,
			&p.Currency, &p.Active, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

const productSelect = `
	SELECT id, sku, name, description, price_cents, currency, active, created_at, updated_at
	FROM products`

type catalogTx struct {
	ctx    context.Context
	tx     *sql.Tx
	outbox outboxQueries
	idem   idempotencyQueries
}

var _ domain.CatalogTx = (*catalogTx)(nil)

func (t *catalogTx) AppendOutbox(msg domain.OutboxMessage) error {
	return t.outbox.append(t.ctx, t.tx, msg)
}

func (t *catalogTx) ClaimIdempotency(key, operation string, ttlAt time.Time) (domain.IdempotencyRecord, bool, error) {
	return t.idem.claim(t.ctx, t.tx, key, operation, ttlAt)
}

func (t *catalogTx) CompleteIdempotency(key, operation string, responseBody []byte, httpStatus int) error {
	return t.idem.complete(t.ctx, t.tx, key, operation, responseBody, httpStatus)
}

func (t *catalogTx) InsertProduct(p domain.Product) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO products (id, sku, name, description, price_cents, currency, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		p.ID, p.SKU, p.Name, p.Description, p.PriceCents,
		p.Currency, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("product sku %s already exists: %w", p.SKU, err)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (t *catalogTx) GetProductForUpdate(id string) (domain.Product, error) {
	return scanProduct(t.tx.QueryRowContext(t.ctx, productSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *catalogTx) UpdateProduct(p domain.Product) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE products
		SET name = $2, description = $3, price_cents = $4, currency = $5, active = $6, updated_at = $7
		WHERE id = $1
	`,
		p.ID, p.Name, p.Description, p.PriceCents, p.Currency, p.Active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("product rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func scanProduct(row *sql.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.SKU, &p.Name, &p.Description, &p.PriceCents,
		&p.Currency, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}
