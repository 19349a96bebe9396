package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// PaymentStore — PostgreSQL-хранилище payments-сервиса.
type PaymentStore struct {
	store  *Store
	outbox outboxQueries
	idem   idempotencyQueries
}

var _ domain.PaymentStore = (*PaymentStore)(nil)

// NewPaymentStore создаёт хранилище платежей поверх открытого подключения.
func NewPaymentStore(store *Store) *PaymentStore {
	return &PaymentStore{
		store:  store,
		outbox: outboxQueries{table: PaymentsOutboxTable},
		idem:   idempotencyQueries{table: PaymentsIdempotencyTable},
	}
}

// WithinTx выполняет fn внутри одной транзакции payments-сервиса.
func (s *PaymentStore) WithinTx(ctx context.Context, fn func(tx domain.PaymentTx) error) error {
	return s.store.WithinTx(ctx, func(tx *sql.Tx) error {
		return fn(&paymentTx{ctx: ctx, tx: tx, outbox: s.outbox, idem: s.idem})
	})
}

// GetPayment возвращает платёж по id.
func (s *PaymentStore) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return scanPayment(s.store.db.QueryRowContext(ctx, paymentSelect+` WHERE id = $1`, id))
}

// PaymentByOrder возвращает последний по времени платёж заказа.
func (s *PaymentStore) PaymentByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return scanPayment(s.store.db.QueryRowContext(ctx, paymentSelect+`
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID))
}

const paymentSelect = `
	SELECT id, order_id, status, amount_cents, currency, authorized_at, captured_at, failed_at, created_at, updated_at
	FROM payments`

type paymentTx struct {
	ctx    context.Context
	tx     *sql.Tx
	outbox outboxQueries
	idem   idempotencyQueries
}

var _ domain.PaymentTx = (*paymentTx)(nil)

func (t *paymentTx) AppendOutbox(msg domain.OutboxMessage) error {
	return t.outbox.append(t.ctx, t.tx, msg)
}

func (t *paymentTx) ClaimIdempotency(key, operation string, ttlAt time.Time) (domain.IdempotencyRecord, bool, error) {
	return t.idem.claim(t.ctx, t.tx, key, operation, ttlAt)
}

func (t *paymentTx) CompleteIdempotency(key, operation string, responseBody []byte, httpStatus int) error {
	return t.idem.complete(t.ctx, t.tx, key, operation, responseBody, httpStatus)
}

func (t *paymentTx) InsertPayment(p domain.Payment) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO payments (id, order_id, status, amount_cents, currency,
		                      authorized_at, captured_at, failed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		p.ID, p.OrderID, string(p.Status), p.AmountCents, p.Currency,
		p.AuthorizedAt, p.CapturedAt, p.FailedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *paymentTx) GetPaymentForUpdate(id string) (domain.Payment, error) {
	return scanPayment(t.tx.QueryRowContext(t.ctx, paymentSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *paymentTx) UpdatePayment(p domain.Payment) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE payments
		SET status = $2, authorized_at = $3, captured_at = $4, failed_at = $5, updated_at = $6
		WHERE id = $1
	`,
		p.ID, string(p.Status), p.AuthorizedAt, p.CapturedAt, p.FailedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func scanPayment(row *sql.Row) (domain.Payment, error) {
	var (
		p         domain.Payment
		statusRaw string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &statusRaw, &p.AmountCents, &p.Currency,
		&p.AuthorizedAt, &p.CapturedAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	p.Status = domain.PaymentStatus(statusRaw)
	return p, nil
}
