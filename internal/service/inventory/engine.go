package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/domain"
)

// defaultReservationTTL — срок жизни резерва до авторизации оплаты.
const defaultReservationTTL = 15 * time.Minute

var (
	reservationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_inventory_reservation_outcomes_total",
		Help: "Reservation attempts grouped by outcome.",
	}, []string{"outcome"})
	reservationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_inventory_reservation_transitions_total",
		Help: "Terminal reservation transitions grouped by target status.",
	}, []string{"status"})
	expiredReservationsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commerce_inventory_expired_reservations_total",
		Help: "Total number of orders whose reservations were expired by the sweeper.",
	})
)

// Outcome — исход операции движка для вызывающего.
type Outcome string

const (
	// OutcomeApplied — операция изменила состояние и записала событие в outbox.
	OutcomeApplied Outcome = "applied"
	// OutcomeFailed — резервирование отклонено бизнес-правилом.
	OutcomeFailed Outcome = "failed"
	// OutcomeNoop — у заказа нет ACTIVE-резервов, эффектов нет.
	OutcomeNoop Outcome = "noop"
	// OutcomeDuplicate — событие уже было применено, эффектов нет.
	OutcomeDuplicate Outcome = "duplicate"
)

// ReleaseMode различает явную компенсацию и снятие резерва по TTL.
type ReleaseMode string

const (
	ReleaseModeRelease ReleaseMode = "release"
	ReleaseModeExpire  ReleaseMode = "expire"
)

// ReserveCommand — запрос на резервирование стока под заказ.
type ReserveCommand struct {
	OrderID       string
	Items         []domain.ReservationItem
	TTL           time.Duration
	MessageID     string
	Source        string
	CorrelationID string
	CausationID   string
}

// ReserveResult — исход резервирования с машиночитаемой причиной отказа.
type ReserveResult struct {
	Outcome           Outcome
	Reason            string
	InsufficientItems []domain.InsufficientItem
	ExpiresAt         time.Time
}

// TransitionCommand — запрос на commit или release резервов заказа.
type TransitionCommand struct {
	OrderID       string
	Reason        string
	Mode          ReleaseMode
	MessageID     string
	Source        string
	CorrelationID string
	CausationID   string
}

// TransitionResult — исход терминального перехода резервов.
type TransitionResult struct {
	Outcome Outcome
	Marked  int
}

// Engine реализует машину состояний резервов: всё-или-ничего резерв под
// TTL, commit после оплаты, release как компенсация, expire по TTL.
// Каждая операция — одна транзакция: dedup-метка, изменение балансов и
// outbox-событие коммитятся атомарно.
type Engine struct {
	store      domain.InventoryStore
	logger     *log.Entry
	defaultTTL time.Duration
}

// EngineOption настраивает Engine.
type EngineOption func(*Engine)

// WithEngineLogger задаёт logger движка.
func WithEngineLogger(logger *log.Entry) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDefaultTTL задаёт срок жизни резерва по умолчанию.
func WithDefaultTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if ttl > 0 {
			e.defaultTTL = ttl
		}
	}
}

// NewEngine создаёт движок резервирования поверх хранилища инвентаря.
func NewEngine(store domain.InventoryStore, options ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		logger:     log.WithField("component", "inventory-engine"),
		defaultTTL: defaultReservationTTL,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Reserve резервирует сток под заказ целиком. Частичных резервов нет:
// нехватка хотя бы одного SKU оставляет балансы нетронутыми и пишет
// событие отказа с перечнем недостающих позиций.
func (e *Engine) Reserve(ctx context.Context, cmd ReserveCommand) (ReserveResult, error) {
	if cmd.OrderID == "" {
		return ReserveResult{}, domain.ErrOrderIDRequired
	}

	ttl := cmd.TTL
	if ttl <= 0 {
		ttl = e.defaultTTL
	}
	items := domain.NormalizeReservationItems(cmd.Items)

	var result ReserveResult
	err := e.store.WithinTx(ctx, func(tx domain.InventoryTx) error {
		if duplicate, err := e.claimMessage(tx, cmd.MessageID, cmd.Source); err != nil {
			return err
		} else if duplicate {
			result = ReserveResult{Outcome: OutcomeDuplicate}
			return nil
		}

		if len(items) == 0 {
			result = ReserveResult{Outcome: OutcomeFailed, Reason: domain.ReservationFailureInvalidItems}
			return e.appendReservationFailed(tx, cmd, domain.ReservationFailureInvalidItems, nil)
		}

		skus := make([]string, 0, len(items))
		for _, item := range items {
			skus = append(skus, item.SKU)
		}
		balances, err := tx.BalancesForUpdate(skus)
		if err != nil {
			return err
		}

		var insufficient []domain.InsufficientItem
		for _, item := range items {
			available := balances[item.SKU].Available()
			if available < int64(item.Qty) {
				insufficient = append(insufficient, domain.InsufficientItem{
					SKU:       item.SKU,
					Qty:       item.Qty,
					Available: available,
				})
			}
		}
		if len(insufficient) > 0 {
			result = ReserveResult{
				Outcome:           OutcomeFailed,
				Reason:            domain.ReservationFailureInsufficientStock,
				InsufficientItems: insufficient,
			}
			return e.appendReservationFailed(tx, cmd, domain.ReservationFailureInsufficientStock, insufficient)
		}

		now := time.Now().UTC()
		expiresAt := now.Add(ttl)
		rows := make([]domain.Reservation, 0, len(items))
		lines := make([]domain.OrderLineRef, 0, len(items))
		for _, item := range items {
			rows = append(rows, domain.Reservation{
				OrderID:   cmd.OrderID,
				SKU:       item.SKU,
				Qty:       item.Qty,
				Status:    domain.ReservationStatusActive,
				ExpiresAt: expiresAt,
				CreatedAt: now,
				UpdatedAt: now,
			})
			lines = append(lines, domain.OrderLineRef{SKU: item.SKU, Qty: item.Qty})
		}
		if err := tx.InsertReservations(rows); err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.AddReserved(item.SKU, int64(item.Qty)); err != nil {
				return err
			}
		}

		env, err := e.newEnvelope(domain.EventStockReserved, cmd.OrderID, cmd.CorrelationID, cmd.CausationID, domain.StockReservedPayload{
			OrderID:   cmd.OrderID,
			Items:     lines,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return err
		}
		result = ReserveResult{Outcome: OutcomeApplied, ExpiresAt: expiresAt}
		return tx.AppendOutbox(domain.NewOutboxMessage(env))
	})
	if err != nil {
		return ReserveResult{}, err
	}

	reservationOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	return result, nil
}

// Commit списывает зарезервированный сток после авторизации оплаты.
// Повторный commit и commit без ACTIVE-резервов — no-op.
func (e *Engine) Commit(ctx context.Context, cmd TransitionCommand) (TransitionResult, error) {
	if cmd.OrderID == "" {
		return TransitionResult{}, domain.ErrOrderIDRequired
	}

	var result TransitionResult
	err := e.store.WithinTx(ctx, func(tx domain.InventoryTx) error {
		if duplicate, err := e.claimMessage(tx, cmd.MessageID, cmd.Source); err != nil {
			return err
		} else if duplicate {
			result = TransitionResult{Outcome: OutcomeDuplicate}
			return nil
		}

		active, err := tx.ActiveReservations(cmd.OrderID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			result = TransitionResult{Outcome: OutcomeNoop}
			return nil
		}

		lines := make([]domain.OrderLineRef, 0, len(active))
		for _, r := range active {
			if err := tx.CommitStock(r.SKU, int64(r.Qty)); err != nil {
				return err
			}
			lines = append(lines, domain.OrderLineRef{SKU: r.SKU, Qty: r.Qty})
		}
		marked, err := tx.MarkReservations(cmd.OrderID, domain.ReservationStatusCommitted)
		if err != nil {
			return err
		}

		env, err := e.newEnvelope(domain.EventStockCommitted, cmd.OrderID, cmd.CorrelationID, cmd.CausationID, domain.StockCommittedPayload{
			OrderID: cmd.OrderID,
			Items:   lines,
		})
		if err != nil {
			return err
		}
		result = TransitionResult{Outcome: OutcomeApplied, Marked: marked}
		return tx.AppendOutbox(domain.NewOutboxMessage(env))
	})
	if err != nil {
		return TransitionResult{}, err
	}

	if result.Outcome == OutcomeApplied {
		reservationTransitions.WithLabelValues(string(domain.ReservationStatusCommitted)).Inc()
	}
	return result, nil
}

// Release снимает резерв заказа. Режим release соответствует явной
// компенсации, режим expire — снятию по TTL; различаются терминальным
// статусом строк и типом события.
func (e *Engine) Release(ctx context.Context, cmd TransitionCommand) (TransitionResult, error) {
	if cmd.OrderID == "" {
		return TransitionResult{}, domain.ErrOrderIDRequired
	}

	mode := cmd.Mode
	if mode == "" {
		mode = ReleaseModeRelease
	}
	targetStatus := domain.ReservationStatusReleased
	if mode == ReleaseModeExpire {
		targetStatus = domain.ReservationStatusExpired
	}

	var result TransitionResult
	err := e.store.WithinTx(ctx, func(tx domain.InventoryTx) error {
		if duplicate, err := e.claimMessage(tx, cmd.MessageID, cmd.Source); err != nil {
			return err
		} else if duplicate {
			result = TransitionResult{Outcome: OutcomeDuplicate}
			return nil
		}

		active, err := tx.ActiveReservations(cmd.OrderID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			result = TransitionResult{Outcome: OutcomeNoop}
			return nil
		}

		lines := make([]domain.OrderLineRef, 0, len(active))
		for _, r := range active {
			if err := tx.ReleaseStock(r.SKU, int64(r.Qty)); err != nil {
				return err
			}
			lines = append(lines, domain.OrderLineRef{SKU: r.SKU, Qty: r.Qty})
		}
		marked, err := tx.MarkReservations(cmd.OrderID, targetStatus)
		if err != nil {
			return err
		}

		var env domain.EventEnvelope
		if mode == ReleaseModeExpire {
			env, err = e.newEnvelope(domain.EventStockExpired, cmd.OrderID, cmd.CorrelationID, cmd.CausationID, domain.StockExpiredPayload{
				OrderID: cmd.OrderID,
				Items:   lines,
			})
		} else {
			env, err = e.newEnvelope(domain.EventStockReleased, cmd.OrderID, cmd.CorrelationID, cmd.CausationID, domain.StockReleasedPayload{
				OrderID: cmd.OrderID,
				Items:   lines,
				Reason:  cmd.Reason,
			})
		}
		if err != nil {
			return err
		}
		result = TransitionResult{Outcome: OutcomeApplied, Marked: marked}
		return tx.AppendOutbox(domain.NewOutboxMessage(env))
	})
	if err != nil {
		return TransitionResult{}, err
	}

	if result.Outcome == OutcomeApplied {
		reservationTransitions.WithLabelValues(string(targetStatus)).Inc()
	}
	return result, nil
}

// Adjust выставляет onHand остаток SKU (административная корректировка)
// и публикует событие о новом значении.
func (e *Engine) Adjust(ctx context.Context, sku string, onHand int64) (domain.Balance, error) {
	if sku == "" {
		return domain.Balance{}, domain.ErrSKURequired
	}
	if onHand < 0 {
		return domain.Balance{}, domain.ErrQtyInvalid
	}

	var balance domain.Balance
	err := e.store.WithinTx(ctx, func(tx domain.InventoryTx) error {
		balances, err := tx.BalancesForUpdate([]string{sku})
		if err != nil {
			return err
		}

		balance = balances[sku]
		balance.SKU = sku
		balance.OnHand = onHand
		if balance.Reserved > onHand {
			// Уменьшение остатка ниже текущего резерва запрещено: резерв
			// уже обещан заказам.
			return domain.ErrQtyInvalid
		}
		if err := tx.UpsertBalance(balance); err != nil {
			return err
		}

		env, err := e.newEnvelope(domain.EventStockAdjusted, sku, "", "", domain.StockAdjustedPayload{
			SKU:    sku,
			OnHand: onHand,
		})
		if err != nil {
			return err
		}
		return tx.AppendOutbox(domain.NewOutboxMessage(env))
	})
	if err != nil {
		return domain.Balance{}, err
	}
	return balance, nil
}

// ExpireSweep снимает резервы с истёкшим TTL. Каждый заказ освобождается
// в собственной транзакции, поэтому частичный прогон безопасен, а повтор
// по уже EXPIRED-строкам — no-op.
func (e *Engine) ExpireSweep(ctx context.Context, batchSize int) (int, error) {
	expired, err := e.store.ExpiredReservations(ctx, time.Now().UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	seen := make(map[string]struct{}, len(expired))
	swept := 0
	for _, r := range expired {
		if _, ok := seen[r.OrderID]; ok {
			continue
		}
		seen[r.OrderID] = struct{}{}

		result, err := e.Release(ctx, TransitionCommand{
			OrderID: r.OrderID,
			Reason:  "reservation ttl expired",
			Mode:    ReleaseModeExpire,
		})
		if err != nil {
			e.logger.WithError(err).WithField("order_id", r.OrderID).Warn("failed to expire reservation")
			continue
		}
		if result.Outcome == OutcomeApplied {
			swept++
			expiredReservationsSwept.Inc()
		}
	}
	return swept, nil
}

// claimMessage возвращает true, когда событие уже было применено.
// Пустой message id означает локальный вызов без дедупликации.
func (e *Engine) claimMessage(tx domain.InventoryTx, messageID, source string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	fresh, err := tx.ClaimMessage(messageID, source)
	if err != nil {
		return false, err
	}
	return !fresh, nil
}

func (e *Engine) newEnvelope(eventType, aggregateID, correlationID, causationID string, payload any) (domain.EventEnvelope, error) {
	aggregateType := "reservation"
	if eventType == domain.EventStockAdjusted {
		aggregateType = "stock"
	}
	env, err := domain.NewEnvelope(eventType, domain.EventAggregate{ID: aggregateID, Type: aggregateType}, payload)
	if err != nil {
		return domain.EventEnvelope{}, err
	}
	env.CorrelationID = correlationID
	env.CausationID = causationID
	return env, nil
}

func (e *Engine) appendReservationFailed(tx domain.InventoryTx, cmd ReserveCommand, reason string, insufficient []domain.InsufficientItem) error {
	env, err := e.newEnvelope(domain.EventStockReservationFailed, cmd.OrderID, cmd.CorrelationID, cmd.CausationID, domain.StockReservationFailedPayload{
		OrderID:           cmd.OrderID,
		Reason:            reason,
		InsufficientItems: insufficient,
	})
	if err != nil {
		return err
	}
	return tx.AppendOutbox(domain.NewOutboxMessage(env))
}
