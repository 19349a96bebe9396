package domain

import (
	"context"
	"time"
)

// EventPublisher публикует envelope события в брокер.
type EventPublisher interface {
	// PublishEvent отправляет событие с routing key = тип события.
	PublishEvent(ctx context.Context, env EventEnvelope) error
}

// Claims — результат верификации токена доступа.
type Claims struct {
	UserID    string
	Roles     []string
	SessionID string
}

// TokenVerifier проверяет токен и возвращает claims. Внутренности выпуска
// токенов живут в identity-сервисе; здесь только проверка.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

// OutboxTx — запись события в outbox внутри транзакции бизнес-мутации.
// Это ядро консистентности: событие существует тогда и только тогда,
// когда закоммичена породившая его мутация.
type OutboxTx interface {
	AppendOutbox(msg OutboxMessage) error
}

// IdempotencyTx — DB-уровневая идемпотентность мутаций внутри той же транзакции.
type IdempotencyTx interface {
	// ClaimIdempotency вставляет запись (key, operation) со статусом processing.
	// При конфликте уникального индекса возвращает существующую запись и created=false.
	ClaimIdempotency(key, operation string, ttlAt time.Time) (record IdempotencyRecord, created bool, err error)
	// CompleteIdempotency сохраняет replay-ответ и переводит запись в completed.
	CompleteIdempotency(key, operation string, responseBody []byte, httpStatus int) error
}

// InboxTx — дедупликация входящих событий внутри транзакции побочного эффекта.
type InboxTx interface {
	// ClaimMessage вставляет message id в processed_messages.
	// false означает, что событие уже было применено.
	ClaimMessage(messageID, source string) (bool, error)
}

// OutboxStore — интерфейс outbox-таблицы для publisher-воркера и ops-тулинга.
type OutboxStore interface {
	// PendingOutbox возвращает до limit pending-записей по возрастанию occurred_at.
	PendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	// ClaimOutbox атомарно переводит pending → processing.
	// false означает, что запись уже захвачена другим воркером.
	ClaimOutbox(ctx context.Context, id string) (bool, error)
	MarkOutboxPublished(ctx context.Context, id string) error
	MarkOutboxFailed(ctx context.Context, id string, cause string) error
	// RequeueFailedOutbox возвращает failed-записи в pending (ручной реплей).
	RequeueFailedOutbox(ctx context.Context, limit int) (int, error)
	OutboxStats(ctx context.Context) (OutboxStats, error)
}

// IdempotencyStore — обслуживание таблицы идемпотентности вне транзакций.
type IdempotencyStore interface {
	GetIdempotency(ctx context.Context, key, operation string) (IdempotencyRecord, error)
	DeleteExpiredIdempotency(ctx context.Context, before time.Time, limit int) (int, error)
}

// CartTx — транзакционные операции cart-сервиса.
type CartTx interface {
	OutboxTx
	InsertCart(cart Cart) error
	// GetCartForUpdate блокирует строку корзины до конца транзакции.
	GetCartForUpdate(id string) (Cart, error)
	// UpdateCart сохраняет корзину с проверкой версии (optimistic lock).
	UpdateCart(cart Cart) error
	InsertSnapshot(snapshot CartSnapshot) error
}

// CartStore — хранилище cart-сервиса.
type CartStore interface {
	WithinTx(ctx context.Context, fn func(tx CartTx) error) error
	GetCart(ctx context.Context, id string) (Cart, error)
	GetSnapshot(ctx context.Context, cartID string) (CartSnapshot, error)
}

// CatalogTx — транзакционные операции catalog-сервиса.
type CatalogTx interface {
	OutboxTx
	IdempotencyTx
	InsertProduct(p Product) error
	GetProductForUpdate(id string) (Product, error)
	UpdateProduct(p Product) error
}

// CatalogStore — хранилище catalog-сервиса.
type CatalogStore interface {
	WithinTx(ctx context.Context, fn func(tx CatalogTx) error) error
	GetProduct(ctx context.Context, id string) (Product, error)
	// ProductsBySKU возвращает активные товары по списку SKU (прайсинг чекаута).
	ProductsBySKU(ctx context.Context, skus []string) (map[string]Product, error)
}

// OrderTx — транзакционные операции orders-сервиса.
type OrderTx interface {
	OutboxTx
	IdempotencyTx
	InboxTx
	InsertOrder(o Order) error
	GetOrderForUpdate(id string) (Order, error)
	UpdateOrder(o Order) error
}

// OrderStore — хранилище orders-сервиса.
type OrderStore interface {
	WithinTx(ctx context.Context, fn func(tx OrderTx) error) error
	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrdersByUser(ctx context.Context, userID string, limit int) ([]Order, error)
}

// InventoryTx — транзакционные операции inventory-сервиса.
type InventoryTx interface {
	OutboxTx
	InboxTx
	// BalancesForUpdate блокирует балансы перечисленных SKU (порядок — по SKU,
	// чтобы исключить deadlock между конкурентными резервами).
	BalancesForUpdate(skus []string) (map[string]Balance, error)
	// UpsertBalance создаёт или перезаписывает баланс SKU (административная корректировка).
	UpsertBalance(b Balance) error
	// AddReserved увеличивает reserved на qty.
	AddReserved(sku string, qty int64) error
	// CommitStock уменьшает onHand и reserved на qty с floor-ом в ноль.
	CommitStock(sku string, qty int64) error
	// ReleaseStock уменьшает только reserved на qty с floor-ом в ноль.
	ReleaseStock(sku string, qty int64) error
	InsertReservations(rows []Reservation) error
	ActiveReservations(orderID string) ([]Reservation, error)
	// MarkReservations переводит ACTIVE-резервы заказа в терминальный статус;
	// возвращает число затронутых строк. Предикат по ACTIVE исключает гонку
	// со sweeper-ом: уже переведённые строки не трогаются повторно.
	MarkReservations(orderID string, to ReservationStatus) (int, error)
}

// InventoryStore — хранилище inventory-сервиса.
type InventoryStore interface {
	WithinTx(ctx context.Context, fn func(tx InventoryTx) error) error
	GetBalance(ctx context.Context, sku string) (Balance, error)
	// ExpiredReservations возвращает ACTIVE-резервы с expires_at < now.
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
}

// PaymentTx — транзакционные операции payments-сервиса.
type PaymentTx interface {
	OutboxTx
	IdempotencyTx
	InsertPayment(p Payment) error
	GetPaymentForUpdate(id string) (Payment, error)
	UpdatePayment(p Payment) error
}

// PaymentStore — хранилище payments-сервиса.
type PaymentStore interface {
	WithinTx(ctx context.Context, fn func(tx PaymentTx) error) error
	GetPayment(ctx context.Context, id string) (Payment, error)
	PaymentByOrder(ctx context.Context, orderID string) (Payment, error)
}

// ShipmentTx — транзакционные операции fulfillment-сервиса.
type ShipmentTx interface {
	OutboxTx
	IdempotencyTx
	InsertShipment(s Shipment) error
	ShipmentByOrder(orderID string) (Shipment, error)
}

// ShipmentStore — хранилище fulfillment-сервиса.
type ShipmentStore interface {
	WithinTx(ctx context.Context, fn func(tx ShipmentTx) error) error
	GetShipment(ctx context.Context, id string) (Shipment, error)
	ShipmentByOrder(ctx context.Context, orderID string) (Shipment, error)
}
