package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствующего SKU.
	ErrSKURequired = errors.New("sku is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrQtyInvalid = errors.New("qty must be greater than zero")
	// Ошибка отрицательной цены или суммы в минорных единицах.
	ErrAmountNegative = errors.New("amount_cents must be non-negative")
	// Ошибка пустого списка позиций.
	ErrItemsRequired = errors.New("at least one item is required")
	// Ошибка несоответствия суммы заказа и итогов снапшота.
	ErrAmountMismatch = errors.New("order amount does not match snapshot totals")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")

	// ErrCartNotFound возвращается, если корзина не найдена.
	ErrCartNotFound = errors.New("cart not found")
	// ErrCartCheckedOut — корзина уже прошла чекаут и неизменяема.
	ErrCartCheckedOut = errors.New("cart is already checked out")
	// ErrCartVersionConflict сигнализирует о конфликте версий при сохранении корзины.
	ErrCartVersionConflict = errors.New("cart version conflict")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrShipmentNotFound возвращается, если отгрузка не найдена.
	ErrShipmentNotFound = errors.New("shipment not found")
	// ErrSKUNotFound — в инвентаре нет баланса по запрошенному SKU.
	ErrSKUNotFound = errors.New("sku not found")

	// ErrSnapshotSignature — подпись снапшота корзины не прошла проверку.
	ErrSnapshotSignature = errors.New("cart snapshot signature verification failed")

	// ErrIdempotencyKeyRequired — мутация вызвана без Idempotency-Key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyInProgress — запрос с этим ключом ещё обрабатывается (409).
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is already in progress")
	// ErrIdempotencyKeyNotFound — запись ключа не найдена при обновлении статуса.
	ErrIdempotencyKeyNotFound = errors.New("idempotency record not found")

	// ErrDuplicateMessage — входящее событие с этим message id уже применено.
	ErrDuplicateMessage = errors.New("message already processed")
	// ErrUnknownEventType — консьюмер получил событие незарегистрированного типа.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrOutboxPublish — ошибка при смене статуса outbox-записи.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrInternalSecret — межсервисный вызов без валидного shared secret.
	ErrInternalSecret = errors.New("invalid internal service secret")
	// ErrTokenInvalid — токен не прошёл верификацию.
	ErrTokenInvalid = errors.New("token is invalid or expired")
)

// IsNotFound проверяет, относится ли ошибка к классу "не найдено".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrShipmentNotFound) ||
		errors.Is(err, ErrSKUNotFound)
}
