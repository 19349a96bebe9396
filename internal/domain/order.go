package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPlaced — заказ создан, резерв стока ещё не подтверждён.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusReserved — инвентарь подтвердил резерв по всем позициям.
	OrderStatusReserved OrderStatus = "reserved"
	// OrderStatusRejected — резервирование не удалось; заказ не будет исполнен.
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusCanceled — заказ отменён до завершения цикла.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order создаётся только после успешной проверки подписи снапшота.
// Снапшот хранится дословно — он единственный источник цен заказа.
type Order struct {
	ID                 string
	UserID             string
	Status             OrderStatus
	Currency           string
	Snapshot           CartSnapshot
	AmountCents        int64
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Lines возвращает позиции заказа в форме, пригодной для payload событий.
func (o *Order) Lines() []OrderLineRef {
	lines := make([]OrderLineRef, 0, len(o.Snapshot.Items))
	for _, item := range o.Snapshot.Items {
		lines = append(lines, OrderLineRef{SKU: item.SKU, Qty: item.Qty})
	}
	return lines
}

// ValidateInvariants проверяет базовые инварианты заказа.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Snapshot.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountCents < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с итогами снапшота: qty * unit price.
	var calc int64
	for _, item := range o.Snapshot.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrQtyInvalid)
		}
		if item.UnitPriceCents < 0 {
			errs = append(errs, ErrAmountNegative)
		}
		calc += int64(item.Qty) * item.UnitPriceCents
	}
	if calc != o.AmountCents {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
