package domain

import (
	"strings"
	"time"
)

// Balance — складской остаток по SKU. Инвариант: 0 <= reserved <= onHand.
// Available всегда вычисляется и никогда не хранится.
type Balance struct {
	SKU      string
	OnHand   int64
	Reserved int64
}

// Available возвращает количество, доступное для новых резервов.
func (b Balance) Available() int64 {
	return b.OnHand - b.Reserved
}

// ReservationStatus отражает статус резерва. Из ACTIVE резерв переходит
// ровно в один терминальный статус и после этого неизменяем.
type ReservationStatus string

const (
	// ReservationStatusActive — сток удержан под заказ, TTL ещё не истёк.
	ReservationStatusActive ReservationStatus = "ACTIVE"
	// ReservationStatusCommitted — сток физически списан после оплаты.
	ReservationStatusCommitted ReservationStatus = "COMMITTED"
	// ReservationStatusReleased — резерв снят явной компенсацией.
	ReservationStatusReleased ReservationStatus = "RELEASED"
	// ReservationStatusExpired — резерв снят sweeper-ом по TTL.
	ReservationStatusExpired ReservationStatus = "EXPIRED"
)

// Reservation — удержание стока по одной позиции заказа.
// Ключ — пара (order_id, sku): reservation id совпадает с id заказа.
type Reservation struct {
	OrderID   string
	SKU       string
	Qty       int32
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReservationItem — запрошенная позиция резерва до нормализации.
type ReservationItem struct {
	SKU string
	Qty int32
}

// NormalizeReservationItems приводит запрос к канонической форме: SKU
// обрезаются, позиции с qty <= 0 отбрасываются, дубликаты SKU сливаются
// суммированием количества с сохранением порядка первого вхождения.
func NormalizeReservationItems(items []ReservationItem) []ReservationItem {
	merged := make(map[string]int, len(items))
	result := make([]ReservationItem, 0, len(items))

	for _, item := range items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" || item.Qty <= 0 {
			continue
		}
		if idx, ok := merged[sku]; ok {
			result[idx].Qty += item.Qty
			continue
		}
		merged[sku] = len(result)
		result = append(result, ReservationItem{SKU: sku, Qty: item.Qty})
	}

	return result
}
