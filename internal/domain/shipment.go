package domain

import "time"

// ShipmentStatus описывает состояние отгрузки.
type ShipmentStatus string

const (
	// ShipmentStatusCreated — отгрузка зарегистрирована и ждёт сборки.
	ShipmentStatusCreated ShipmentStatus = "created"
)

// Shipment — отгрузка по заказу, создаётся fulfillment-сервисом.
type Shipment struct {
	ID        string
	OrderID   string
	Status    ShipmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
