package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// CartStatus описывает состояние корзины.
type CartStatus string

const (
	// CartStatusActive — корзина редактируется покупателем.
	CartStatusActive CartStatus = "active"
	// CartStatusCheckedOut — корзина прошла чекаут и неизменяема.
	CartStatusCheckedOut CartStatus = "checked_out"
)

// CartItem — позиция корзины до прайсинга.
type CartItem struct {
	SKU             string            `json:"sku"`
	Qty             int32             `json:"qty"`
	VariantID       string            `json:"variantId,omitempty"`
	SelectedOptions map[string]string `json:"selectedOptions,omitempty"`
}

// Cart агрегирует позиции покупателя. Version растёт монотонно на каждой
// мутации и служит optimistic lock-ом при сохранении.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Status    CartStatus
	Items     []CartItem
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SnapshotItem — позиция снапшота с зафиксированной ценой.
type SnapshotItem struct {
	SKU             string            `json:"sku"`
	Qty             int32             `json:"qty"`
	UnitPriceCents  int64             `json:"unitPriceCents"`
	VariantID       string            `json:"variantId,omitempty"`
	SelectedOptions map[string]string `json:"selectedOptions,omitempty"`
}

// SnapshotTotals — итоги снапшота в минорных единицах.
type SnapshotTotals struct {
	SubtotalCents int64 `json:"subtotalCents"`
	TotalCents    int64 `json:"totalCents"`
}

// CartSnapshot — неизменяемый, подписанный HMAC снимок корзины на момент
// чекаута. Подпись связывает точное содержимое с секретом cart-сервиса,
// поэтому orders-сервис может проверить, что снапшот не подменён в пути.
type CartSnapshot struct {
	SnapshotID  string         `json:"snapshotId"`
	CartID      string         `json:"cartId"`
	CartVersion int64          `json:"cartVersion"`
	Currency    string         `json:"currency"`
	Items       []SnapshotItem `json:"items"`
	Totals      SnapshotTotals `json:"totals"`
	SignedAt    time.Time      `json:"signedAt"`
	Signature   string         `json:"signature,omitempty"`
}

// Validate проверяет ключевые поля корзины.
func (c *Cart) Validate() []error {
	var errs []error
	if c.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	for _, item := range c.Items {
		if item.SKU == "" {
			errs = append(errs, ErrSKURequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrQtyInvalid)
		}
	}
	return errs
}

// signingBody возвращает каноничное представление снапшота без подписи.
// Порядок полей фиксирован структурой, поэтому результат детерминирован.
func (s CartSnapshot) signingBody() ([]byte, error) {
	unsigned := s
	unsigned.Signature = ""
	body, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot for signing: %w", err)
	}
	return body, nil
}

// Sign вычисляет HMAC-SHA256 подпись снапшота секретом cart-сервиса.
func (s CartSnapshot) Sign(secret []byte) (CartSnapshot, error) {
	body, err := s.signingBody()
	if err != nil {
		return CartSnapshot{}, err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	s.Signature = hex.EncodeToString(mac.Sum(nil))
	return s, nil
}

// VerifySignature пересчитывает HMAC по телу снапшота и сравнивает с подписью
// константным временем. Пустая подпись — всегда отказ.
func (s CartSnapshot) VerifySignature(secret []byte) error {
	if s.Signature == "" {
		return ErrSnapshotSignature
	}
	body, err := s.signingBody()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(s.Signature)) {
		return ErrSnapshotSignature
	}
	return nil
}
