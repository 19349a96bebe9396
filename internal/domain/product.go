package domain

import "time"

// Product — товар каталога. Цена хранится в минорных единицах валюты.
type Product struct {
	ID          string
	SKU         string
	Name        string
	Description string
	PriceCents  int64
	Currency    string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет корректность полей товара.
func (p *Product) Validate() []error {
	var errs []error
	if p.SKU == "" {
		errs = append(errs, ErrSKURequired)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if p.PriceCents < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	return errs
}
