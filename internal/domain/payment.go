package domain

import "time"

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusAuthorized — сумма захолдирована у провайдера.
	PaymentStatusAuthorized PaymentStatus = "authorized"
	// PaymentStatusCaptured — деньги списаны в пользу мерчанта.
	PaymentStatusCaptured PaymentStatus = "captured"
	// PaymentStatusFailed — провайдер отклонил платёж.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Payment описывает платёж, связанный с заказом.
type Payment struct {
	ID           string
	OrderID      string
	Status       PaymentStatus
	AmountCents  int64
	Currency     string
	AuthorizedAt *time.Time
	CapturedAt   *time.Time
	FailedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate проверяет корректность полей платежа.
func (p *Payment) Validate() []error {
	var errs []error
	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if p.AmountCents < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	return errs
}
