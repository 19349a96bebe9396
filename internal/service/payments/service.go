package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/domain"
)

// Service реализует операции payments-сервиса. Внешнего провайдера здесь
// нет: авторизация и списание моделируются локально, важен контракт — за
// каждой сменой статуса платежа следует outbox-событие в той же транзакции.
type Service struct {
	store  domain.PaymentStore
	logger *log.Entry
}

// NewService создаёт payments-сервис.
func NewService(store domain.PaymentStore) *Service {
	return &Service{
		store:  store,
		logger: log.WithField("component", "payments-service"),
	}
}

// AuthorizeInput — параметры авторизации платежа.
type AuthorizeInput struct {
	OrderID        string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	CorrelationID  string
}

// Authorize холдирует сумму по заказу и публикует PaymentAuthorized —
// сигнал инвентарю коммитить резерв.
func (s *Service) Authorize(ctx context.Context, input AuthorizeInput) (domain.Payment, error) {
	return s.create(ctx, input, false)
}

// AuthorizeAndCapture авторизует и сразу списывает платёж. Используется
// оркестрацией саги orders-сервиса: оба события попадают в outbox одной
// транзакцией, повтор с тем же ключом возвращает существующий платёж.
func (s *Service) AuthorizeAndCapture(ctx context.Context, input AuthorizeInput) (domain.Payment, error) {
	return s.create(ctx, input, true)
}

func (s *Service) create(ctx context.Context, input AuthorizeInput, capture bool) (domain.Payment, error) {
	now := time.Now().UTC()
	payment := domain.Payment{
		ID:           uuid.NewString(),
		OrderID:      input.OrderID,
		Status:       domain.PaymentStatusAuthorized,
		AmountCents:  input.AmountCents,
		Currency:     input.Currency,
		AuthorizedAt: &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if capture {
		payment.Status = domain.PaymentStatusCaptured
		payment.CapturedAt = &now
	}
	if errs := payment.Validate(); len(errs) > 0 {
		return domain.Payment{}, errors.Join(errs...)
	}

	operation := "payments.authorize"
	if capture {
		operation = "payments.authorize_and_capture"
	}

	var existingID string
	err := s.store.WithinTx(ctx, func(tx domain.PaymentTx) error {
		if input.IdempotencyKey != "" {
			record, created, err := tx.ClaimIdempotency(input.IdempotencyKey, operation, time.Time{})
			if err != nil {
				return err
			}
			if !created {
				if record.Status != domain.IdempotencyStatusCompleted {
					return domain.ErrIdempotencyInProgress
				}
				existingID = string(record.ResponseBody)
				return nil
			}
		}

		if err := tx.InsertPayment(payment); err != nil {
			return err
		}

		if err := s.appendEvent(tx, domain.EventPaymentAuthorized, payment, input.CorrelationID); err != nil {
			return err
		}
		if capture {
			if err := s.appendEvent(tx, domain.EventPaymentCaptured, payment, input.CorrelationID); err != nil {
				return err
			}
		}

		if input.IdempotencyKey != "" {
			return tx.CompleteIdempotency(input.IdempotencyKey, operation, []byte(payment.ID), 201)
		}
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}

	if existingID != "" {
		return s.store.GetPayment(ctx, existingID)
	}
	return payment, nil
}

// Capture списывает ранее авторизованный платёж.
func (s *Service) Capture(ctx context.Context, paymentID, correlationID string) (domain.Payment, error) {
	var captured domain.Payment

	err := s.store.WithinTx(ctx, func(tx domain.PaymentTx) error {
		payment, err := tx.GetPaymentForUpdate(paymentID)
		if err != nil {
			return err
		}
		if payment.Status == domain.PaymentStatusCaptured {
			captured = payment
			return nil
		}
		if payment.Status != domain.PaymentStatusAuthorized {
			return domain.ErrPaymentNotFound
		}

		now := time.Now().UTC()
		payment.Status = domain.PaymentStatusCaptured
		payment.CapturedAt = &now
		payment.UpdatedAt = now
		if err := tx.UpdatePayment(payment); err != nil {
			return err
		}
		if err := s.appendEvent(tx, domain.EventPaymentCaptured, payment, correlationID); err != nil {
			return err
		}
		captured = payment
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return captured, nil
}

// Fail помечает платёж как отклонённый и публикует PaymentFailed —
// компенсацию, по которой инвентарь снимет резерв.
func (s *Service) Fail(ctx context.Context, paymentID, reason, correlationID string) (domain.Payment, error) {
	var failed domain.Payment

	err := s.store.WithinTx(ctx, func(tx domain.PaymentTx) error {
		payment, err := tx.GetPaymentForUpdate(paymentID)
		if err != nil {
			return err
		}
		if payment.Status == domain.PaymentStatusFailed {
			failed = payment
			return nil
		}

		now := time.Now().UTC()
		payment.Status = domain.PaymentStatusFailed
		payment.FailedAt = &now
		payment.UpdatedAt = now
		if err := tx.UpdatePayment(payment); err != nil {
			return err
		}

		env, err := domain.NewEnvelope(domain.EventPaymentFailed, domain.EventAggregate{ID: payment.ID, Type: "payment"}, domain.PaymentFailedPayload{
			OrderID: payment.OrderID,
			Reason:  reason,
		})
		if err != nil {
			return err
		}
		env.CorrelationID = correlationID
		if err := tx.AppendOutbox(domain.NewOutboxMessage(env)); err != nil {
			return err
		}
		failed = payment
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return failed, nil
}

// GetPayment возвращает платёж по id.
func (s *Service) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// PaymentByOrder возвращает последний платёж заказа.
func (s *Service) PaymentByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	return s.store.PaymentByOrder(ctx, orderID)
}

func (s *Service) appendEvent(tx domain.PaymentTx, eventType string, payment domain.Payment, correlationID string) error {
	var payload any
	switch eventType {
	case domain.EventPaymentAuthorized:
		payload = domain.PaymentAuthorizedPayload{
			PaymentID:   payment.ID,
			OrderID:     payment.OrderID,
			AmountCents: payment.AmountCents,
			Currency:    payment.Currency,
		}
	case domain.EventPaymentCaptured:
		payload = domain.PaymentCapturedPayload{
			PaymentID:   payment.ID,
			OrderID:     payment.OrderID,
			AmountCents: payment.AmountCents,
			Currency:    payment.Currency,
		}
	}

	env, err := domain.NewEnvelope(eventType, domain.EventAggregate{ID: payment.ID, Type: "payment"}, payload)
	if err != nil {
		return err
	}
	env.CorrelationID = correlationID
	return tx.AppendOutbox(domain.NewOutboxMessage(env))
}
