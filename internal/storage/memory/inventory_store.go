package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// InventoryStore — in-memory хранилище inventory-сервиса.
type InventoryStore struct {
	mu           sync.Mutex
	balances     map[string]domain.Balance
	reservations map[string]domain.Reservation
	processed    map[string]domain.ProcessedMessage
	outbox       *OutboxMemory
}

var _ domain.InventoryStore = (*InventoryStore)(nil)

// NewInventoryStore создаёт in-memory хранилище стока.
func NewInventoryStore(outbox *OutboxMemory) *InventoryStore {
	if outbox == nil {
		outbox = NewOutboxMemory()
	}
	return &InventoryStore{
		balances:     make(map[string]domain.Balance),
		reservations: make(map[string]domain.Reservation),
		processed:    make(map[string]domain.ProcessedMessage),
		outbox:       outbox,
	}
}

// Outbox возвращает outbox-таблицу хранилища.
func (s *InventoryStore) Outbox() *OutboxMemory {
	return s.outbox
}

func reservationKey(orderID, sku string) string {
	return orderID + "\x00" + sku
}

func (s *InventoryStore) WithinTx(_ context.Context, fn func(tx domain.InventoryTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &inventoryTx{
		balances:     cloneBalanceMap(s.balances),
		reservations: cloneReservationMap(s.reservations),
		processed:    cloneProcessedMap(s.processed),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.balances = tx.balances
	s.reservations = tx.reservations
	s.processed = tx.processed
	s.outbox.apply(tx.appended)
	return nil
}

func (s *InventoryStore) GetBalance(_ context.Context, sku string) (domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[sku]
	if !ok {
		return domain.Balance{}, domain.ErrSKUNotFound
	}
	return b, nil
}

func (s *InventoryStore) ExpiredReservations(_ context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.ReservationStatusActive && r.ExpiresAt.Before(now) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type inventoryTx struct {
	balances     map[string]domain.Balance
	reservations map[string]domain.Reservation
	processed    map[string]domain.ProcessedMessage
	appended     []domain.OutboxMessage
}

var _ domain.InventoryTx = (*inventoryTx)(nil)

func (t *inventoryTx) AppendOutbox(msg domain.OutboxMessage) error {
	t.appended = append(t.appended, cloneOutboxMessage(msg))
	return nil
}

func (t *inventoryTx) ClaimMessage(messageID, source string) (bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false, errors.New("message id is required")
	}
	if _, ok := t.processed[messageID]; ok {
		return false, nil
	}
	t.processed[messageID] = domain.ProcessedMessage{
		MessageID:   messageID,
		Source:      source,
		ProcessedAt: time.Now().UTC(),
	}
	return true, nil
}

func (t *inventoryTx) BalancesForUpdate(skus []string) (map[string]domain.Balance, error) {
	result := make(map[string]domain.Balance, len(skus))
	for _, sku := range skus {
		if b, ok := t.balances[sku]; ok {
			result[sku] = b
		}
	}
	return result, nil
}

func (t *inventoryTx) UpsertBalance(b domain.Balance) error {
	t.balances[b.SKU] = b
	return nil
}

func (t *inventoryTx) AddReserved(sku string, qty int64) error {
	b, ok := t.balances[sku]
	if !ok {
		return domain.ErrSKUNotFound
	}
	b.Reserved += qty
	t.balances[sku] = b
	return nil
}

func (t *inventoryTx) CommitStock(sku string, qty int64) error {
	b, ok := t.balances[sku]
	if !ok {
		return domain.ErrSKUNotFound
	}
	b.OnHand = floorZero(b.OnHand - qty)
	b.Reserved = floorZero(b.Reserved - qty)
	t.balances[sku] = b
	return nil
}

func (t *inventoryTx) ReleaseStock(sku string, qty int64) error {
	b, ok := t.balances[sku]
	if !ok {
		return domain.ErrSKUNotFound
	}
	b.Reserved = floorZero(b.Reserved - qty)
	t.balances[sku] = b
	return nil
}

func (t *inventoryTx) InsertReservations(rows []domain.Reservation) error {
	for _, r := range rows {
		key := reservationKey(r.OrderID, r.SKU)
		if _, ok := t.reservations[key]; ok {
			return errors.New("reservation already exists: " + r.OrderID + "/" + r.SKU)
		}
		t.reservations[key] = r
	}
	return nil
}

func (t *inventoryTx) ActiveReservations(orderID string) ([]domain.Reservation, error) {
	var result []domain.Reservation
	for _, r := range t.reservations {
		if r.OrderID == orderID && r.Status == domain.ReservationStatusActive {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SKU < result[j].SKU
	})
	return result, nil
}

func (t *inventoryTx) MarkReservations(orderID string, to domain.ReservationStatus) (int, error) {
	marked := 0
	for key, r := range t.reservations {
		if r.OrderID != orderID || r.Status != domain.ReservationStatusActive {
			continue
		}
		r.Status = to
		r.UpdatedAt = time.Now().UTC()
		t.reservations[key] = r
		marked++
	}
	return marked, nil
}

func floorZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func cloneBalanceMap(src map[string]domain.Balance) map[string]domain.Balance {
	dst := make(map[string]domain.Balance, len(src))
	for sku, b := range src {
		dst[sku] = b
	}
	return dst
}

func cloneReservationMap(src map[string]domain.Reservation) map[string]domain.Reservation {
	dst := make(map[string]domain.Reservation, len(src))
	for key, r := range src {
		dst[key] = r
	}
	return dst
}
