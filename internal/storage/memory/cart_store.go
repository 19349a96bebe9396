package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dkorolev/commerce/internal/domain"
)

// CartStore — in-memory хранилище cart-сервиса. Транзакция работает с
// глубокими копиями состояния; committed-состояние подменяется только при
// успехе fn, поэтому откат ничего не мутирует.
type CartStore struct {
	mu        sync.Mutex
	carts     map[string]domain.Cart
	snapshots map[string]domain.CartSnapshot
	outbox    *OutboxMemory
}

var _ domain.CartStore = (*CartStore)(nil)

// NewCartStore создаёт in-memory хранилище корзин. Переданный OutboxMemory
// разделяется с publisher-воркером; nil создаёт собственный.
func NewCartStore(outbox *OutboxMemory) *CartStore {
	if outbox == nil {
		outbox = NewOutboxMemory()
	}
	return &CartStore{
		carts:     make(map[string]domain.Cart),
		snapshots: make(map[string]domain.CartSnapshot),
		outbox:    outbox,
	}
}

// Outbox возвращает outbox-таблицу хранилища.
func (s *CartStore) Outbox() *OutboxMemory {
	return s.outbox
}

func (s *CartStore) WithinTx(_ context.Context, fn func(tx domain.CartTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &cartTx{
		carts:     cloneCartMap(s.carts),
		snapshots: cloneSnapshotMap(s.snapshots),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.carts = tx.carts
	s.snapshots = tx.snapshots
	s.outbox.apply(tx.appended)
	return nil
}

func (s *CartStore) GetCart(_ context.Context, id string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[id]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cloneCart(cart), nil
}

func (s *CartStore) GetSnapshot(_ context.Context, cartID string) (domain.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[cartID]
	if !ok {
		return domain.CartSnapshot{}, domain.ErrCartNotFound
	}
	return cloneSnapshot(snap), nil
}

type cartTx struct {
	carts     map[string]domain.Cart
	snapshots map[string]domain.CartSnapshot
	appended  []domain.OutboxMessage
}

var _ domain.CartTx = (*cartTx)(nil)

func (t *cartTx) AppendOutbox(msg domain.OutboxMessage) error {
	t.appended = append(t.appended, cloneOutboxMessage(msg))
	return nil
}

func (t *cartTx) InsertCart(cart domain.Cart) error {
	t.carts[cart.ID] = cloneCart(cart)
	return nil
}

func (t *cartTx) GetCartForUpdate(id string) (domain.Cart, error) {
	cart, ok := t.carts[id]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cloneCart(cart), nil
}

func (t *cartTx) UpdateCart(cart domain.Cart) error {
	existing, ok := t.carts[cart.ID]
	if !ok {
		return domain.ErrCartNotFound
	}
	if existing.Version != cart.Version-1 {
		return domain.ErrCartVersionConflict
	}
	cart.UpdatedAt = time.Now().UTC()
	t.carts[cart.ID] = cloneCart(cart)
	return nil
}

func (t *cartTx) InsertSnapshot(snapshot domain.CartSnapshot) error {
	// Ключ — id корзины: у корзины после чекаута ровно один снапшот.
	t.snapshots[snapshot.CartID] = cloneSnapshot(snapshot)
	return nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	cloned := cart
	cloned.Items = make([]domain.CartItem, len(cart.Items))
	for i, item := range cart.Items {
		cloned.Items[i] = item
		if item.SelectedOptions != nil {
			opts := make(map[string]string, len(item.SelectedOptions))
			for k, v := range item.SelectedOptions {
				opts[k] = v
			}
			cloned.Items[i].SelectedOptions = opts
		}
	}
	return cloned
}

func cloneSnapshot(snap domain.CartSnapshot) domain.CartSnapshot {
	cloned := snap
	cloned.Items = make([]domain.SnapshotItem, len(snap.Items))
	for i, item := range snap.Items {
		cloned.Items[i] = item
		if item.SelectedOptions != nil {
			opts := make(map[string]string, len(item.SelectedOptions))
			for k, v := range item.SelectedOptions {
				opts[k] = v
			}
			cloned.Items[i].SelectedOptions = opts
		}
	}
	return cloned
}

func cloneCartMap(src map[string]domain.Cart) map[string]domain.Cart {
	dst := make(map[string]domain.Cart, len(src))
	for id, cart := range src {
		dst[id] = cloneCart(cart)
	}
	return dst
}

func cloneSnapshotMap(src map[string]domain.CartSnapshot) map[string]domain.CartSnapshot {
	dst := make(map[string]domain.CartSnapshot, len(src))
	for cartID, snap := range src {
		dst[cartID] = cloneSnapshot(snap)
	}
	return dst
}
