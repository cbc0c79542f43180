package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/fish-market/internal/core/domain"
)

// MemoryCartRepository keeps carts in process. Used when CART_STORE=memory.
type MemoryCartRepository struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
}

func NewMemoryCartRepository() *MemoryCartRepository {
	return &MemoryCartRepository{carts: make(map[string]domain.Cart)}
}

func (m *MemoryCartRepository) GetCart(ctx context.Context, customerID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[customerID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return copyCart(cart), nil
}

func (m *MemoryCartRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.carts[cart.CustomerID]
	switch {
	case !ok && cart.Version != 0:
		return domain.ErrCartConflict
	case ok && stored.Version != cart.Version:
		return domain.ErrCartConflict
	}

	cart.Version++
	m.carts[cart.CustomerID] = *copyCart(*cart)
	return nil
}

func (m *MemoryCartRepository) ClearCart(ctx context.Context, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[customerID]
	if !ok {
		return nil
	}
	cart.Items = []domain.CartLine{}
	cart.Version++
	cart.UpdatedAt = time.Now().UTC()
	m.carts[customerID] = cart
	return nil
}

func (m *MemoryCartRepository) ClearCartIfVersion(ctx context.Context, customerID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[customerID]
	if !ok || cart.Version != version {
		return domain.ErrCartConflict
	}
	cart.Items = []domain.CartLine{}
	cart.Version++
	cart.UpdatedAt = time.Now().UTC()
	m.carts[customerID] = cart
	return nil
}

func copyCart(cart domain.Cart) *domain.Cart {
	cart.Items = append([]domain.CartLine{}, cart.Items...)
	return &cart
}
