package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/port"
)

var errBoom = errors.New("boom")

// Mock CatalogRepository
type mockCatalog struct {
	mu           sync.Mutex
	items        map[string]*domain.CatalogItem
	decrementErr error
	incremented  int
	onDecrement  func() // runs before the lock is taken
}

func newMockCatalog(items ...domain.CatalogItem) *mockCatalog {
	m := &mockCatalog{items: make(map[string]*domain.CatalogItem)}
	for i := range items {
		item := items[i]
		m.items[item.ID] = &item
	}
	return m
}

func fish(id, name, price string, stock int) domain.CatalogItem {
	return domain.CatalogItem{
		ID:          id,
		Name:        name,
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
		Description: "fresh from the morning catch",
	}
}

func (m *mockCatalog) GetItem(ctx context.Context, id string) (*domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *mockCatalog) ListAvailable(ctx context.Context) ([]domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CatalogItem
	for _, item := range m.items {
		if item.Available() {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockCatalog) DecrementStock(ctx context.Context, id string, quantity int) (bool, error) {
	if m.onDecrement != nil {
		m.onDecrement()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decrementErr != nil {
		return false, m.decrementErr
	}
	item, ok := m.items[id]
	if !ok {
		return false, nil
	}
	if item.Stock >= quantity {
		item.Stock -= quantity
		return true, nil
	}
	return false, nil
}

func (m *mockCatalog) IncrementStock(ctx context.Context, id string, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	item.Stock += quantity
	m.incremented += quantity
	return nil
}

func (m *mockCatalog) setStock(id string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].Stock = stock
}

func (m *mockCatalog) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Stock
}

func (m *mockCatalog) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
}

// Mock CartRepository
type mockCarts struct {
	mu        sync.Mutex
	carts     map[string]domain.Cart
	clearErr  error
	onClear   func()
	conflicts int // number of SaveCart calls to reject with a conflict
	saves     int
}

func newMockCarts() *mockCarts {
	return &mockCarts{carts: make(map[string]domain.Cart)}
}

func (m *mockCarts) GetCart(ctx context.Context, customerID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[customerID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	cart.Items = append([]domain.CartLine(nil), cart.Items...)
	return &cart, nil
}

func (m *mockCarts) SaveCart(ctx context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrCartConflict
	}
	stored, ok := m.carts[cart.CustomerID]
	if ok && stored.Version != cart.Version {
		return domain.ErrCartConflict
	}
	if !ok && cart.Version != 0 {
		return domain.ErrCartConflict
	}
	cart.Version++
	cp := *cart
	cp.Items = append([]domain.CartLine(nil), cart.Items...)
	m.carts[cart.CustomerID] = cp
	m.saves++
	return nil
}

func (m *mockCarts) ClearCart(ctx context.Context, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[customerID]
	if !ok {
		return nil
	}
	cart.Items = []domain.CartLine{}
	cart.Version++
	m.carts[customerID] = cart
	return nil
}

func (m *mockCarts) ClearCartIfVersion(ctx context.Context, customerID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onClear != nil {
		m.onClear()
	}
	if m.clearErr != nil {
		return m.clearErr
	}
	cart, ok := m.carts[customerID]
	if !ok || cart.Version != version {
		return domain.ErrCartConflict
	}
	cart.Items = []domain.CartLine{}
	cart.Version++
	m.carts[customerID] = cart
	return nil
}

func (m *mockCarts) put(customerID string, lines ...domain.CartLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[customerID] = domain.Cart{
		ID:         "cart-" + customerID,
		CustomerID: customerID,
		Items:      lines,
		Version:    1,
	}
}

func (m *mockCarts) lines(customerID string) []domain.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.carts[customerID].Items
}

// Mock CartCache
type mockCache struct {
	mu      sync.Mutex
	carts   map[string]domain.Cart
	deletes int
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]domain.Cart)}
}

func (m *mockCache) Get(ctx context.Context, customerID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[customerID]
	if !ok {
		return nil, port.ErrCacheMiss
	}
	return &cart, nil
}

func (m *mockCache) Set(ctx context.Context, customerID string, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[customerID] = *cart
	return nil
}

func (m *mockCache) has(customerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.carts[customerID]
	return ok
}

func (m *mockCache) Delete(ctx context.Context, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, customerID)
	m.deletes++
	return nil
}

// Mock PaymentRepository
type mockPayments struct {
	mu        sync.Mutex
	payments  map[string]domain.PaymentRecord
	createErr error
}

func newMockPayments() *mockPayments {
	return &mockPayments{payments: make(map[string]domain.PaymentRecord)}
}

func (m *mockPayments) CreatePayment(ctx context.Context, payment domain.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.payments[payment.ID] = payment
	return nil
}

func (m *mockPayments) GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *mockPayments) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaymentRecord
	for _, p := range m.payments {
		if filter.CustomerID != "" && p.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Date != nil {
			from, to := filter.DayRange()
			if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockPayments) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	p.Status = status
	m.payments[id] = p
	return nil
}

func (m *mockPayments) DeletePayment(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	delete(m.payments, id)
	return &p, nil
}

func (m *mockPayments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

// Mock SlipStorage
type mockSlips struct {
	mu        sync.Mutex
	stored    map[string]bool
	seq       int
	deleteErr error
}

func newMockSlips() *mockSlips {
	return &mockSlips{stored: make(map[string]bool)}
}

func (m *mockSlips) Save(ctx context.Context, customerID string, slip domain.SlipUpload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ref := fmt.Sprintf("/uploads/payment-%s-%d.png", customerID, m.seq)
	m.stored[ref] = true
	return ref, nil
}

func (m *mockSlips) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.stored, ref)
	return nil
}

func (m *mockSlips) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

// Mock IdempotencyStore
type mockIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMockIdempotency() *mockIdempotency {
	return &mockIdempotency{keys: make(map[string]bool)}
}

func (m *mockIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *mockIdempotency) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// Mock EventPublisher
type mockEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *mockEvents) Publish(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEvents) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}
