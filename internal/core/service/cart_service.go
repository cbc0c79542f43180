package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/port"
)

const maxCartWriteAttempts = 3

// cacheRedeleteDelay bounds how long a read that loaded a cart just before a
// write can keep the old copy in the cache.
var cacheRedeleteDelay = 500 * time.Millisecond

// CartService keeps one cart per customer and bounds every line by the
// current catalog stock at write time. It never mutates the catalog.
type CartService struct {
	catalog port.CatalogRepository
	carts   port.CartRepository
	cache   port.CartCache
	logger  *zap.Logger
	sfg     singleflight.Group
	now     func() time.Time
}

// NewCartService builds the service. cache may be nil.
func NewCartService(catalog port.CatalogRepository, carts port.CartRepository, cache port.CartCache, logger *zap.Logger) *CartService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartService{
		catalog: catalog,
		carts:   carts,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *CartService) AddItem(ctx context.Context, customerID, productID string, quantity int) (*domain.Cart, error) {
	if err := requireIDs(customerID, productID); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidArgument)
	}

	return s.write(ctx, customerID, true, productID, func(cart *domain.Cart) error {
		item, err := s.catalog.GetItem(ctx, productID)
		if err != nil {
			return err
		}
		requested := cart.Quantity(productID) + quantity
		if requested > item.Stock {
			return &domain.StockError{
				ProductID:   item.ID,
				ProductName: item.Name,
				Requested:   requested,
				Available:   item.Stock,
				Err:         domain.ErrQuantityExceedsStock,
			}
		}
		cart.AddQuantity(productID, quantity)
		return nil
	})
}

// SetQuantity overwrites a line. A quantity of zero or less removes it.
func (s *CartService) SetQuantity(ctx context.Context, customerID, productID string, quantity int) (*domain.Cart, error) {
	if err := requireIDs(customerID, productID); err != nil {
		return nil, err
	}

	return s.write(ctx, customerID, false, productID, func(cart *domain.Cart) error {
		if cart.Line(productID) < 0 {
			return domain.ErrItemNotInCart
		}
		if quantity > 0 {
			item, err := s.catalog.GetItem(ctx, productID)
			if err != nil {
				return err
			}
			if quantity > item.Stock {
				return &domain.StockError{
					ProductID:   item.ID,
					ProductName: item.Name,
					Requested:   quantity,
					Available:   item.Stock,
					Err:         domain.ErrQuantityExceedsStock,
				}
			}
		}
		return cart.SetQuantity(productID, quantity)
	})
}

func (s *CartService) RemoveItem(ctx context.Context, customerID, productID string) (*domain.Cart, error) {
	if err := requireIDs(customerID, productID); err != nil {
		return nil, err
	}

	// removal only shrinks demand, no stock re-check
	return s.write(ctx, customerID, false, "", func(cart *domain.Cart) error {
		return cart.Remove(productID)
	})
}

// ClearCart empties the cart in place. Clearing a missing cart is a no-op.
func (s *CartService) ClearCart(ctx context.Context, customerID string) error {
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", domain.ErrInvalidArgument)
	}
	if err := s.carts.ClearCart(ctx, customerID); err != nil {
		s.logger.Error("repo clear cart error", zap.String("customer_id", customerID), zap.Error(err))
		return err
	}
	s.invalidate(customerID)
	return nil
}

// GetCart expands every line with live catalog data and computes TotalBill
// from current prices. Lines whose product was deleted are flagged and
// left out of the total.
func (s *CartService) GetCart(ctx context.Context, customerID string) (*domain.CartView, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidArgument)
	}

	cart, err := s.loadCart(ctx, customerID)
	if err != nil {
		return nil, err
	}

	view := &domain.CartView{
		ID:         cart.ID,
		CustomerID: cart.CustomerID,
		Items:      make([]domain.CartViewLine, 0, len(cart.Items)),
		TotalBill:  decimal.Zero,
		UpdatedAt:  cart.UpdatedAt,
	}

	for _, line := range cart.Items {
		vl := domain.CartViewLine{ProductID: line.ProductID, Quantity: line.Quantity}

		item, err := s.catalog.GetItem(ctx, line.ProductID)
		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			s.logger.Warn("cart references deleted product",
				zap.String("customer_id", customerID),
				zap.String("product_id", line.ProductID))
			vl.Deleted = true
		case err != nil:
			return nil, fmt.Errorf("get product %s: %w", line.ProductID, err)
		default:
			vl.Name = item.Name
			vl.Price = item.Price
			vl.Stock = item.Stock
			vl.Description = item.Description
			vl.PhotoURL = item.PhotoURL
			view.TotalBill = view.TotalBill.Add(item.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		view.Items = append(view.Items, vl)
	}

	return view, nil
}

// write runs a read-modify-write cycle on the customer's cart with
// optimistic locking. touched names the line whose stock bound is
// re-checked right before persisting.
func (s *CartService) write(ctx context.Context, customerID string, create bool, touched string, mutate func(*domain.Cart) error) (*domain.Cart, error) {
	for attempt := 1; attempt <= maxCartWriteAttempts; attempt++ {
		cart, err := s.carts.GetCart(ctx, customerID)
		if errors.Is(err, domain.ErrCartNotFound) && create {
			cart = domain.NewCart(uuid.NewString(), customerID, s.now())
		} else if err != nil {
			return nil, err
		}

		if err := mutate(cart); err != nil {
			return nil, err
		}
		if err := s.validate(ctx, cart, touched); err != nil {
			return nil, err
		}

		cart.UpdatedAt = s.now()
		err = s.carts.SaveCart(ctx, cart)
		if errors.Is(err, domain.ErrCartConflict) {
			s.logger.Debug("cart write conflict, retrying",
				zap.String("customer_id", customerID),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			s.logger.Error("repo save cart error", zap.String("customer_id", customerID), zap.Error(err))
			return nil, fmt.Errorf("save cart: %w", err)
		}

		s.invalidate(customerID)
		return cart, nil
	}
	return nil, domain.ErrCartConflict
}

// validate is the persistence-time check: structural invariants plus a
// fresh stock read for the line that was just written.
func (s *CartService) validate(ctx context.Context, cart *domain.Cart, touched string) error {
	if err := cart.Validate(); err != nil {
		return err
	}
	if touched == "" {
		return nil
	}
	i := cart.Line(touched)
	if i < 0 {
		return nil
	}
	item, err := s.catalog.GetItem(ctx, touched)
	if err != nil {
		return err
	}
	if q := cart.Items[i].Quantity; q > item.Stock {
		return &domain.StockError{
			ProductID:   item.ID,
			ProductName: item.Name,
			Requested:   q,
			Available:   item.Stock,
			Err:         domain.ErrQuantityExceedsStock,
		}
	}
	return nil
}

func (s *CartService) loadCart(ctx context.Context, customerID string) (*domain.Cart, error) {
	// singleflight collapses concurrent cache misses for the same customer
	v, err, _ := s.sfg.Do(customerID, func() (interface{}, error) {
		if s.cache != nil {
			cart, err := s.cache.Get(ctx, customerID)
			if err == nil {
				return cart, nil
			}
			if !errors.Is(err, port.ErrCacheMiss) {
				s.logger.Warn("cache get error", zap.String("customer_id", customerID), zap.Error(err))
			}
		}

		cart, err := s.carts.GetCart(ctx, customerID)
		if err != nil {
			return nil, err
		}

		if s.cache != nil {
			if err := s.cache.Set(ctx, customerID, cart); err != nil {
				s.logger.Warn("cache set error", zap.String("customer_id", customerID), zap.Error(err))
			}
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (s *CartService) invalidate(customerID string) {
	invalidateCart(s.cache, s.logger, customerID)
}

func invalidateCart(cache port.CartCache, logger *zap.Logger, customerID string) {
	if cache == nil {
		return
	}
	del := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := cache.Delete(ctx, customerID); err != nil {
			logger.Warn("cache invalidate error", zap.String("customer_id", customerID), zap.Error(err))
		}
	}
	del()
	// a concurrent loadCart may still Set the cart it read before the write
	time.AfterFunc(cacheRedeleteDelay, del)
}

func requireIDs(customerID, productID string) error {
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", domain.ErrInvalidArgument)
	}
	if productID == "" {
		return fmt.Errorf("%w: product id is required", domain.ErrInvalidArgument)
	}
	return nil
}
