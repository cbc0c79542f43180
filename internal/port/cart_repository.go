package port

import (
	"context"
	"errors"

	"github.com/rl1809/fish-market/internal/core/domain"
)

type CartRepository interface {
	// GetCart returns domain.ErrCartNotFound when the customer has no cart
	GetCart(ctx context.Context, customerID string) (*domain.Cart, error)

	// SaveCart inserts a cart with Version 0 or updates it when the stored version matches,
	// returns domain.ErrCartConflict on a stale version. The stored version is incremented.
	SaveCart(ctx context.Context, cart *domain.Cart) error

	// ClearCart empties the items of the customer's cart, a missing cart is not an error
	ClearCart(ctx context.Context, customerID string) error

	// ClearCartIfVersion empties the cart only while its stored version equals version,
	// returns domain.ErrCartConflict when the cart changed or is gone.
	ClearCartIfVersion(ctx context.Context, customerID string, version int) error
}

var ErrCacheMiss = errors.New("cache miss")

type CartCache interface {
	Get(ctx context.Context, customerID string) (*domain.Cart, error)
	Set(ctx context.Context, customerID string, cart *domain.Cart) error
	Delete(ctx context.Context, customerID string) error
}
