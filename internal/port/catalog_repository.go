package port

import (
	"context"

	"github.com/rl1809/fish-market/internal/core/domain"
)

type CatalogRepository interface {
	// GetItem returns domain.ErrProductNotFound when the item does not exist
	GetItem(ctx context.Context, id string) (*domain.CatalogItem, error)

	// ListAvailable returns items with stock > 0
	ListAvailable(ctx context.Context) ([]domain.CatalogItem, error)

	// DecrementStock atomically decreases stock only if stock >= quantity, returns false otherwise
	DecrementStock(ctx context.Context, id string, quantity int) (bool, error)

	// IncrementStock restores stock (for compensation on checkout failure)
	IncrementStock(ctx context.Context, id string, quantity int) error
}
