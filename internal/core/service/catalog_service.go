package service

import (
	"context"
	"fmt"

	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/port"
)

type CatalogService struct {
	catalog port.CatalogRepository
}

func NewCatalogService(catalog port.CatalogRepository) *CatalogService {
	return &CatalogService{catalog: catalog}
}

func (s *CatalogService) ListAvailable(ctx context.Context) ([]domain.CatalogItem, error) {
	return s.catalog.ListAvailable(ctx)
}

func (s *CatalogService) GetItem(ctx context.Context, id string) (*domain.CatalogItem, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: product id is required", domain.ErrInvalidArgument)
	}
	return s.catalog.GetItem(ctx, id)
}
