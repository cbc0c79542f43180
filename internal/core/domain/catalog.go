package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// CatalogItem is a sellable product. Stock is the single source of truth
// for availability and never drops below zero.
type CatalogItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Description string          `json:"description"`
	PhotoURL    *string         `json:"photoUrl"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (i CatalogItem) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(i.Name)) < 2 {
		return fmt.Errorf("%w: name must be at least 2 characters", ErrInvalidArgument)
	}
	if i.Price.IsNegative() {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidArgument)
	}
	if i.Stock < 0 {
		return fmt.Errorf("%w: stock cannot be negative", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(i.Description) < 10 {
		return fmt.Errorf("%w: description must be at least 10 characters", ErrInvalidArgument)
	}
	return nil
}

func (i CatalogItem) Available() bool {
	return i.Stock > 0
}
