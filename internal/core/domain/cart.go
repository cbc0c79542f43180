package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the single active cart of a customer. Product IDs are unique
// within Items and every quantity is at least one.
type Cart struct {
	ID         string     `json:"id" bson:"_id"`
	CustomerID string     `json:"customerId" bson:"customer_id"`
	Items      []CartLine `json:"items" bson:"items"`
	Version    int        `json:"version" bson:"version"` // optimistic locking
	CreatedAt  time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" bson:"updated_at"`
}

type CartLine struct {
	ProductID string `json:"productId" bson:"product_id"`
	Quantity  int    `json:"quantity" bson:"quantity"`
}

func NewCart(id, customerID string, now time.Time) *Cart {
	return &Cart{
		ID:         id,
		CustomerID: customerID,
		Items:      []CartLine{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Line returns the index of the line for productID, or -1.
func (c *Cart) Line(productID string) int {
	for i, line := range c.Items {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

// Quantity returns the quantity currently held for productID.
func (c *Cart) Quantity(productID string) int {
	if i := c.Line(productID); i >= 0 {
		return c.Items[i].Quantity
	}
	return 0
}

// AddQuantity increases an existing line or appends a new one.
func (c *Cart) AddQuantity(productID string, quantity int) {
	if i := c.Line(productID); i >= 0 {
		c.Items[i].Quantity += quantity
		return
	}
	c.Items = append(c.Items, CartLine{ProductID: productID, Quantity: quantity})
}

// SetQuantity overwrites the line quantity, removing the line when
// quantity is zero or less.
func (c *Cart) SetQuantity(productID string, quantity int) error {
	i := c.Line(productID)
	if i < 0 {
		return ErrItemNotInCart
	}
	if quantity <= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return nil
	}
	c.Items[i].Quantity = quantity
	return nil
}

func (c *Cart) Remove(productID string) error {
	return c.SetQuantity(productID, 0)
}

func (c *Cart) Clear() {
	c.Items = []CartLine{}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Validate checks the structural invariants that hold for every persisted cart.
func (c *Cart) Validate() error {
	if c.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(c.Items))
	for _, line := range c.Items {
		if line.ProductID == "" {
			return fmt.Errorf("%w: product id is required", ErrInvalidArgument)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidArgument)
		}
		if _, dup := seen[line.ProductID]; dup {
			return fmt.Errorf("%w: duplicate product %s in cart", ErrInvalidArgument, line.ProductID)
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}

// CartView is a cart expanded with live catalog data. TotalBill is computed
// at read time and never stored.
type CartView struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customerId"`
	Items      []CartViewLine  `json:"items"`
	TotalBill  decimal.Decimal `json:"totalBill"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type CartViewLine struct {
	ProductID   string          `json:"productId"`
	Quantity    int             `json:"quantity"`
	Name        string          `json:"name,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Description string          `json:"description,omitempty"`
	PhotoURL    *string         `json:"photoUrl"`
	Deleted     bool            `json:"deleted,omitempty"`
}
