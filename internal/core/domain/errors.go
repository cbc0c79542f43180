package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrProductNotFound      = errors.New("product not found")
	ErrQuantityExceedsStock = errors.New("quantity exceeds stock")
	ErrCartNotFound         = errors.New("cart not found")
	ErrItemNotInCart        = errors.New("item not in cart")
	ErrCartConflict         = errors.New("cart was modified concurrently")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrMissingPaymentSlip   = errors.New("payment slip is required")
	ErrUnsupportedFileType  = errors.New("only JPEG and PNG files are allowed")
	ErrSlipTooLarge         = errors.New("payment slip is too large")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrDuplicateRequest     = errors.New("duplicate request")
	ErrCheckoutFailed       = errors.New("error processing checkout")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
)

// StockError reports a quantity bound violation for a single product.
// It unwraps to ErrQuantityExceedsStock (cart writes) or ErrInsufficientStock (checkout).
type StockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
	Err         error
}

func (e *StockError) Error() string {
	if errors.Is(e.Err, ErrInsufficientStock) {
		return fmt.Sprintf("Insufficient stock for %s. Available: %d", e.ProductName, e.Available)
	}
	return fmt.Sprintf("Quantity exceeds stock for %s. Available: %d", e.ProductName, e.Available)
}

func (e *StockError) Unwrap() error {
	return e.Err
}

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindAuth       Kind = "auth"
	KindInternal   Kind = "internal"
)

// KindOf classifies err into the client-facing error taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrMissingPaymentSlip),
		errors.Is(err, ErrUnsupportedFileType),
		errors.Is(err, ErrSlipTooLarge):
		return KindValidation
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrCartNotFound),
		errors.Is(err, ErrItemNotInCart),
		errors.Is(err, ErrPaymentNotFound):
		return KindNotFound
	case errors.Is(err, ErrQuantityExceedsStock),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrDuplicateRequest),
		errors.Is(err, ErrCartConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden):
		return KindAuth
	}
	return KindInternal
}

var codes = []struct {
	err  error
	code string
}{
	{ErrEmptyCart, "EmptyCart"},
	{ErrMissingPaymentSlip, "MissingPaymentSlip"},
	{ErrUnsupportedFileType, "UnsupportedFileType"},
	{ErrSlipTooLarge, "PaymentSlipTooLarge"},
	{ErrInsufficientStock, "InsufficientStock"},
	{ErrQuantityExceedsStock, "QuantityExceedsStock"},
	{ErrProductNotFound, "ProductNotFound"},
	{ErrCartNotFound, "CartNotFound"},
	{ErrItemNotInCart, "ItemNotInCart"},
	{ErrPaymentNotFound, "PaymentNotFound"},
	{ErrDuplicateRequest, "DuplicateRequest"},
	{ErrCartConflict, "CartConflict"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrForbidden, "Forbidden"},
	{ErrInvalidArgument, "ValidationError"},
	{ErrCheckoutFailed, "CheckoutFailed"},
}

// CodeOf returns the machine-readable code for err.
func CodeOf(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "InternalError"
}

// PublicMessage returns a message safe to show to clients.
func PublicMessage(err error) string {
	if KindOf(err) == KindInternal {
		if errors.Is(err, ErrCheckoutFailed) {
			return ErrCheckoutFailed.Error()
		}
		return "internal error"
	}
	return err.Error()
}
