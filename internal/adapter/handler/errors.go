package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/fish-market/internal/core/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type stockDetails struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

func errorBody(err error) ErrorResponse {
	body := ErrorResponse{
		Error: domain.PublicMessage(err),
		Code:  domain.CodeOf(err),
	}
	var stockErr *domain.StockError
	if errors.As(err, &stockErr) {
		body.Details = stockDetails{
			ProductID:   stockErr.ProductID,
			ProductName: stockErr.ProductName,
			Requested:   stockErr.Requested,
			Available:   stockErr.Available,
		}
	}
	return body
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrDuplicateRequest), errors.Is(err, domain.ErrCartConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQuantityExceedsStock), errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// productInputStatus is used where a product id is client input (add to cart,
// checkout): an unknown product makes the request invalid, it is not a missing resource.
func productInputStatus(err error) int {
	if errors.Is(err, domain.ErrProductNotFound) {
		return http.StatusBadRequest
	}
	return httpStatus(err)
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return codes.Unauthenticated
	case errors.Is(err, domain.ErrForbidden):
		return codes.PermissionDenied
	case errors.Is(err, domain.ErrDuplicateRequest):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrCartConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrQuantityExceedsStock), errors.Is(err, domain.ErrInsufficientStock):
		return codes.FailedPrecondition
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindNotFound:
		return codes.NotFound
	}
	return codes.Internal
}
