package port

import (
	"context"

	"github.com/rl1809/fish-market/internal/core/domain"
)

type SlipStorage interface {
	// Save stores the upload and returns a reference such as "/uploads/payment-123.png"
	Save(ctx context.Context, customerID string, slip domain.SlipUpload) (string, error)

	Delete(ctx context.Context, ref string) error
}
