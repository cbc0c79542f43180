package port

import (
	"context"

	"github.com/rl1809/fish-market/internal/core/domain"
)

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment domain.PaymentRecord) error

	// GetPayment returns domain.ErrPaymentNotFound when missing
	GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error)

	// ListPayments returns payments matching the filter, newest first
	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.PaymentRecord, error)

	UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error

	// DeletePayment removes the record and returns it so its slip can be cleaned up
	DeletePayment(ctx context.Context, id string) (*domain.PaymentRecord, error)
}
