package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/port"
)

// PaymentService is the read and admin surface over payment records.
type PaymentService struct {
	payments port.PaymentRepository
	slips    port.SlipStorage
	events   port.EventPublisher
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewPaymentService builds the service. events may be nil.
func NewPaymentService(payments port.PaymentRepository, slips port.SlipStorage, events port.EventPublisher, logger *zap.Logger) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		payments: payments,
		slips:    slips,
		events:   events,
		logger:   logger,
		timeout:  defaultPublishTimeout,
		now:      time.Now,
	}
}

func (s *PaymentService) ListByCustomer(ctx context.Context, customerID string, filter domain.PaymentFilter) ([]domain.PaymentRecord, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidArgument)
	}
	filter.CustomerID = customerID
	return s.payments.ListPayments(ctx, filter)
}

func (s *PaymentService) ListAll(ctx context.Context, filter domain.PaymentFilter) ([]domain.PaymentRecord, error) {
	filter.CustomerID = ""
	return s.payments.ListPayments(ctx, filter)
}

func (s *PaymentService) Get(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: payment id is required", domain.ErrInvalidArgument)
	}
	return s.payments.GetPayment(ctx, id)
}

// UpdateStatus changes the only mutable field of a payment.
func (s *PaymentService) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) (*domain.PaymentRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: payment id is required", domain.ErrInvalidArgument)
	}
	if _, err := domain.ParsePaymentStatus(string(status)); err != nil {
		return nil, err
	}

	if err := s.payments.UpdatePaymentStatus(ctx, id, status); err != nil {
		return nil, err
	}
	payment, err := s.payments.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment status updated",
		zap.String("payment_id", id),
		zap.String("status", string(status)))
	s.publish(ctx, domain.EventPaymentStatusChanged, payment)
	return payment, nil
}

// Delete removes the record, then its slip. A slip that cannot be removed
// is logged and left behind.
func (s *PaymentService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: payment id is required", domain.ErrInvalidArgument)
	}
	payment, err := s.payments.DeletePayment(ctx, id)
	if err != nil {
		return err
	}

	if payment.PaymentSlip != "" && s.slips != nil {
		if err := s.slips.Delete(ctx, payment.PaymentSlip); err != nil {
			s.logger.Warn("delete payment slip error",
				zap.String("payment_id", id),
				zap.String("slip", payment.PaymentSlip),
				zap.Error(err))
		}
	}

	s.publish(ctx, domain.EventPaymentDeleted, payment)
	return nil
}

func (s *PaymentService) publish(ctx context.Context, eventType string, payment *domain.PaymentRecord) {
	if s.events == nil {
		return
	}
	event := domain.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		PaymentID:  payment.ID,
		CustomerID: payment.CustomerID,
		Status:     payment.Status,
		OccurredAt: s.now().UTC(),
	}
	publishEvent(ctx, s.events, event, s.timeout, s.logger)
}
