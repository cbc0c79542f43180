package domain

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusVerified PaymentStatus = "verified"
	PaymentStatusRejected PaymentStatus = "rejected"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(s); st {
	case PaymentStatusPending, PaymentStatusVerified, PaymentStatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", ErrInvalidArgument, s)
}

// PaymentLine is the immutable snapshot of one cart line at checkout time.
type PaymentLine struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

func (l PaymentLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// PaymentRecord is created once by checkout. Only Status changes afterwards.
type PaymentRecord struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customerId"`
	Items       []PaymentLine   `json:"items"`
	Total       decimal.Decimal `json:"total"`
	PaymentSlip string          `json:"paymentSlip"`
	Status      PaymentStatus   `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// PaymentFilter narrows payment listings. Date selects the UTC day [Date, Date+24h).
type PaymentFilter struct {
	CustomerID string
	Status     PaymentStatus
	Date       *time.Time
}

// SlipUpload is the proof-of-payment image attached to a checkout.
type SlipUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// NewPaymentFilter builds a filter from raw query values. date uses YYYY-MM-DD.
func NewPaymentFilter(customerID, status, date string) (PaymentFilter, error) {
	f := PaymentFilter{CustomerID: customerID}
	if status != "" {
		st, err := ParsePaymentStatus(status)
		if err != nil {
			return PaymentFilter{}, err
		}
		f.Status = st
	}
	if date != "" {
		day, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return PaymentFilter{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidArgument)
		}
		f.Date = &day
	}
	return f, nil
}

// DayRange returns the half-open UTC interval selected by Date.
func (f PaymentFilter) DayRange() (time.Time, time.Time) {
	start := time.Date(f.Date.Year(), f.Date.Month(), f.Date.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
