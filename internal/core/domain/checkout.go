package domain

import "time"

type CheckoutState string

const (
	CheckoutStateIdle        CheckoutState = "idle"
	CheckoutStateValidating  CheckoutState = "validating"
	CheckoutStateCommitting  CheckoutState = "committing"
	CheckoutStateCompleted   CheckoutState = "completed"
	CheckoutStateRejected    CheckoutState = "rejected"
	CheckoutStateCompensated CheckoutState = "compensated"
)

func (s CheckoutState) IsTerminal() bool {
	return s == CheckoutStateCompleted || s == CheckoutStateRejected || s == CheckoutStateCompensated
}

func (s CheckoutState) String() string {
	return string(s)
}

// Event is published after state changes that other systems may care about.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	PaymentID  string         `json:"paymentId"`
	CustomerID string         `json:"customerId"`
	Status     PaymentStatus  `json:"status"`
	Payment    *PaymentRecord `json:"payment,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

const (
	EventPaymentCreated       = "payment.created"
	EventPaymentStatusChanged = "payment.status_changed"
	EventPaymentDeleted       = "payment.deleted"
)
