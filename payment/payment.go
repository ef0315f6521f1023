package payment

import (
	"time"

	"github.com/practix/billing/gateway"

	"github.com/shopspring/decimal"
)

// Status is the closed set of payment states. Stored as text but validated at
// the storage boundary; transitions only move forward.
type Status string

// Defining payment states. A pending payment resolves to exactly one of the
// terminal states; expired covers confirmations abandoned past the retry bound.
const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusCanceled  Status = "canceled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a member of the closed status set
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status can never change again
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusPending
}

// CanTransition reports whether moving from s to next is a forward transition
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return false
	}
	return !s.Terminal()
}

// StatusFromGateway maps the provider's view of a charge onto the ledger's status set
func StatusFromGateway(st gateway.Status) Status {
	switch st {
	case gateway.StatusSucceeded:
		return StatusSucceeded
	case gateway.StatusCanceled:
		return StatusCanceled
	default:
		return StatusPending
	}
}

// Payment is one attempted charge against a tariff
type Payment struct {
	ID                string    `json:"id" gorm:"primaryKey;type:uuid"`
	UserID            string    `json:"userId" gorm:"index;type:uuid"`
	TariffID          string    `json:"tariffId" gorm:"type:uuid"`
	ProviderPaymentID string    `json:"providerPaymentId" gorm:"index"` // Corresponds to the gateway's payment ID
	PaymentMethodID   string    `json:"paymentMethodId"`                // Stored for off-session renewal charges
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Refund records one refund attempt against a payment. Append-only.
type Refund struct {
	ID                string          `json:"id" gorm:"primaryKey;type:uuid"`
	ProviderPaymentID string          `json:"providerPaymentId" gorm:"index"`
	ProviderRefundID  string          `json:"providerRefundId"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(10,2)"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}
