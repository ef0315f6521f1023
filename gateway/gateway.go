package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the closed set of charge/refund states reported by the payment provider
type Status string

// Defining provider-visible states. Anything the provider reports that is not
// terminal collapses into StatusPending.
const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the provider will never change this status again
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusCanceled
}

// Errors distinguishing a provider that cannot be reached from a provider that
// answered and declined. Callers branch with errors.Is.
var (
	ErrUnreachable = fmt.Errorf("payment provider is unreachable")
	ErrDeclined    = fmt.Errorf("payment provider declined the request")
)

// ChargeRequest describes one charge to create on the provider
type ChargeRequest struct {
	Amount          decimal.Decimal
	Currency        string
	Description     string
	PaymentMethodID string // Set only for off-session renewal charges
}

// Charge is the provider's view of one payment
type Charge struct {
	ProviderPaymentID string
	PaymentMethodID   string // Reusable method id, populated once the provider knows it
	Status            Status
	RedirectURL       string // Where the user completes payment; empty for off-session charges
}

// RefundRequest describes a refund against a previously succeeded charge
type RefundRequest struct {
	ProviderPaymentID string
	Amount            decimal.Decimal
	Currency          string
}

// Refund is the provider's view of one refund
type Refund struct {
	ProviderRefundID string
	Status           Status
}

// Client is the boundary to the external payment provider. The provider owns
// idempotency, retries, and actual money movement; this side only records
// outcomes.
type Client interface {
	// Charge creates a redirect-confirmed charge and saves the payment method for reuse
	Charge(ctx context.Context, req ChargeRequest) (*Charge, error)
	// OffSessionCharge charges a stored payment method without user interaction
	OffSessionCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	// GetCharge returns the provider's current view of the charge
	GetCharge(ctx context.Context, providerPaymentID string) (*Charge, error)
	// Refund returns money against a charge
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}
