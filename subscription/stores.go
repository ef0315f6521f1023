package subscription

import (
	"context"
	"time"

	"github.com/practix/billing/payment"
	"github.com/practix/billing/tariff"
)

// The orchestrator consumes its collaborators through narrow interfaces so the
// HTTP service and the background tasks can be exercised against fakes. The
// GORM-backed managers satisfy them.

// TariffStore reads the tariff catalog
type TariffStore interface {
	GetByID(ctx context.Context, id string) (*tariff.Tariff, error)
}

// PaymentStore reads and appends to the payment/refund ledgers
type PaymentStore interface {
	Create(ctx context.Context, p *payment.Payment) error
	GetByID(ctx context.Context, id string) (*payment.Payment, error)
	ListSucceededByUser(ctx context.Context, userID string) ([]payment.Payment, error)
	CreateRefund(ctx context.Context, r *payment.Refund) error
}

// PaymentLedger is the confirmation worker's write access to payment status
type PaymentLedger interface {
	MarkStatus(ctx context.Context, id string, next payment.Status, paymentMethodID string) (*payment.Payment, error)
}

// Store is the subscription ledger
type Store interface {
	GetActive(ctx context.Context, userID string) (*Subscription, error)
	ListActive(ctx context.Context, userID string) ([]Subscription, error)
	ActivateForUser(ctx context.Context, opt ActivateOptions) (*Subscription, error)
	Cancel(ctx context.Context, userID string) (*Subscription, error)
}

// RenewalStore is the sweep's view of the subscription ledger
type RenewalStore interface {
	DueOn(ctx context.Context, day time.Time) ([]Subscription, error)
	Extend(ctx context.Context, id, paymentID string, durationDays int, now time.Time) (*Subscription, error)
	Cancel(ctx context.Context, userID string) (*Subscription, error)
}

// Notifier pushes tier changes to the identity service
type Notifier interface {
	Subscribed(ctx context.Context, userID, tariffID string) error
	Unsubscribed(ctx context.Context, userID string) error
}
