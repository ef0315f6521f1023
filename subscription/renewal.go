package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/practix/billing/gateway"
	"github.com/practix/billing/payment"
	"github.com/practix/billing/spec"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RenewalOptions contains the configuration for the renewal sweep
type RenewalOptions struct {
	Subscriptions RenewalStore
	Tariffs       TariffStore
	Payments      PaymentStore
	Gateway       gateway.Client
	Notifier      Notifier
	Logger        *zap.Logger

	// Interval is how often the sweep scans for subscriptions due today
	Interval time.Duration
}

// Renewal periodically charges the stored payment method of every subscription
// ending today and either extends it or cancels it based on the outcome.
type Renewal struct {
	RenewalOptions
}

// NewRenewal returns the auto-renewal sweep
func NewRenewal(option RenewalOptions) (*Renewal, error) {
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Tariffs == nil {
		return nil, fmt.Errorf("nil Tariffs is invalid")
	}
	if option.Payments == nil {
		return nil, fmt.Errorf("nil Payments is invalid")
	}
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.Notifier == nil {
		return nil, fmt.Errorf("nil Notifier is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Interval <= 0 {
		option.Interval = spec.RenewalSweepInterval
	}
	option.Logger = option.Logger.With(zap.String("Task", string(spec.RenewalTask)))
	return &Renewal{
		RenewalOptions: option,
	}, nil
}

// Run will sweep immediately and then on every tick until ctx is cancelled
func (t *Renewal) Run(ctx context.Context) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	t.Sweep(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(ctx, time.Now())
		}
	}
}

// Sweep renews every subscription due on the given day. Each subscription is
// processed in isolation; one failing renewal does not stop the sweep.
func (t *Renewal) Sweep(ctx context.Context, now time.Time) {
	due, err := t.Subscriptions.DueOn(ctx, now)
	if err != nil {
		t.Logger.Error("Unable to list subscriptions due for renewal",
			zap.Error(err),
		)
		return
	}

	t.Logger.Info("Starting renewal sweep",
		zap.Int("Due", len(due)),
	)

	for i := range due {
		t.renew(ctx, &due[i], now)
	}
}

func (t *Renewal) renew(ctx context.Context, sub *Subscription, now time.Time) {
	logger := t.Logger.With(
		zap.String("SubscriptionID", sub.ID),
		zap.String("UserID", sub.UserID),
	)

	tr, err := t.Tariffs.GetByID(ctx, sub.TariffID)
	if err != nil || tr == nil {
		logger.Error("Unable to resolve tariff for renewal",
			zap.String("TariffID", sub.TariffID),
			zap.Error(err),
		)
		return
	}

	funding, err := t.Payments.GetByID(ctx, sub.PaymentID)
	if err != nil || funding == nil {
		logger.Error("Unable to resolve funding payment for renewal",
			zap.String("PaymentID", sub.PaymentID),
			zap.Error(err),
		)
		return
	}

	if funding.PaymentMethodID == "" {
		// no stored method to charge, treat as a failed renewal
		logger.Warn("Funding payment carries no reusable payment method")
		t.cancel(ctx, logger, sub)
		return
	}

	charge, err := t.Gateway.OffSessionCharge(ctx, gateway.ChargeRequest{
		Amount:          tr.Price,
		Currency:        tr.Currency,
		Description:     fmt.Sprintf("Renewal of %s: %s %s for %d days", tr.Name, tr.Price.StringFixed(2), tr.Currency, tr.DurationDays),
		PaymentMethodID: funding.PaymentMethodID,
	})
	if errors.Is(err, gateway.ErrUnreachable) {
		// leave the subscription untouched, the next sweep retries it
		logger.Warn("Payment provider is unreachable, skipping renewal",
			zap.Error(err),
		)
		return
	}
	if err != nil {
		logger.Error("Unable to create renewal charge",
			zap.Error(err),
		)
		return
	}

	p := &payment.Payment{
		ID:                uuid.New().String(),
		UserID:            sub.UserID,
		TariffID:          tr.ID,
		ProviderPaymentID: charge.ProviderPaymentID,
		PaymentMethodID:   charge.PaymentMethodID,
		Status:            payment.StatusFromGateway(charge.Status),
	}
	if err := t.Payments.Create(ctx, p); err != nil {
		logger.Error("Unable to persist renewal payment",
			zap.Error(err),
		)
		return
	}

	if charge.Status != gateway.StatusSucceeded {
		logger.Info("Renewal charge was declined",
			zap.String("PaymentID", p.ID),
		)
		t.cancel(ctx, logger, sub)
		return
	}

	extended, err := t.Subscriptions.Extend(ctx, sub.ID, p.ID, tr.DurationDays, now)
	if err != nil {
		logger.Error("Unable to extend subscription",
			zap.Error(err),
		)
		return
	}

	logger.Info("Subscription renewed",
		zap.String("PaymentID", p.ID),
		zap.Time("EndDate", extended.EndDate),
	)
}

func (t *Renewal) cancel(ctx context.Context, logger *zap.Logger, sub *Subscription) {
	if _, err := t.Subscriptions.Cancel(ctx, sub.UserID); err != nil && !errors.Is(err, ErrNotSubscribed) {
		logger.Error("Unable to cancel subscription after failed renewal",
			zap.Error(err),
		)
		return
	}

	logger.Info("Subscription canceled after failed renewal")

	if err := t.Notifier.Unsubscribed(ctx, sub.UserID); err != nil {
		logger.Error("Cannot notify auth service about unsubscribe",
			zap.Error(err),
		)
	}
}
