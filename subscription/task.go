package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/practix/billing/gateway"
	"github.com/practix/billing/payment"
	"github.com/practix/billing/spec"
	specBroker "github.com/practix/billing/spec/broker"

	"go.uber.org/zap"
)

// TaskOptions contains the configuration for the confirmation worker
type TaskOptions struct {
	Payments      PaymentLedger
	Tariffs       TariffStore
	Subscriptions Store
	Gateway       gateway.Client
	Consumer      specBroker.Consumer
	Notifier      Notifier
	Logger        *zap.Logger

	// BaseDelay is the first poll delay, doubled after every attempt
	BaseDelay time.Duration
	// MaxAttempts bounds the number of gateway polls per request
	MaxAttempts int
	// MaxAge bounds the total wall-clock age of a confirmation request
	MaxAge time.Duration
}

// Task is the payment confirmation worker. It is the single writer of payment
// and subscription status: both the webhook and the poll fallback funnel into
// it through the broker.
type Task struct {
	TaskOptions
}

// NewTask returns a confirmation worker to process ConfirmationRequests
func NewTask(option TaskOptions) (*Task, error) {
	if option.Payments == nil {
		return nil, fmt.Errorf("nil Payments is invalid")
	}
	if option.Tariffs == nil {
		return nil, fmt.Errorf("nil Tariffs is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.Consumer == nil {
		return nil, fmt.Errorf("nil Consumer is invalid")
	}
	if option.Notifier == nil {
		return nil, fmt.Errorf("nil Notifier is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.BaseDelay <= 0 {
		option.BaseDelay = spec.ConfirmationBaseDelay
	}
	if option.MaxAttempts <= 0 {
		option.MaxAttempts = spec.ConfirmationMaxAttempts
	}
	if option.MaxAge <= 0 {
		option.MaxAge = spec.ConfirmationMaxAge
	}
	option.Logger = option.Logger.With(zap.String("Task", string(spec.ConfirmationTask)))
	return &Task{
		TaskOptions: option,
	}, nil
}

// HandleConfirmations will consume confirmation deliveries from the broker and
// resolve each one in its own goroutine until ctx is cancelled
func (t *Task) HandleConfirmations(ctx context.Context) error {
	deliveries, err := t.Consumer.ReceiveConfirmationRequests(ctx)
	if err != nil {
		return err
	}
	go func() {
		for d := range deliveries {
			go t.confirm(ctx, d)
		}
	}()
	return nil
}

// confirm polls the gateway until the payment resolves. The broker delivery is
// acknowledged only once a terminal status is recorded; abandoning the request
// (shutdown, storage failure) requeues it so another worker resumes the
// schedule with the original enqueue time, keeping the age bound intact.
func (t *Task) confirm(ctx context.Context, d specBroker.Delivery) {
	req := d.Request

	logger := t.Logger.With(
		zap.String("PaymentID", req.PaymentRecordID),
		zap.String("ProviderPaymentID", req.ProviderPaymentID),
	)

	if payment.Status(req.LastKnownStatus).Terminal() {
		// already resolved by an earlier request
		d.Ack()
		return
	}

	deadline := time.Now().Add(t.MaxAge - req.Age(time.Now()))
	delay := t.BaseDelay

	for attempt := 1; attempt <= t.MaxAttempts; attempt++ {
		charge, err := t.Gateway.GetCharge(ctx, req.ProviderPaymentID)
		if err != nil {
			logger.Warn("Unable to poll charge status",
				zap.Int("Attempt", attempt),
				zap.Error(err),
			)
		} else if next := payment.StatusFromGateway(charge.Status); next.Terminal() {
			if t.resolve(ctx, logger, req.PaymentRecordID, next, charge.PaymentMethodID) {
				d.Ack()
			} else {
				d.Requeue()
			}
			return
		}

		if attempt == t.MaxAttempts || !time.Now().Add(delay).Before(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			d.Requeue()
			return
		case <-time.After(delay):
		}
		delay *= 2
	}

	// attempts or age exhausted while the provider still reports pending
	if t.resolve(ctx, logger, req.PaymentRecordID, payment.StatusExpired, "") {
		d.Ack()
	} else {
		d.Requeue()
	}
}

// resolve records the terminal payment status, and on success activates the
// subscription and notifies the identity service. It reports whether the
// request is settled; false means the status write failed and the delivery
// should be retried.
func (t *Task) resolve(ctx context.Context, logger *zap.Logger, paymentID string, next payment.Status, paymentMethodID string) bool {
	updated, err := t.Payments.MarkStatus(ctx, paymentID, next, paymentMethodID)
	if errors.Is(err, payment.ErrInvalidTransition) {
		// another confirmation raced us to a terminal status
		logger.Info("Payment is already in a terminal status",
			zap.String("NextStatus", string(next)),
		)
		return true
	}
	if err != nil {
		logger.Error("Unable to update payment status",
			zap.String("NextStatus", string(next)),
			zap.Error(err),
		)
		return false
	}
	if updated == nil {
		logger.Error("Payment record no longer exists")
		return true
	}

	logger.Info("Payment confirmation resolved",
		zap.String("Status", string(next)),
	)

	if next != payment.StatusSucceeded {
		return true
	}

	t.activate(ctx, logger, updated)
	return true
}

func (t *Task) activate(ctx context.Context, logger *zap.Logger, p *payment.Payment) {
	tr, err := t.Tariffs.GetByID(ctx, p.TariffID)
	if err != nil || tr == nil {
		logger.Error("Unable to resolve tariff for activation",
			zap.String("TariffID", p.TariffID),
			zap.Error(err),
		)
		return
	}

	sub, err := t.Subscriptions.ActivateForUser(ctx, ActivateOptions{
		UserID:       p.UserID,
		TariffID:     p.TariffID,
		PaymentID:    p.ID,
		Now:          time.Now(),
		DurationDays: tr.DurationDays,
	})
	if err != nil {
		logger.Error("Unable to activate subscription",
			zap.String("UserID", p.UserID),
			zap.Error(err),
		)
		return
	}

	logger.Info("Subscription activated",
		zap.String("UserID", sub.UserID),
		zap.String("TariffID", sub.TariffID),
		zap.Time("EndDate", sub.EndDate),
	)

	if err := t.Notifier.Subscribed(ctx, p.UserID, p.TariffID); err != nil {
		logger.Error("Cannot notify auth service about subscribe",
			zap.String("UserID", p.UserID),
			zap.Error(err),
		)
	}
}
