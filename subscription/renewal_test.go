package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/practix/billing/gateway"
	"github.com/practix/billing/payment"
	"github.com/practix/billing/subscription"
	"github.com/practix/billing/tariff"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type renewalFixture struct {
	tariffs  *fakeTariffs
	payments *fakePayments
	subs     *fakeSubs
	gateway  *fakeGateway
	notifier *fakeNotifier
	renewal  *subscription.Renewal
}

func newRenewalFixture(t *testing.T) *renewalFixture {
	t.Helper()

	f := &renewalFixture{
		tariffs: &fakeTariffs{
			tariffs: make(map[string]*tariff.Tariff),
		},
		payments: newFakePayments(),
		subs:     newFakeSubs(),
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
	}

	renewal, err := subscription.NewRenewal(subscription.RenewalOptions{
		Subscriptions: f.subs,
		Tariffs:       f.tariffs,
		Payments:      f.payments,
		Gateway:       f.gateway,
		Notifier:      f.notifier,
		Logger:        zap.NewNop(),
	})
	require.NoError(t, err)
	f.renewal = renewal
	return f
}

func (f *renewalFixture) seedSub(t *testing.T, endDate time.Time, paymentMethodID string) *subscription.Subscription {
	t.Helper()
	tr := &tariff.Tariff{
		ID:           uuid.New().String(),
		Name:         "Premium",
		Price:        decimal.RequireFromString("100.00"),
		Currency:     "USD",
		DurationDays: 30,
		Active:       true,
	}
	f.tariffs.tariffs[tr.ID] = tr
	p := &payment.Payment{
		ID:                uuid.New().String(),
		UserID:            uuid.New().String(),
		TariffID:          tr.ID,
		ProviderPaymentID: "pi_funding",
		PaymentMethodID:   paymentMethodID,
		Status:            payment.StatusSucceeded,
	}
	require.NoError(t, f.payments.Create(nil, p))
	sub := &subscription.Subscription{
		ID:        uuid.New().String(),
		UserID:    p.UserID,
		TariffID:  tr.ID,
		PaymentID: p.ID,
		StartDate: endDate.AddDate(0, 0, -30),
		EndDate:   endDate,
		Status:    subscription.StatusActive,
	}
	f.subs.put(sub)
	return sub
}

func TestSweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2021, 6, 1, 6, 0, 0, 0, time.UTC)

	t.Run("extends a renewed subscription from its end date", func(t *testing.T) {
		t.Parallel()
		f := newRenewalFixture(t)
		sub := f.seedSub(t, now.Add(time.Hour*6), "pm_test")
		f.gateway.offSessionResult = &gateway.Charge{
			ProviderPaymentID: "pi_renewal",
			PaymentMethodID:   "pm_test",
			Status:            gateway.StatusSucceeded,
		}

		f.renewal.Sweep(context.Background(), now)

		renewed, err := f.subs.GetActive(nil, sub.UserID)
		require.NoError(t, err)
		require.NotNil(t, renewed)
		assert.Equal(t, sub.EndDate.AddDate(0, 0, 30), renewed.EndDate)
		assert.NotEqual(t, sub.PaymentID, renewed.PaymentID)

		assert.Equal(t, "pm_test", f.gateway.lastOffSession.PaymentMethodID)
		assert.True(t, f.gateway.lastOffSession.Amount.Equal(decimal.RequireFromString("100.00")))

		funding, err := f.payments.GetByID(nil, renewed.PaymentID)
		require.NoError(t, err)
		require.NotNil(t, funding)
		assert.Equal(t, payment.StatusSucceeded, funding.Status)
		assert.Equal(t, "pi_renewal", funding.ProviderPaymentID)

		assert.Equal(t, 0, f.notifier.unsubscribedCount())
	})

	t.Run("lapsed subscription extends from now", func(t *testing.T) {
		t.Parallel()
		f := newRenewalFixture(t)
		sub := f.seedSub(t, now.Add(-time.Hour), "pm_test")
		f.gateway.offSessionResult = &gateway.Charge{
			ProviderPaymentID: "pi_renewal",
			Status:            gateway.StatusSucceeded,
		}

		f.renewal.Sweep(context.Background(), now)

		renewed, err := f.subs.GetActive(nil, sub.UserID)
		require.NoError(t, err)
		require.NotNil(t, renewed)
		assert.Equal(t, now.AddDate(0, 0, 30), renewed.EndDate)
	})

	t.Run("declined charge cancels and notifies", func(t *testing.T) {
		t.Parallel()
		f := newRenewalFixture(t)
		sub := f.seedSub(t, now.Add(time.Hour*6), "pm_test")
		f.gateway.offSessionResult = &gateway.Charge{
			ProviderPaymentID: "pi_declined",
			Status:            gateway.StatusCanceled,
		}

		f.renewal.Sweep(context.Background(), now)

		active, err := f.subs.GetActive(nil, sub.UserID)
		require.NoError(t, err)
		assert.Nil(t, active)
		assert.Equal(t, 1, f.notifier.unsubscribedCount())

		// the declined attempt still lands in the ledger
		history := make([]payment.Payment, 0)
		for _, p := range f.payments.payments {
			if p.ProviderPaymentID == "pi_declined" {
				history = append(history, *p)
			}
		}
		require.Len(t, history, 1)
		assert.Equal(t, payment.StatusCanceled, history[0].Status)
	})

	t.Run("unreachable gateway leaves the subscription for the next sweep", func(t *testing.T) {
		t.Parallel()
		f := newRenewalFixture(t)
		sub := f.seedSub(t, now.Add(time.Hour*6), "pm_test")
		f.gateway.offSessionErr = gateway.ErrUnreachable

		f.renewal.Sweep(context.Background(), now)

		active, err := f.subs.GetActive(nil, sub.UserID)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, sub.EndDate, active.EndDate)
		assert.Equal(t, 0, f.notifier.unsubscribedCount())
	})

	t.Run("missing payment method cancels without charging", func(t *testing.T) {
		t.Parallel()
		f := newRenewalFixture(t)
		sub := f.seedSub(t, now.Add(time.Hour*6), "")

		f.renewal.Sweep(context.Background(), now)

		active, err := f.subs.GetActive(nil, sub.UserID)
		require.NoError(t, err)
		assert.Nil(t, active)
		assert.Equal(t, 0, f.gateway.offSessionCalls)
		assert.Equal(t, 1, f.notifier.unsubscribedCount())
	})

	t.Run("subscriptions not due are untouched", func(t *testing.T) {
		t.Parallel()
		f := newRenewalFixture(t)
		f.seedSub(t, now.AddDate(0, 0, 10), "pm_test")

		f.renewal.Sweep(context.Background(), now)

		assert.Equal(t, 0, f.gateway.offSessionCalls)
	})

	t.Run("one failing renewal does not stop the sweep", func(t *testing.T) {
		t.Parallel()
		f := newRenewalFixture(t)
		broken := f.seedSub(t, now.Add(time.Hour*6), "pm_test")
		broken.PaymentID = uuid.New().String() // funding payment is gone
		f.subs.put(broken)
		healthy := f.seedSub(t, now.Add(time.Hour*6), "pm_test")
		f.gateway.offSessionResult = &gateway.Charge{
			ProviderPaymentID: "pi_renewal",
			Status:            gateway.StatusSucceeded,
		}

		f.renewal.Sweep(context.Background(), now)

		renewed, err := f.subs.GetActive(nil, healthy.UserID)
		require.NoError(t, err)
		require.NotNil(t, renewed)
		assert.Equal(t, healthy.EndDate.AddDate(0, 0, 30), renewed.EndDate)
	})
}
