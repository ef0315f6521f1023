package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	stripe "github.com/stripe/stripe-go/v72"
)

func TestStatusFromIntent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusSucceeded, statusFromIntent(stripe.PaymentIntentStatusSucceeded))
	assert.Equal(t, StatusCanceled, statusFromIntent(stripe.PaymentIntentStatusCanceled))
	assert.Equal(t, StatusPending, statusFromIntent(stripe.PaymentIntentStatusProcessing))
	assert.Equal(t, StatusPending, statusFromIntent(stripe.PaymentIntentStatusRequiresPaymentMethod))
	assert.Equal(t, StatusPending, statusFromIntent(stripe.PaymentIntentStatusRequiresAction))
}

func TestStatusFromRefund(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusSucceeded, statusFromRefund(stripe.RefundStatusSucceeded))
	assert.Equal(t, StatusCanceled, statusFromRefund(stripe.RefundStatusFailed))
	assert.Equal(t, StatusCanceled, statusFromRefund(stripe.RefundStatusCanceled))
	assert.Equal(t, StatusPending, statusFromRefund(stripe.RefundStatusPending))
}

func TestPaymentMethodID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", paymentMethodID(nil))
	assert.Equal(t, "", paymentMethodID(&stripe.PaymentIntent{}))
	assert.Equal(t, "pm_123", paymentMethodID(&stripe.PaymentIntent{
		PaymentMethod: &stripe.PaymentMethod{ID: "pm_123"},
	}))
}

func TestToMinorUnits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(10000), toMinorUnits(decimal.RequireFromString("100.00")))
	assert.Equal(t, int64(9999), toMinorUnits(decimal.RequireFromString("99.99")))
	assert.Equal(t, int64(50), toMinorUnits(decimal.RequireFromString("0.50")))
	assert.Equal(t, int64(0), toMinorUnits(decimal.Zero))
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}
