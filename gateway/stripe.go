package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

// StripeOptions provides initialization parameters for the Stripe-backed Client
type StripeOptions struct {
	Key       string
	ReturnURL string // Where the user lands after completing or abandoning payment
	Logger    *zap.Logger
}

// StripeClient implements Client on top of Stripe Checkout and PaymentIntents
type StripeClient struct {
	StripeOptions
	api *client.API
}

var _ Client = &StripeClient{}

// NewStripeClient returns a Client backed by Stripe
func NewStripeClient(option StripeOptions) (*StripeClient, error) {
	if option.Key == "" {
		return nil, fmt.Errorf("empty Key is invalid")
	}
	if option.ReturnURL == "" {
		return nil, fmt.Errorf("empty ReturnURL is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	sc := &client.API{}
	sc.Init(option.Key, nil)
	return &StripeClient{
		StripeOptions: option,
		api:           sc,
	}, nil
}

// Charge creates a Checkout Session so the user confirms payment via redirect.
// The payment method is saved for off-session renewal charges.
func (s *StripeClient) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(s.ReturnURL),
		CancelURL:          stripe.String(s.ReturnURL),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(toMinorUnits(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			SetupFutureUsage: stripe.String("off_session"),
			Description:      stripe.String(req.Description),
		},
	}
	params.AddExpand("payment_intent")

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, s.classify(err, "Cannot create charge")
	}
	if sess.PaymentIntent == nil {
		return nil, extErrors.Wrap(ErrDeclined, "checkout session has no payment intent")
	}

	return &Charge{
		ProviderPaymentID: sess.PaymentIntent.ID,
		PaymentMethodID:   paymentMethodID(sess.PaymentIntent),
		Status:            statusFromIntent(sess.PaymentIntent.Status),
		RedirectURL:       sess.URL,
	}, nil
}

// OffSessionCharge charges a stored payment method without user interaction
func (s *StripeClient) OffSessionCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if req.PaymentMethodID == "" {
		return nil, fmt.Errorf("empty PaymentMethodID is invalid for off-session charges")
	}
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Amount:        stripe.Int64(toMinorUnits(req.Amount)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Description:   stripe.String(req.Description),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		// A declined off-session card still carries the failed intent
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.PaymentIntent != nil {
			return &Charge{
				ProviderPaymentID: stripeErr.PaymentIntent.ID,
				PaymentMethodID:   req.PaymentMethodID,
				Status:            StatusCanceled,
			}, nil
		}
		return nil, s.classify(err, "Cannot create off-session charge")
	}

	return &Charge{
		ProviderPaymentID: pi.ID,
		PaymentMethodID:   paymentMethodID(pi),
		Status:            statusFromIntent(pi.Status),
	}, nil
}

// GetCharge returns the provider's current view of the charge
func (s *StripeClient) GetCharge(ctx context.Context, providerPaymentID string) (*Charge, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	params.AddExpand("payment_method")

	pi, err := s.api.PaymentIntents.Get(providerPaymentID, params)
	if err != nil {
		return nil, s.classify(err, "Cannot fetch charge status")
	}

	return &Charge{
		ProviderPaymentID: pi.ID,
		PaymentMethodID:   paymentMethodID(pi),
		Status:            statusFromIntent(pi.Status),
	}, nil
}

// Refund returns money against a charge
func (s *StripeClient) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	params := &stripe.RefundParams{
		Params: stripe.Params{
			Context: ctx,
		},
		PaymentIntent: stripe.String(req.ProviderPaymentID),
		Amount:        stripe.Int64(toMinorUnits(req.Amount)),
	}

	ref, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, s.classify(err, "Cannot create refund")
	}

	return &Refund{
		ProviderRefundID: ref.ID,
		Status:           statusFromRefund(ref.Status),
	}, nil
}

func (s *StripeClient) classify(err error, msg string) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		s.Logger.Error("Stripe returned error",
			zap.String("Code", string(stripeErr.Code)),
			zap.Error(err),
		)
		return extErrors.Wrap(ErrDeclined, msg+": "+stripeErr.Msg)
	}
	s.Logger.Error("Stripe is unreachable",
		zap.Error(err),
	)
	return extErrors.Wrap(ErrUnreachable, msg+": "+err.Error())
}

func statusFromIntent(st stripe.PaymentIntentStatus) Status {
	switch st {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusCanceled
	default:
		return StatusPending
	}
}

func statusFromRefund(st stripe.RefundStatus) Status {
	switch st {
	case stripe.RefundStatusSucceeded:
		return StatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return StatusCanceled
	default:
		return StatusPending
	}
}

func paymentMethodID(pi *stripe.PaymentIntent) string {
	if pi == nil || pi.PaymentMethod == nil {
		return ""
	}
	return pi.PaymentMethod.ID
}

// toMinorUnits converts a decimal amount to the provider's integer minor units
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
