package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	resp "github.com/practix/billing/response"
	"github.com/practix/billing/spec/broker"
	"github.com/practix/billing/spec/protocol"

	"github.com/go-chi/chi"
	"github.com/go-redis/redis/v7"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

const maxWebhookBody = 65536

// ProviderLookup resolves provider payment ids to ledger rows
type ProviderLookup interface {
	GetByProviderID(ctx context.Context, providerPaymentID string) (*Payment, error)
}

// WebhookOptions contains the configuration for the gateway callback receiver
type WebhookOptions struct {
	PaymentManager ProviderLookup
	Producer       broker.Producer
	Redis          redis.UniversalClient
	Logger         *zap.Logger
	SigningSecret  string
	DedupeTTL      time.Duration
}

// Webhook receives gateway callbacks and forwards them to the confirmation
// queue. The worker stays the single writer of payment status; the webhook
// only accelerates what polling would eventually observe.
type Webhook struct {
	WebhookOptions
}

// NewWebhook will create an instance of the gateway callback receiver
func NewWebhook(option WebhookOptions) (*Webhook, error) {
	if option.PaymentManager == nil {
		return nil, fmt.Errorf("nil PaymentManager is invalid")
	}
	if option.Producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	if option.Redis == nil {
		return nil, fmt.Errorf("nil Redis is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.SigningSecret == "" {
		return nil, fmt.Errorf("empty SigningSecret is invalid")
	}
	if option.DedupeTTL == 0 {
		option.DedupeTTL = time.Hour * 24
	}
	return &Webhook{
		WebhookOptions: option,
	}, nil
}

func (s *Webhook) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read webhook body"))
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.SigningSecret)
	if err != nil {
		s.Logger.Warn("Webhook signature verification failed",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid webhook signature"))
		return
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.canceled", "payment_intent.payment_failed":
	default:
		// not a payment lifecycle event, acknowledge and move on
		resp.WriteResponse(w, r, nil)
		return
	}

	// the gateway redelivers events; first writer wins, the rest are acknowledged
	fresh, err := s.Redis.SetNX("webhook:"+event.ID, 1, s.DedupeTTL).Result()
	if err != nil {
		s.Logger.Error("Cannot deduplicate webhook event",
			zap.String("EventID", event.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if !fresh {
		resp.WriteResponse(w, r, nil)
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Malformed event payload"))
		return
	}

	logger := s.Logger.With(
		zap.String("EventID", event.ID),
		zap.String("ProviderPaymentID", intent.ID),
	)

	p, err := s.PaymentManager.GetByProviderID(ctx, intent.ID)
	if err != nil {
		logger.Error("Unable to look up payment for webhook event",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if p == nil {
		// not our payment, acknowledge so the gateway stops redelivering
		logger.Warn("Webhook event references an unknown payment")
		resp.WriteResponse(w, r, nil)
		return
	}

	if err := s.Producer.SendConfirmationRequest(&protocol.ConfirmationRequest{
		PaymentRecordID:   p.ID,
		ProviderPaymentID: p.ProviderPaymentID,
		LastKnownStatus:   string(p.Status),
		EnqueuedAt:        time.Now().Unix(),
	}); err != nil {
		logger.Error("Cannot enqueue confirmation request",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, nil)
}

// Router will return the routes under the webhook API
func (s *Webhook) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.handleEvent)

	return r
}
