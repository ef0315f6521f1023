package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/practix/billing/auth"
	"github.com/practix/billing/gateway"
	"github.com/practix/billing/payment"
	resp "github.com/practix/billing/response"
	specBroker "github.com/practix/billing/spec/broker"
	"github.com/practix/billing/spec/protocol"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth          *auth.Auth
	Tariffs       TariffStore
	Payments      PaymentStore
	Subscriptions Store
	Gateway       gateway.Client
	Producer      specBroker.Producer
	Notifier      Notifier
	Logger        *zap.Logger
}

// Service is the billing API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the billing API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Tariffs == nil {
		return nil, fmt.Errorf("nil Tariffs is invalid")
	}
	if option.Payments == nil {
		return nil, fmt.Errorf("nil Payments is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.Producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	if option.Notifier == nil {
		return nil, fmt.Errorf("nil Notifier is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// SubscribeRequest is the model of the user request to subscribe to a tariff
type SubscribeRequest struct {
	TariffID string `json:"tariff_id" validate:"required,uuid4"`
}

// SubscribeResponse carries the gateway URL where the user completes payment
type SubscribeResponse struct {
	RedirectURL string `json:"redirect_url"`
}

func (s *Service) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.UserID))

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid tariff id"))
		return
	}

	existing, err := s.Subscriptions.GetActive(ctx, claims.UserID)
	if err != nil {
		logger.Error("Unable to query active subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if existing != nil {
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("User is already subscribed"))
		return
	}

	t, err := s.Tariffs.GetByID(ctx, req.TariffID)
	if err != nil {
		logger.Error("Unable to query tariff",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if t == nil || !t.Active {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Tariff is not found"))
		return
	}

	charge, err := s.Gateway.Charge(ctx, gateway.ChargeRequest{
		Amount:      t.Price,
		Currency:    t.Currency,
		Description: fmt.Sprintf("Subscription to %s: %s %s for %d days", t.Name, t.Price.StringFixed(2), t.Currency, t.DurationDays),
	})
	if err != nil {
		logger.Error("Unable to create charge on the gateway",
			zap.Error(err),
		)
		if errors.Is(err, gateway.ErrUnreachable) {
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Payment provider is unreachable"))
			return
		}
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create payment"))
		return
	}

	p := &payment.Payment{
		ID:                uuid.New().String(),
		UserID:            claims.UserID,
		TariffID:          t.ID,
		ProviderPaymentID: charge.ProviderPaymentID,
		PaymentMethodID:   charge.PaymentMethodID,
		Status:            payment.StatusFromGateway(charge.Status),
	}
	if err := s.Payments.Create(ctx, p); err != nil {
		logger.Error("Unable to persist payment",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	if err := s.Producer.SendConfirmationRequest(&protocol.ConfirmationRequest{
		PaymentRecordID:   p.ID,
		ProviderPaymentID: p.ProviderPaymentID,
		LastKnownStatus:   string(p.Status),
		EnqueuedAt:        time.Now().Unix(),
	}); err != nil {
		// the webhook path still confirms this payment, so the subscribe
		// request itself does not fail
		logger.Error("Cannot enqueue confirmation request",
			zap.String("PaymentID", p.ID),
			zap.Error(err),
		)
	}

	resp.WriteResponseWithCode(w, r, http.StatusCreated, SubscribeResponse{
		RedirectURL: charge.RedirectURL,
	})
}

func (s *Service) unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.UserID))

	sub, err := s.Subscriptions.Cancel(ctx, claims.UserID)
	if errors.Is(err, ErrNotSubscribed) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Subscription is not found"))
		return
	}
	if err != nil {
		logger.Error("Unable to cancel subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	// the local ledger is the source of truth; a failed notification is
	// reported but does not unwind the cancellation
	if err := s.Notifier.Unsubscribed(ctx, claims.UserID); err != nil {
		logger.Error("Cannot notify auth service about unsubscribe",
			zap.Error(err),
		)
	}

	resp.WriteResponse(w, r, sub)
}

// CancellationRequest is the model of the privileged cancellation request
type CancellationRequest struct {
	UserID     string `json:"user_id" validate:"required,uuid4"`
	ReturnFund bool   `json:"return_fund"`
}

func (s *Service) cancellation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CancellationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid user id"))
		return
	}

	logger := s.Logger.With(zap.String("UserID", req.UserID))

	sub, err := s.Subscriptions.GetActive(ctx, req.UserID)
	if err != nil {
		logger.Error("Unable to query active subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if sub == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Subscription is not found"))
		return
	}

	if req.ReturnFund {
		if ok := s.refund(w, r, logger, sub); !ok {
			return
		}
	}

	canceled, err := s.Subscriptions.Cancel(ctx, req.UserID)
	if errors.Is(err, ErrNotSubscribed) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Subscription is not found"))
		return
	}
	if err != nil {
		logger.Error("Unable to cancel subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	if err := s.Notifier.Unsubscribed(ctx, req.UserID); err != nil {
		logger.Error("Cannot notify auth service about unsubscribe",
			zap.Error(err),
		)
	}

	resp.WriteResponse(w, r, canceled)
}

// refund runs the refund leg of a privileged cancellation. It reports whether
// the cancellation may proceed; on failure the subscription stays active and
// the error has already been written.
func (s *Service) refund(w http.ResponseWriter, r *http.Request, logger *zap.Logger, sub *Subscription) bool {
	ctx := r.Context()

	remaining := sub.RemainingDays(time.Now())
	if remaining == 0 {
		// nothing unused to return
		return true
	}

	t, err := s.Tariffs.GetByID(ctx, sub.TariffID)
	if err != nil || t == nil {
		logger.Error("Unable to resolve tariff for refund",
			zap.String("TariffID", sub.TariffID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return false
	}

	funding, err := s.Payments.GetByID(ctx, sub.PaymentID)
	if err != nil || funding == nil {
		logger.Error("Unable to resolve funding payment for refund",
			zap.String("PaymentID", sub.PaymentID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return false
	}

	amount := RefundAmount(t.Price, t.DurationDays, remaining)

	ref, err := s.Gateway.Refund(ctx, gateway.RefundRequest{
		ProviderPaymentID: funding.ProviderPaymentID,
		Amount:            amount,
		Currency:          t.Currency,
	})
	if err != nil {
		logger.Error("Unable to create refund on the gateway",
			zap.Error(err),
		)
		if errors.Is(err, gateway.ErrUnreachable) {
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Payment provider is unreachable"))
			return false
		}
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Refund was not successful"))
		return false
	}

	if err := s.Payments.CreateRefund(ctx, &payment.Refund{
		ID:                uuid.New().String(),
		ProviderPaymentID: funding.ProviderPaymentID,
		ProviderRefundID:  ref.ProviderRefundID,
		Amount:            amount,
		Status:            string(ref.Status),
	}); err != nil {
		logger.Error("Unable to persist refund",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return false
	}

	if ref.Status != gateway.StatusSucceeded {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Refund was not successful"))
		return false
	}

	return true
}

func (s *Service) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	results, err := s.Payments.ListSucceededByUser(ctx, claims.UserID)
	if err != nil {
		s.Logger.Error("Unable to list payments by user",
			zap.String("UserID", claims.UserID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get payment history"))
		return
	}

	resp.WriteResponse(w, r, results)
}

func (s *Service) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	results, err := s.Subscriptions.ListActive(ctx, claims.UserID)
	if err != nil {
		s.Logger.Error("Unable to list subscriptions by user",
			zap.String("UserID", claims.UserID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of subscriptions"))
		return
	}

	resp.WriteResponse(w, r, results)
}

// Router will return the routes under the billing API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())

	r.Post("/subscribe", s.subscribe)
	r.Post("/unsubscribe", s.unsubscribe)
	r.Get("/history", s.listPayments)
	r.Get("/subscriptions", s.listSubscriptions)

	r.Group(func(pr chi.Router) {
		pr.Use(s.Auth.RequireRole(auth.RoleBilling))
		pr.Post("/cancellation", s.cancellation)
	})

	return r
}
