package subscription_test

import (
	"context"
	"sync"
	"time"

	"github.com/practix/billing/gateway"
	"github.com/practix/billing/payment"
	specBroker "github.com/practix/billing/spec/broker"
	"github.com/practix/billing/spec/protocol"
	"github.com/practix/billing/subscription"
	"github.com/practix/billing/tariff"

	"github.com/google/uuid"
)

// In-memory collaborators standing in for the GORM managers, the Stripe
// client, the broker, and the identity service.

type fakeTariffs struct {
	tariffs map[string]*tariff.Tariff
}

func (f *fakeTariffs) GetByID(ctx context.Context, id string) (*tariff.Tariff, error) {
	return f.tariffs[id], nil
}

type fakePayments struct {
	mu       sync.Mutex
	payments map[string]*payment.Payment
	refunds  []*payment.Refund
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		payments: make(map[string]*payment.Payment),
	}
}

func (f *fakePayments) Create(ctx context.Context, p *payment.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *p
	f.payments[p.ID] = &copied
	return nil
}

func (f *fakePayments) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (f *fakePayments) ListSucceededByUser(ctx context.Context, userID string) ([]payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]payment.Payment, 0)
	for _, p := range f.payments {
		if p.UserID == userID && p.Status == payment.StatusSucceeded {
			results = append(results, *p)
		}
	}
	return results, nil
}

func (f *fakePayments) CreateRefund(ctx context.Context, r *payment.Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *r
	f.refunds = append(f.refunds, &copied)
	return nil
}

func (f *fakePayments) MarkStatus(ctx context.Context, id string, next payment.Status, paymentMethodID string) (*payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, nil
	}
	if !p.Status.CanTransition(next) {
		return nil, payment.ErrInvalidTransition
	}
	p.Status = next
	if paymentMethodID != "" {
		p.PaymentMethodID = paymentMethodID
	}
	copied := *p
	return &copied, nil
}

// fakeSubs stores subscriptions as a plain table so a broken upsert would be
// visible as a second row for the same user.
type fakeSubs struct {
	mu   sync.Mutex
	rows []*subscription.Subscription
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{}
}

func (f *fakeSubs) put(s *subscription.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *s
	for i, row := range f.rows {
		if row.ID == s.ID {
			f.rows[i] = &copied
			return
		}
	}
	f.rows = append(f.rows, &copied)
}

func (f *fakeSubs) rowCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, row := range f.rows {
		if row.UserID == userID {
			count++
		}
	}
	return count
}

func (f *fakeSubs) GetActive(ctx context.Context, userID string) (*subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.UserID == userID && row.Status == subscription.StatusActive {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeSubs) ListActive(ctx context.Context, userID string) ([]subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]subscription.Subscription, 0)
	for _, row := range f.rows {
		if row.UserID == userID && row.Status == subscription.StatusActive {
			results = append(results, *row)
		}
	}
	return results, nil
}

func (f *fakeSubs) ActivateForUser(ctx context.Context, opt subscription.ActivateOptions) (*subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s *subscription.Subscription
	for _, row := range f.rows {
		if row.UserID == opt.UserID {
			s = row
			break
		}
	}
	if s == nil {
		s = &subscription.Subscription{
			ID:     uuid.New().String(),
			UserID: opt.UserID,
		}
		f.rows = append(f.rows, s)
	}
	s.TariffID = opt.TariffID
	s.PaymentID = opt.PaymentID
	s.StartDate = opt.Now
	s.EndDate = opt.Now.AddDate(0, 0, opt.DurationDays)
	s.Status = subscription.StatusActive
	copied := *s
	return &copied, nil
}

func (f *fakeSubs) Cancel(ctx context.Context, userID string) (*subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.UserID == userID && row.Status == subscription.StatusActive {
			row.Status = subscription.StatusCanceled
			copied := *row
			return &copied, nil
		}
	}
	return nil, subscription.ErrNotSubscribed
}

func (f *fakeSubs) DueOn(ctx context.Context, day time.Time) ([]subscription.Subscription, error) {
	endOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]subscription.Subscription, 0)
	for _, row := range f.rows {
		if row.Status == subscription.StatusActive && row.EndDate.Before(endOfDay) {
			results = append(results, *row)
		}
	}
	return results, nil
}

func (f *fakeSubs) Extend(ctx context.Context, id, paymentID string, durationDays int, now time.Time) (*subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ID != id || row.Status != subscription.StatusActive {
			continue
		}
		from := row.EndDate
		if from.Before(now) {
			from = now
		}
		row.EndDate = from.AddDate(0, 0, durationDays)
		row.PaymentID = paymentID
		copied := *row
		return &copied, nil
	}
	return nil, subscription.ErrNotSubscribed
}

type fakeGateway struct {
	mu sync.Mutex

	chargeResult *gateway.Charge
	chargeErr    error
	chargeCalls  int

	offSessionResult *gateway.Charge
	offSessionErr    error
	offSessionCalls  int
	lastOffSession   gateway.ChargeRequest

	// statuses drives GetCharge one poll at a time; the last entry repeats
	statuses           []gateway.Status
	getCalls           int
	getPaymentMethodID string

	refundResult *gateway.Refund
	refundErr    error
	lastRefund   gateway.RefundRequest
}

func (f *fakeGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chargeCalls++
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	return f.chargeResult, nil
}

func (f *fakeGateway) OffSessionCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offSessionCalls++
	f.lastOffSession = req
	if f.offSessionErr != nil {
		return nil, f.offSessionErr
	}
	return f.offSessionResult, nil
}

func (f *fakeGateway) GetCharge(ctx context.Context, providerPaymentID string) (*gateway.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.getCalls
	f.getCalls++
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	return &gateway.Charge{
		ProviderPaymentID: providerPaymentID,
		PaymentMethodID:   f.getPaymentMethodID,
		Status:            f.statuses[idx],
	}, nil
}

func (f *fakeGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRefund = req
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return f.refundResult, nil
}

type fakeNotifier struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	err          error
}

func (f *fakeNotifier) Subscribed(ctx context.Context, userID, tariffID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, userID)
	return f.err
}

func (f *fakeNotifier) Unsubscribed(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, userID)
	return f.err
}

func (f *fakeNotifier) subscribedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func (f *fakeNotifier) unsubscribedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unsubscribed)
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []*protocol.ConfirmationRequest
	err  error
}

func (f *fakeProducer) Close() {}

func (f *fakeProducer) SendConfirmationRequest(p *protocol.ConfirmationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return f.err
}

type fakeConsumer struct {
	deliveries chan specBroker.Delivery

	mu       sync.Mutex
	acked    int
	requeued int
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{
		deliveries: make(chan specBroker.Delivery, 4),
	}
}

func (f *fakeConsumer) Close() {}

func (f *fakeConsumer) ReceiveConfirmationRequests(ctx context.Context) (<-chan specBroker.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeConsumer) deliver(req *protocol.ConfirmationRequest) {
	f.deliveries <- specBroker.Delivery{
		Request: req,
		Ack: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.acked++
		},
		Requeue: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.requeued++
		},
	}
}

func (f *fakeConsumer) ackedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acked
}

func (f *fakeConsumer) requeuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requeued
}
