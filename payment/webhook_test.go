package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/practix/billing/payment"
	"github.com/practix/billing/spec/protocol"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_test_secret"

type fakeLookup struct {
	payments map[string]*payment.Payment
}

func (f *fakeLookup) GetByProviderID(ctx context.Context, providerPaymentID string) (*payment.Payment, error) {
	return f.payments[providerPaymentID], nil
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []*protocol.ConfirmationRequest
}

func (f *fakeProducer) Close() {}

func (f *fakeProducer) SendConfirmationRequest(p *protocol.ConfirmationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return nil
}

type webhookFixture struct {
	lookup   *fakeLookup
	producer *fakeProducer
	handler  http.Handler
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &webhookFixture{
		lookup: &fakeLookup{
			payments: make(map[string]*payment.Payment),
		},
		producer: &fakeProducer{},
	}

	wh, err := payment.NewWebhook(payment.WebhookOptions{
		PaymentManager: f.lookup,
		Producer:       f.producer,
		Redis:          rdb,
		Logger:         zap.NewNop(),
		SigningSecret:  webhookSecret,
	})
	require.NoError(t, err)

	f.handler = wh.Router()
	return f
}

// sign produces the Stripe-Signature header for the payload
func sign(payload string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func (f *webhookFixture) post(payload, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func eventPayload(eventID, eventType, intentID string) string {
	return fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{"id":%q}}}`, eventID, eventType, intentID)
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	t.Run("forwards a payment event to the confirmation queue", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)
		f.lookup.payments["pi_123"] = &payment.Payment{
			ID:                "payment-1",
			ProviderPaymentID: "pi_123",
			Status:            payment.StatusPending,
		}

		payload := eventPayload("evt_1", "payment_intent.succeeded", "pi_123")
		rec := f.post(payload, sign(payload, time.Now()))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, f.producer.sent, 1)
		assert.Equal(t, "payment-1", f.producer.sent[0].PaymentRecordID)
		assert.Equal(t, "pi_123", f.producer.sent[0].ProviderPaymentID)
		assert.Equal(t, string(payment.StatusPending), f.producer.sent[0].LastKnownStatus)
	})

	t.Run("redelivered events are acknowledged once", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)
		f.lookup.payments["pi_123"] = &payment.Payment{
			ID:                "payment-1",
			ProviderPaymentID: "pi_123",
			Status:            payment.StatusPending,
		}

		payload := eventPayload("evt_1", "payment_intent.succeeded", "pi_123")
		signature := sign(payload, time.Now())

		assert.Equal(t, http.StatusOK, f.post(payload, signature).Code)
		assert.Equal(t, http.StatusOK, f.post(payload, signature).Code)

		assert.Len(t, f.producer.sent, 1)
	})

	t.Run("invalid signature is rejected", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		payload := eventPayload("evt_1", "payment_intent.succeeded", "pi_123")
		rec := f.post(payload, "t=1,v1=deadbeef")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Len(t, f.producer.sent, 0)
	})

	t.Run("non-payment events are acknowledged and ignored", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		payload := eventPayload("evt_1", "customer.created", "cus_123")
		rec := f.post(payload, sign(payload, time.Now()))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, f.producer.sent, 0)
	})

	t.Run("unknown payments are acknowledged", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		payload := eventPayload("evt_1", "payment_intent.canceled", "pi_unknown")
		rec := f.post(payload, sign(payload, time.Now()))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, f.producer.sent, 0)
	})
}
