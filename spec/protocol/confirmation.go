package protocol

import "time"

// ConfirmationRequest asks the confirmation worker to watch a payment until the
// gateway reports a terminal status. The API publishes one per created payment;
// the webhook receiver publishes another when the gateway calls back, so the
// worker stays the single writer of payment status.
type ConfirmationRequest struct {
	PaymentRecordID   string `json:"paymentRecordId"`   // Corresponds to the payment ledger row
	ProviderPaymentID string `json:"providerPaymentId"` // Corresponds to the gateway's payment ID
	LastKnownStatus   string `json:"lastKnownStatus"`   // Status observed when the request was enqueued
	EnqueuedAt        int64  `json:"enqueuedAt"`        // Unix seconds, bounds the task's wall-clock age
}

// Age returns how long ago the request was enqueued
func (c *ConfirmationRequest) Age(now time.Time) time.Duration {
	if c.EnqueuedAt == 0 {
		return 0
	}
	return now.Sub(time.Unix(c.EnqueuedAt, 0))
}
