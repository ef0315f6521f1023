package broker

import (
	"context"

	"github.com/practix/billing/spec/protocol"
)

// Delivery couples one confirmation request with its broker acknowledgement.
// The worker calls Ack only once the payment reached a terminal status, and
// Requeue when it has to abandon the request mid-poll (shutdown, transient
// storage failure), so the broker redelivers it to another worker.
type Delivery struct {
	Request *protocol.ConfirmationRequest
	Ack     func()
	Requeue func()
}

// Consumer defines a consumer receiving confirmation requests via message broker
type Consumer interface {
	Close()
	ReceiveConfirmationRequests(ctx context.Context) (<-chan Delivery, error)
}
