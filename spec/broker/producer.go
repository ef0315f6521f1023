package broker

import (
	"github.com/practix/billing/spec/protocol"
)

// Producer defines a producer sending confirmation requests via message broker
type Producer interface {
	Close()
	SendConfirmationRequest(p *protocol.ConfirmationRequest) error
}
