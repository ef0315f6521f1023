package broker

import (
	"context"
	"encoding/json"

	"github.com/practix/billing/spec"
	specBroker "github.com/practix/billing/spec/broker"
	"github.com/practix/billing/spec/protocol"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ specBroker.Producer = &AMQPBroker{}
var _ specBroker.Consumer = &AMQPBroker{}

const (
	confirmationExchange   string = "payment_confirmation"
	confirmationRoutingKey        = string(spec.ConfirmationTask)
	confirmationQueue             = "payment_confirmation_requests"
)

// AMQPBroker describes a message broker via RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a Message Broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupConfirmationExchange(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for confirmation requests")
	}

	return broker, nil
}

func (a *AMQPBroker) setupConfirmationExchange() error {
	return a.channel.ExchangeDeclare(
		confirmationExchange, // name
		"direct",             // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

func (a *AMQPBroker) publishViaRoutingKey(exchange, routingKey string, body []byte) error {
	return a.channel.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// SendConfirmationRequest will enqueue the payment for confirmation by the worker
func (a *AMQPBroker) SendConfirmationRequest(p *protocol.ConfirmationRequest) error {
	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode message into bytes")
	}
	if err := a.publishViaRoutingKey(confirmationExchange, confirmationRoutingKey, jsonBytes); err != nil {
		return extErrors.Wrap(err, "Cannot publish confirmation request")
	}
	return nil
}

func (a *AMQPBroker) setupQueue(qName string) error {
	_, err := a.channel.QueueDeclare(
		qName,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

func (a *AMQPBroker) bindAndGetMsgChan(qName, exchange, routingKey string) (<-chan amqp.Delivery, error) {
	if err := a.channel.QueueBind(
		qName,
		routingKey,
		exchange,
		false,
		nil,
	); err != nil {
		return nil, err
	}
	msgChan, err := a.channel.Consume(
		qName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	return msgChan, err
}

// ReceiveConfirmationRequests returns a channel of confirmation deliveries. All
// workers consume from the same durable queue, so each request is delivered to
// exactly one of them. Deliveries stay unacknowledged until the worker resolves
// them; an unacked request survives a worker restart and is redelivered.
func (a *AMQPBroker) ReceiveConfirmationRequests(ctx context.Context) (<-chan specBroker.Delivery, error) {
	if err := a.setupQueue(confirmationQueue); err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup queue")
	}
	msgChan, err := a.bindAndGetMsgChan(confirmationQueue, confirmationExchange, confirmationRoutingKey)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}
	rChan := make(chan specBroker.Delivery)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-msgChan:
				var req protocol.ConfirmationRequest
				if err := json.Unmarshal(d.Body, &req); err != nil {
					d.Nack(false, false)
					continue
				}
				rChan <- specBroker.Delivery{
					Request: &req,
					Ack:     func() { d.Ack(false) },
					Requeue: func() { d.Nack(false, true) },
				}
			}
		}
	}()
	return rChan, nil
}
