package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"turnstile/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Outcome tells the consumer how to settle a delivery.
type Outcome int

const (
	Ack Outcome = iota
	// Requeue returns the message to the queue for another attempt.
	Requeue
	// Reject drops the message. Poison messages end here.
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Reject:
		return "reject"
	}
	return "unknown"
}

type Handler func(ctx context.Context, routingKey string, body []byte) Outcome

type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	log     *logger.Logger
	wg      sync.WaitGroup
}

// NewConsumer declares a durable queue bound to bindingKey on the events
// exchange.
func NewConsumer(url, queue, bindingKey string, log *logger.Logger) (*Consumer, error) {
	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	if err := ch.QueueBind(q.Name, bindingKey, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq queue bind: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq qos: %w", err)
	}

	return &Consumer{conn: conn, channel: ch, queue: q.Name, log: log}, nil
}

// Start consumes in the background until Close is called or the broker
// closes the channel. ctx is handed to every handler invocation.
func (c *Consumer) Start(ctx context.Context, handler Handler) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false, // ack manually after processing
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	c.log.Info("Consuming from RabbitMQ", "queue", c.queue)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for msg := range msgs {
			c.settle(msg, handler(ctx, msg.RoutingKey, msg.Body))
		}
		c.log.Info("RabbitMQ delivery channel closed", "queue", c.queue)
	}()
	return nil
}

func (c *Consumer) settle(msg amqp.Delivery, outcome Outcome) {
	var err error
	switch outcome {
	case Ack:
		err = msg.Ack(false)
	case Requeue:
		err = msg.Nack(false, true)
	default:
		err = msg.Nack(false, false)
	}
	if err != nil {
		c.log.Error("Failed to settle RabbitMQ delivery",
			"queue", c.queue,
			"routing_key", msg.RoutingKey,
			"outcome", outcome.String(),
			"error", err,
		)
	}
}

// Close stops delivery and waits for the handler goroutine to finish.
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	c.wg.Wait()
	if c.conn != nil {
		c.conn.Close()
	}
}
