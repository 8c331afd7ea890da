package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"partnership-ledger/config"
	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/pkg/apperror"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery channel.
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

const (
	consumerTag        = "partnership-ledger"
	deadLetterExchange = "moderation.dlx"
	handleTimeout      = 30 * time.Second
)

// Channel is the subset of *amqp.Channel the consumer needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// ViolationConsumer feeds moderation violations into the penalty service.
// Malformed messages are dead-lettered, transient failures are requeued and
// everything else is acknowledged.
type ViolationConsumer struct {
	ch        Channel
	queue     string
	prefetch  int
	penalties ports.PenaltyService
	log       zerolog.Logger
}

// NewViolationConsumer creates a consumer for cfg.Queue.
func NewViolationConsumer(ch Channel, cfg config.RabbitMQConfig, penalties ports.PenaltyService, log zerolog.Logger) *ViolationConsumer {
	prefetch := cfg.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	return &ViolationConsumer{
		ch:        ch,
		queue:     cfg.Queue,
		prefetch:  prefetch,
		penalties: penalties,
		log:       log.With().Str("component", "violation_consumer").Str("queue", cfg.Queue).Logger(),
	}
}

// DeclareTopology declares the work queue and its dead-letter queue.
func (c *ViolationConsumer) DeclareTopology() error {
	dlq := c.queue + ".dlq"
	if err := c.ch.ExchangeDeclare(deadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if _, err := c.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := c.ch.QueueBind(dlq, c.queue, deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": c.queue,
	}
	if _, err := c.ch.QueueDeclare(c.queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	return nil
}

// Run consumes until ctx is done or the broker closes the channel.
func (c *ViolationConsumer) Run(ctx context.Context) error {
	if err := c.DeclareTopology(); err != nil {
		return err
	}
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := c.ch.Consume(c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.log.Info().Int("prefetch", c.prefetch).Msg("violation consumer started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("violation consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.handle(ctx, d)
		}
	}
}

func (c *ViolationConsumer) handle(ctx context.Context, d amqp.Delivery) {
	var event domain.ViolationEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.log.Warn().Err(err).Str("message_id", d.MessageId).Msg("malformed violation event, dead-lettering")
		c.settle(d, d.Nack(false, false))
		return
	}

	handleCtx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	err := c.penalties.HandleViolationEvent(handleCtx, event)
	switch {
	case err == nil:
		c.settle(d, d.Ack(false))
	case apperror.HasCode(err, apperror.CodeValidation):
		c.log.Warn().Err(err).Str("message_id", event.MessageID).Msg("invalid violation event, dead-lettering")
		c.settle(d, d.Nack(false, false))
	case apperror.HasCode(err, apperror.CodeRetryableConflict),
		apperror.HasCode(err, apperror.CodeInternal) && !d.Redelivered:
		c.log.Warn().Err(err).Str("message_id", event.MessageID).Msg("violation event failed, requeueing")
		c.settle(d, d.Nack(false, true))
	case apperror.HasCode(err, apperror.CodeInternal):
		c.log.Error().Err(err).Str("message_id", event.MessageID).Msg("violation event failed twice, dead-lettering")
		c.settle(d, d.Nack(false, false))
	default:
		c.log.Info().Err(err).Str("message_id", event.MessageID).Msg("violation event settled without penalty")
		c.settle(d, d.Ack(false))
	}
}

func (c *ViolationConsumer) settle(d amqp.Delivery, err error) {
	if err != nil {
		c.log.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("failed to settle delivery")
	}
}

// Dial opens a connection and channel to the broker.
func Dial(cfg config.RabbitMQConfig) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return conn, ch, nil
}
