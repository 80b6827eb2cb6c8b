package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"vigil/config"
	"vigil/models"
)

const snapshotRoutingKey = "presence.snapshot"

// SnapshotPublisher pushes session snapshots to an AMQP exchange for
// downstream observers and consumes tracking commands from a control queue.
type SnapshotPublisher struct {
	config    *config.Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *zap.Logger
	reconnect chan bool
	isClosing bool
}

// NewSnapshotPublisher connects to RabbitMQ and declares the snapshot
// exchange and the command queue.
func NewSnapshotPublisher(cfg *config.Config, logger *zap.Logger) (*SnapshotPublisher, error) {
	p := &SnapshotPublisher{
		config:    cfg,
		logger:    logger,
		reconnect: make(chan bool),
	}

	if err := p.connect(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *SnapshotPublisher) connect() error {
	var err error

	p.logger.Info("Connecting to RabbitMQ", zap.String("url", p.config.RabbitMQURL))

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		p.conn, err = amqp.Dial(p.config.RabbitMQURL)
		if err == nil {
			break
		}

		p.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	p.channel, err = p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := p.channel.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	// Snapshots fan out through a durable topic exchange.
	err = p.channel.ExchangeDeclare(
		p.config.RabbitMQExchange, // name
		"topic",                   // type
		true,                      // durable
		false,                     // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Control commands arrive on a durable queue.
	queue, err := p.channel.QueueDeclare(
		p.config.RabbitMQCommandQueue, // name
		true,                          // durable
		false,                         // delete when unused
		false,                         // exclusive
		false,                         // no-wait
		nil,                           // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare command queue: %w", err)
	}

	p.logger.Info("RabbitMQ topology ready",
		zap.String("exchange", p.config.RabbitMQExchange),
		zap.String("command_queue", queue.Name))

	go p.handleReconnect()

	return nil
}

// handleReconnect re-establishes the connection when the broker drops it.
func (p *SnapshotPublisher) handleReconnect() {
	for {
		closeErr := <-p.conn.NotifyClose(make(chan *amqp.Error))
		if p.isClosing {
			p.logger.Info("RabbitMQ connection closed gracefully")
			return
		}

		p.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

		for {
			p.logger.Info("Attempting to reconnect to RabbitMQ...")
			err := p.connect()
			if err == nil {
				p.logger.Info("Successfully reconnected to RabbitMQ")
				p.reconnect <- true
				return
			}

			p.logger.Error("Failed to reconnect", zap.Error(err))
			time.Sleep(5 * time.Second)
		}
	}
}

// PublishSnapshot pushes one session snapshot to the exchange. Failures are
// logged and swallowed: losing an observer update never affects tracking.
func (p *SnapshotPublisher) PublishSnapshot(snap *models.SessionSnapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return
	}

	err = p.channel.Publish(
		p.config.RabbitMQExchange,             // exchange
		snapshotRoutingKey+"."+snap.Target,    // routing key
		false,                                 // mandatory
		false,                                 // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish snapshot",
			zap.String("target", snap.Target),
			zap.Error(err))
		return
	}

	p.logger.Debug("Published snapshot",
		zap.String("target", snap.Target),
		zap.Int("device_count", snap.DeviceCount))
}

// ConsumeCommands reads tracking commands from the control queue and applies
// them until the context is cancelled. A command that fails validation or
// dispatch is rejected without requeue.
func (p *SnapshotPublisher) ConsumeCommands(ctx context.Context, apply func(models.TrackCommand) error) error {
	for {
		msgs, err := p.channel.Consume(
			p.config.RabbitMQCommandQueue, // queue
			"vigil-service",               // consumer tag
			false,                         // auto-ack
			false,                         // exclusive
			false,                         // no-local
			false,                         // no-wait
			nil,                           // args
		)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		p.logger.Info("Consuming tracking commands",
			zap.String("queue", p.config.RabbitMQCommandQueue))

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				p.logger.Info("Stopping command consumer")
				return nil

			case <-p.reconnect:
				p.logger.Info("Reconnection detected, restarting consumer")
				break consumeLoop

			case msg, ok := <-msgs:
				if !ok {
					p.logger.Warn("Command channel closed")
					time.Sleep(1 * time.Second)
					break consumeLoop
				}

				if err := p.processCommand(msg, apply); err != nil {
					p.logger.Error("Failed to process command",
						zap.Error(err),
						zap.String("message_id", msg.MessageId))
					msg.Nack(false, false)
				} else {
					msg.Ack(false)
				}
			}
		}
	}
}

func (p *SnapshotPublisher) processCommand(msg amqp.Delivery, apply func(models.TrackCommand) error) error {
	var cmd models.TrackCommand
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	p.logger.Info("Received tracking command",
		zap.String("action", string(cmd.Action)),
		zap.String("target", cmd.Target))

	return apply(cmd)
}

// Close gracefully closes the RabbitMQ connection.
func (p *SnapshotPublisher) Close() error {
	p.isClosing = true

	p.logger.Info("Closing RabbitMQ connection")

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	p.logger.Info("RabbitMQ connection closed")
	return nil
}
