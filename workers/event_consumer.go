// workers/event_consumer.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"reward-engine/models"
	"reward-engine/services"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	defaultTriggerQueue = "reward.triggers"
	reconnectDelay      = 5 * time.Second
	maxReconnects       = 10
)

// TriggerMessage is the queue form of a trigger notification. Producers on
// other services publish one message per domain event.
type TriggerMessage struct {
	AccountID string                `json:"account_id"`
	Trigger   string                `json:"trigger"`
	Increment int64                 `json:"increment"`
	Context   models.TriggerContext `json:"context"`
}

// TriggerConsumer pulls trigger notifications from RabbitMQ and feeds them
// through the same awarding path the HTTP endpoint uses. Malformed messages
// are dropped with a log line; storage failures are requeued.
type TriggerConsumer struct {
	log          *logrus.Logger
	points       *services.PointsService
	achievements *services.AchievementService

	url   string
	queue string

	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewTriggerConsumer reads RABBITMQ_URL and TRIGGER_QUEUE from the
// environment. Returns (nil, nil) when no broker is configured so the
// service can run HTTP-only.
func NewTriggerConsumer(log *logrus.Logger, points *services.PointsService, achievements *services.AchievementService) (*TriggerConsumer, error) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		return nil, nil
	}
	queue := os.Getenv("TRIGGER_QUEUE")
	if queue == "" {
		queue = defaultTriggerQueue
	}

	c := &TriggerConsumer{
		log:          log,
		points:       points,
		achievements: achievements,
		url:          url,
		queue:        queue,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *TriggerConsumer) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		c.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.conn = conn
	c.channel = ch
	c.log.WithField("queue", c.queue).Info("connected to RabbitMQ")
	return nil
}

// Start consumes until ctx is cancelled, reconnecting on broker failures.
func (c *TriggerConsumer) Start(ctx context.Context) error {
	attempts := 0
	for {
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempts++
			if attempts > maxReconnects {
				return fmt.Errorf("max reconnection attempts reached: %w", err)
			}
			c.log.WithError(err).WithField("attempt", attempts).Warn("consumer lost broker, reconnecting")
			select {
			case <-time.After(reconnectDelay * time.Duration(attempts)):
			case <-ctx.Done():
				return nil
			}
			if err := c.connect(); err != nil {
				continue
			}
			attempts = 0
			continue
		}
		return nil
	}
}

func (c *TriggerConsumer) consume(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.processMessage(msg)
		}
	}
}

func (c *TriggerConsumer) processMessage(msg amqp.Delivery) {
	var payload TriggerMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.log.WithError(err).WithField("body", string(msg.Body)).Warn("dropping malformed trigger message")
		_ = msg.Ack(false)
		return
	}
	if payload.AccountID == "" || payload.Trigger == "" {
		c.log.WithField("body", string(msg.Body)).Warn("dropping trigger message without account or trigger")
		_ = msg.Ack(false)
		return
	}
	if payload.Increment <= 0 {
		payload.Increment = 1
	}

	if _, err := c.points.Award(payload.AccountID, payload.Trigger, payload.Context); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"account": payload.AccountID,
			"trigger": payload.Trigger,
		}).Error("failed to award points, requeueing")
		_ = msg.Nack(false, true)
		return
	}

	if _, err := c.achievements.ProcessTrigger(payload.AccountID, payload.Trigger, payload.Increment, payload.Context); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"account": payload.AccountID,
			"trigger": payload.Trigger,
		}).Error("failed to advance achievements, requeueing")
		_ = msg.Nack(false, true)
		return
	}

	_ = msg.Ack(false)
}

func (c *TriggerConsumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.log.Info("trigger consumer closed")
}
