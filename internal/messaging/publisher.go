package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"lidora/internal/logger"
	"lidora/internal/models"
)

const publishTimeout = 10 * time.Second

// Publisher sends order events to the orders topic exchange
type Publisher struct {
	conn   *Connection
	logger *logger.Logger
}

// NewPublisher creates a new message publisher
func NewPublisher(conn *Connection, log *logger.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: log,
	}
}

// PublishOrderPlaced announces a placed order under routing key order.placed
func (p *Publisher) PublishOrderPlaced(ctx context.Context, msg *models.OrderPlacedMessage) error {
	publishing, err := newPublishing(msg.OrderID, msg, time.Now())
	if err != nil {
		return err
	}
	return p.publish(ctx, OrdersExchange, models.OrderPlacedRoutingKey, publishing)
}

// newPublishing builds a persistent JSON message. The message id lets
// consumers drop redeliveries.
func newPublishing(messageID string, message interface{}, now time.Time) (amqp091.Publishing, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		MessageId:    messageID,
		Timestamp:    now.UTC(),
	}, nil
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, publishing amqp091.Publishing) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		publishing,
	)
	if err != nil {
		p.logger.Error("message_publish_failed",
			fmt.Sprintf("Failed to publish message to exchange %s", exchange),
			"", err, map[string]interface{}{
				"exchange":    exchange,
				"routing_key": routingKey,
				"message_id":  publishing.MessageId,
			})
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("message_published",
		fmt.Sprintf("Published message to exchange %s", exchange),
		"", map[string]interface{}{
			"exchange":     exchange,
			"routing_key":  routingKey,
			"message_id":   publishing.MessageId,
			"message_size": len(publishing.Body),
		})
	return nil
}
