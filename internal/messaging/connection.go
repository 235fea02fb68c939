package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"lidora/internal/config"
	"lidora/internal/logger"
)

// Topology names. Order events go to a topic exchange keyed by event type;
// the notifications queue receives every order event.
const (
	OrdersExchange     = "orders_topic"
	NotificationsQueue = "order_notifications_queue"
	orderEventsPattern = "order.*"
	dialAttempts       = 5
)

// Connection wraps a RabbitMQ connection and channel and re-dials them on
// demand.
type Connection struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *logger.Logger
	url     string
	backoff time.Duration
}

// New dials RabbitMQ and declares the order event topology.
func New(cfg *config.Config, log *logger.Logger) (*Connection, error) {
	c := &Connection{
		logger:  log,
		url:     cfg.RabbitMQURL(),
		backoff: 2 * time.Second,
	}

	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to establish initial connection: %w", err)
	}
	return c, nil
}

// connect dials with linear backoff. Callers hold mu or own c exclusively.
func (c *Connection) connect() error {
	var err error
	for i := 0; i < dialAttempts; i++ {
		if err = c.dial(); err == nil {
			return nil
		}

		if i < dialAttempts-1 {
			wait := time.Duration(i+1) * c.backoff
			c.logger.Error("rabbitmq_connection_failed",
				fmt.Sprintf("Failed to connect to RabbitMQ, retrying in %v", wait),
				"startup", err, nil)
			time.Sleep(wait)
		}
	}
	return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", dialAttempts, err)
}

func (c *Connection) dial() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	c.conn, c.channel = conn, ch
	return nil
}

// topologyDeclarer is the part of *amqp091.Channel that declares topology.
type topologyDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

func declareTopology(ch topologyDeclarer) error {
	err := ch.ExchangeDeclare(
		OrdersExchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", OrdersExchange, err)
	}

	_, err = ch.QueueDeclare(
		NotificationsQueue, // name
		true,               // durable
		false,              // delete when unused
		false,              // exclusive
		false,              // no-wait
		amqp091.Table{
			"x-message-ttl": int32(24 * time.Hour / time.Millisecond),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", NotificationsQueue, err)
	}

	err = ch.QueueBind(
		NotificationsQueue, // queue name
		orderEventsPattern, // routing key
		OrdersExchange,     // exchange
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue %s with routing key %s: %w", NotificationsQueue, orderEventsPattern, err)
	}
	return nil
}

// Channel returns a live channel, re-dialing first if the connection dropped.
func (c *Connection) Channel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		c.closeLocked()
		if err := c.connect(); err != nil {
			return nil, err
		}
	}
	return c.channel, nil
}

// Ping reports whether the broker connection is up.
func (c *Connection) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil && err != amqp091.ErrClosed {
			return err
		}
	}
	return nil
}
