package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"lidora/internal/fees"
	"lidora/internal/logger"
	"lidora/internal/messaging"
	"lidora/internal/models"
)

// Consumer is the queue side the subscriber reads from.
type Consumer interface {
	StartConsuming(ctx context.Context, handler messaging.MessageHandler) error
	Close() error
}

// Subscriber prints a line for every placed order it receives.
type Subscriber struct {
	consumer Consumer
	logger   *logger.Logger
	out      io.Writer
}

// NewSubscriber creates a new notification subscriber writing to out
func NewSubscriber(consumer Consumer, log *logger.Logger, out io.Writer) *Subscriber {
	return &Subscriber{
		consumer: consumer,
		logger:   log,
		out:      out,
	}
}

// Start consumes until ctx is cancelled, then closes the consumer.
func (s *Subscriber) Start(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	s.logger.Info("service_started", "Notification subscriber started", requestID, nil)

	err := s.consumer.StartConsuming(ctx, s.HandleMessage)

	s.logger.Info("graceful_shutdown", "Stopping notification subscriber", requestID, nil)
	if closeErr := s.consumer.Close(); closeErr != nil {
		s.logger.Error("consumer_close_failed", "Failed to close consumer", requestID, closeErr, nil)
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// HandleMessage decodes one order event and displays it. Malformed
// bodies are dropped rather than redelivered.
func (s *Subscriber) HandleMessage(ctx context.Context, body []byte) error {
	requestID := logger.GenerateRequestID()

	var msg models.OrderPlacedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		s.logger.Error("message_parsing_failed", "Failed to parse notification message", requestID, err, nil)
		return messaging.Permanent(fmt.Errorf("failed to parse notification: %w", err))
	}
	if msg.OrderID == "" || msg.UserID == "" {
		return messaging.Permanent(fmt.Errorf("notification is missing order_id or user_id"))
	}

	line := formatNotification(&msg)
	if _, err := fmt.Fprintln(s.out, line); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}

	s.logger.Info("notification_displayed", "Order placed notification displayed", requestID, map[string]interface{}{
		"order_id":        msg.OrderID,
		"user_id":         msg.UserID,
		"destination":     msg.DestinationID,
		"confirmation_id": msg.ConfirmationID,
		"total":           msg.Total.String(),
	})
	return nil
}

func formatNotification(msg *models.OrderPlacedMessage) string {
	timestamp := msg.PlacedAt.Format("2006-01-02 15:04:05")
	items := "items"
	if msg.Quantity == 1 {
		items = "item"
	}
	return fmt.Sprintf(
		"[%s] Order %s placed with %s: %d %s, %s %s charged (confirmation %s)",
		timestamp,
		msg.OrderID,
		msg.DestinationName,
		msg.Quantity,
		items,
		fees.Round(msg.Total).StringFixed(fees.Places),
		msg.Currency,
		msg.ConfirmationID,
	)
}
