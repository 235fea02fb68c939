package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderPlacedRoutingKey is the routing key of OrderPlacedMessage.
const OrderPlacedRoutingKey = "order.placed"

// OrderPlacedMessage is published once an order has been charged and marked placed
type OrderPlacedMessage struct {
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	DestinationID   string          `json:"destination_id"`
	DestinationName string          `json:"destination_name"`
	Quantity        int             `json:"quantity"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	ConfirmationID  string          `json:"confirmation_id"`
	PlacedAt        time.Time       `json:"placed_at"`
}

// NewOrderPlacedMessage builds the event for a placed order
func NewOrderPlacedMessage(userID string, order Order, charge ChargeRecord) *OrderPlacedMessage {
	return &OrderPlacedMessage{
		OrderID:         order.ID,
		UserID:          userID,
		DestinationID:   order.DestinationID,
		DestinationName: order.DestinationName,
		Quantity:        order.Quantity,
		Total:           order.Total,
		Currency:        charge.Currency,
		ConfirmationID:  charge.ConfirmationID,
		PlacedAt:        charge.CreatedAt,
	}
}
