package models

import (
	"time"

	"github.com/shopspring/decimal"

	"lidora/internal/docstore"
)

// ChargeRecord is written once, after the gateway confirms a charge, and
// never modified.
type ChargeRecord struct {
	OrderID         string          `json:"order_id"`
	PaymentMethodID string          `json:"payment_method"`
	ConfirmationID  string          `json:"confirmation_id"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	DestinationID   string          `json:"destination"`
	DestinationName string          `json:"destination_name"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (c ChargeRecord) Document() docstore.Data {
	return docstore.Data{
		"order_id":         c.OrderID,
		"payment_method":   c.PaymentMethodID,
		"confirmation_id":  c.ConfirmationID,
		"subtotal":         Money(c.Subtotal),
		"total":            Money(c.Total),
		"currency":         c.Currency,
		"destination":      c.DestinationID,
		"destination_name": c.DestinationName,
		"created_at":       timeValue(c.CreatedAt),
	}
}

func ChargeRecordFromDocument(snap docstore.Snapshot) (ChargeRecord, error) {
	r := newFieldReader(snap)
	c := ChargeRecord{
		OrderID:         r.str("order_id", true),
		PaymentMethodID: r.str("payment_method", true),
		ConfirmationID:  r.str("confirmation_id", true),
		Subtotal:        r.money("subtotal", true),
		Total:           r.money("total", true),
		Currency:        r.str("currency", true),
		DestinationID:   r.str("destination", true),
		DestinationName: r.str("destination_name", true),
		CreatedAt:       r.timestamp("created_at", true),
	}
	if r.err != nil {
		return ChargeRecord{}, r.err
	}
	return c, nil
}
