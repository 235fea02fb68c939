package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lidora/internal/apperr"
	"lidora/internal/docstore"
	"lidora/internal/fees"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	StatusOpen    OrderStatus = "open"
	StatusPlacing OrderStatus = "placing" // charge in flight, lines frozen
	StatusPlaced  OrderStatus = "placed"
)

// Order is the cart aggregate: running totals for one customer's basket
// from one merchant. Fee fields are always derived from Subtotal.
type Order struct {
	ID              string          `json:"id"`
	DestinationID   string          `json:"destination_id"`
	DestinationName string          `json:"destination_name"`
	Quantity        int             `json:"quantity"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	ProcessorFee    decimal.Decimal `json:"processor_fee"`
	ServiceFee      decimal.Decimal `json:"service_fee"`
	Total           decimal.Decimal `json:"total"`
	Status          OrderStatus     `json:"status"`
	ChargeID        string          `json:"charge_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	PlacedAt        *time.Time      `json:"placed_at,omitempty"`

	Items []OrderLineItem `json:"items,omitempty"`
}

// OrderLineItem is one menu item within an order.
type OrderLineItem struct {
	ID            string          `json:"id"`
	DestinationID string          `json:"destination_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	ImageURL      string          `json:"image_url"`
	Quantity      int             `json:"quantity"`
	Total         decimal.Decimal `json:"total"`
}

// ApplyFees overwrites the aggregate's money fields with b.
func (o *Order) ApplyFees(b fees.Breakdown) {
	o.Subtotal = b.Subtotal
	o.PlatformFee = b.PlatformFee
	o.ProcessorFee = b.ProcessorFee
	o.ServiceFee = b.ServiceFee
	o.Total = b.Total
}

// CheckTotals reports an aggregate whose stored money fields are negative
// or do not add up.
func (o Order) CheckTotals() error {
	for name, v := range map[string]decimal.Decimal{
		"subtotal": o.Subtotal, "platform_fee": o.PlatformFee, "processor_fee": o.ProcessorFee,
		"service_fee": o.ServiceFee, "total": o.Total,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: order %s has negative %s %s", apperr.ErrCorruptOrder, o.ID, name, v.String())
		}
	}
	sum := o.Subtotal.Add(o.PlatformFee).Add(o.ProcessorFee).Add(o.ServiceFee)
	if !sum.Equal(o.Total) {
		return fmt.Errorf("%w: order %s total %s does not match components %s", apperr.ErrCorruptOrder, o.ID, o.Total, sum)
	}
	return nil
}

// OrderFromDocument decodes users/{userId}/orders/{orderId}.
func OrderFromDocument(snap docstore.Snapshot) (Order, error) {
	r := newFieldReader(snap)
	o := Order{
		ID:              snap.ID(),
		DestinationID:   r.str("destination_id", true),
		DestinationName: r.str("destination_name", true),
		Quantity:        r.integer("quantity", true),
		Subtotal:        r.money("subtotal", true),
		PlatformFee:     r.money("platform_fee", true),
		ProcessorFee:    r.money("processor_fee", true),
		ServiceFee:      r.money("service_fee", true),
		Total:           r.money("total", true),
		Status:          OrderStatus(r.str("status", true)),
		ChargeID:        r.str("charge_id", false),
		CreatedAt:       r.timestamp("created_at", false),
		UpdatedAt:       r.timestamp("updated_at", false),
	}
	if placed := r.timestamp("placed_at", false); !placed.IsZero() {
		o.PlacedAt = &placed
	}
	if r.err == nil && o.Status != StatusOpen && o.Status != StatusPlacing && o.Status != StatusPlaced {
		r.fail("status", fmt.Sprintf("is %q, want open, placing or placed", o.Status))
	}
	if r.err != nil {
		return Order{}, r.err
	}
	return o, nil
}

// Document is the stored form of the aggregate, without line items.
func (o Order) Document() docstore.Data {
	d := docstore.Data{
		"destination_id":   o.DestinationID,
		"destination_name": o.DestinationName,
		"quantity":         o.Quantity,
		"subtotal":         Money(o.Subtotal),
		"platform_fee":     Money(o.PlatformFee),
		"processor_fee":    Money(o.ProcessorFee),
		"service_fee":      Money(o.ServiceFee),
		"total":            Money(o.Total),
		"status":           string(o.Status),
		"created_at":       timeValue(o.CreatedAt),
		"updated_at":       timeValue(o.UpdatedAt),
	}
	if o.ChargeID != "" {
		d["charge_id"] = o.ChargeID
	}
	if o.PlacedAt != nil {
		d["placed_at"] = timeValue(*o.PlacedAt)
	}
	return d
}

// LineItemFromDocument decodes users/{userId}/orders/{orderId}/items/{itemId}.
func LineItemFromDocument(snap docstore.Snapshot) (OrderLineItem, error) {
	r := newFieldReader(snap)
	li := OrderLineItem{
		ID:            snap.ID(),
		DestinationID: r.str("destination_id", true),
		Name:          r.str("name", true),
		Description:   r.str("description", true),
		ImageURL:      r.str("image_url", true),
		Quantity:      r.integer("quantity", true),
		Total:         r.money("total", true),
	}
	if r.err != nil {
		return OrderLineItem{}, r.err
	}
	return li, nil
}

func (li OrderLineItem) Document() docstore.Data {
	return docstore.Data{
		"destination_id": li.DestinationID,
		"name":           li.Name,
		"description":    li.Description,
		"image_url":      li.ImageURL,
		"quantity":       li.Quantity,
		"total":          Money(li.Total),
	}
}
