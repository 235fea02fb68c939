package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lidora/internal/apperr"
	"lidora/internal/docstore"
	"lidora/internal/fees"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func snapshot(p docstore.Path, d docstore.Data) docstore.Snapshot {
	return docstore.Snapshot{Path: p, Data: d, Version: 1, Exists: true}
}

func pizzaOrder(t *testing.T) Order {
	t.Helper()
	b, err := fees.NewCalculator(fees.DefaultSchedule()).Compute(dec("30"))
	require.NoError(t, err)
	o := Order{
		ID:              "o1",
		DestinationID:   "acct_rosa",
		DestinationName: "Rosa",
		Quantity:        3,
		Status:          StatusOpen,
		CreatedAt:       time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2026, 5, 1, 12, 5, 0, 0, time.UTC),
	}
	o.ApplyFees(b)
	return o
}

func TestOrderDocumentRoundTrip(t *testing.T) {
	o := pizzaOrder(t)
	placed := time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC)
	o.Status, o.ChargeID, o.PlacedAt = StatusPlaced, "ch_1", &placed

	doc := o.Document()
	assert.Equal(t, json.Number("35.67"), doc["total"])
	assert.Equal(t, json.Number("30.00"), doc["subtotal"])

	got, err := OrderFromDocument(snapshot(OrderPath("u1", "o1"), doc))
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)
	assert.True(t, got.Total.Equal(dec("35.67")))
	assert.Equal(t, StatusPlaced, got.Status)
	require.NotNil(t, got.PlacedAt)
	assert.True(t, got.PlacedAt.Equal(placed))
	assert.NoError(t, got.CheckTotals())
}

func TestOrderFromDocumentErrors(t *testing.T) {
	base := func() docstore.Data { return pizzaOrder(t).Document() }

	tests := []struct {
		name   string
		mutate func(d docstore.Data)
		field  string
	}{
		{"missing subtotal", func(d docstore.Data) { delete(d, "subtotal") }, "subtotal"},
		{"total as string", func(d docstore.Data) { d["total"] = "35.67" }, "total"},
		{"fractional quantity", func(d docstore.Data) { d["quantity"] = json.Number("1.5") }, "quantity"},
		{"unknown status", func(d docstore.Data) { d["status"] = "cooking" }, "status"},
		{"bad timestamp", func(d docstore.Data) { d["created_at"] = "yesterday" }, "created_at"},
		{"empty destination", func(d docstore.Data) { d["destination_id"] = "" }, "destination_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(d)
			_, err := OrderFromDocument(snapshot(OrderPath("u1", "o1"), d))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrDecode)

			var de *apperr.DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.field, de.Field)
			assert.Equal(t, "users/u1/orders/o1", de.Path)
		})
	}
}

func TestCheckTotals(t *testing.T) {
	o := pizzaOrder(t)
	require.NoError(t, o.CheckTotals())

	mismatch := o
	mismatch.Total = dec("35.66")
	assert.ErrorIs(t, mismatch.CheckTotals(), apperr.ErrCorruptOrder)

	negative := o
	negative.ServiceFee = dec("-1.50")
	negative.Total = negative.Subtotal.Add(negative.PlatformFee).Add(negative.ProcessorFee).Add(negative.ServiceFee)
	err := negative.CheckTotals()
	assert.ErrorIs(t, err, apperr.ErrCorruptOrder)
	assert.Contains(t, err.Error(), "service_fee")
}

func TestMoneyRoundsToCents(t *testing.T) {
	assert.Equal(t, json.Number("4.46"), Money(dec("4.455")))
	assert.Equal(t, json.Number("10.00"), Money(dec("10")))
	assert.Equal(t, json.Number("0.00"), Money(decimal.Zero))
}

func TestUserFromDocument(t *testing.T) {
	snap := snapshot(UserPath("u1"), docstore.Data{
		"first_name":             "Ada",
		"primary_payment_method": "tok_1",
		"address":                map[string]any{"line1": "1 Main St", "postal_code": "94107", "state": "CA"},
	})
	u, err := UserFromDocument(snap)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "tok_1", u.PrimaryPaymentMethod)
	require.NotNil(t, u.Address)
	assert.Equal(t, "CA", u.Address.State)

	snap.Data["address"] = map[string]any{"line1": "1 Main St"}
	_, err = UserFromDocument(snap)
	var de *apperr.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "users/u1.address", de.Path)
	assert.Equal(t, "postal_code", de.Field)
}

func TestPaymentMethodFromDocument(t *testing.T) {
	pm := PaymentMethod{ID: "tok_1", Brand: "Visa", Last4: "4242", ExpMonth: 4, ExpYear: 2031, IsPrimary: true}
	got, err := PaymentMethodFromDocument(snapshot(PaymentMethodPath("u1", "tok_1"), pm.Document()))
	require.NoError(t, err)
	assert.Equal(t, pm, got)

	_, err = PaymentMethodFromDocument(snapshot(PaymentMethodPath("u1", "tok_1"), docstore.Data{
		"last4": "4242", "exp_month": 4, "exp_year": 2031, "is_primary": "yes",
	}))
	assert.ErrorIs(t, err, apperr.ErrDecode)
}

func TestCatalogFromDocument(t *testing.T) {
	chef, err := ChefFromDocument(snapshot(MerchantPath("chef-1"), docstore.Data{"first_name": "Rosa", "last_name": "Diaz"}))
	require.NoError(t, err)
	assert.Equal(t, "Rosa", chef.DisplayName())
	assert.Equal(t, "Diaz", chef.LastName)

	_, err = MenuItemFromDocument(snapshot(MenuItemPath("chef-1", "pizza"), docstore.Data{"name": "Margherita"}))
	assert.ErrorIs(t, err, apperr.ErrDecode)
}

func TestChargeRecordRoundTrip(t *testing.T) {
	c := ChargeRecord{
		OrderID:         "o1",
		PaymentMethodID: "tok_1",
		ConfirmationID:  "ch_1",
		Subtotal:        dec("30.00"),
		Total:           dec("35.67"),
		Currency:        "usd",
		DestinationID:   "acct_rosa",
		DestinationName: "Rosa",
		CreatedAt:       time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC),
	}
	got, err := ChargeRecordFromDocument(snapshot(ChargePath("u1", "o1"), c.Document()))
	require.NoError(t, err)
	assert.Equal(t, "ch_1", got.ConfirmationID)
	assert.True(t, got.Total.Equal(c.Total))
	assert.True(t, got.CreatedAt.Equal(c.CreatedAt))
}

func TestNewOrderPlacedMessage(t *testing.T) {
	o := pizzaOrder(t)
	c := ChargeRecord{ConfirmationID: "ch_1", Currency: "usd", CreatedAt: o.UpdatedAt}
	msg := NewOrderPlacedMessage("u1", o, c)
	assert.Equal(t, "o1", msg.OrderID)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, 3, msg.Quantity)
	assert.True(t, msg.Total.Equal(dec("35.67")))
	assert.Equal(t, "ch_1", msg.ConfirmationID)
}
