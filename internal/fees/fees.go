// Package fees turns an order subtotal into the customer-facing fee breakdown.
package fees

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"lidora/internal/apperr"
)

// Places is the minor-unit precision of the only supported currency (USD).
const Places = 2

// Schedule holds the fee rates applied to a subtotal.
type Schedule struct {
	PlatformRate   decimal.Decimal
	ProcessorRate  decimal.Decimal
	ProcessorFixed decimal.Decimal
	ServiceRate    decimal.Decimal
}

// DefaultSchedule is 10% platform, 2.9% + 0.30 processing and 5% service.
func DefaultSchedule() Schedule {
	return Schedule{
		PlatformRate:   decimal.RequireFromString("0.10"),
		ProcessorRate:  decimal.RequireFromString("0.029"),
		ProcessorFixed: decimal.RequireFromString("0.30"),
		ServiceRate:    decimal.RequireFromString("0.05"),
	}
}

// Breakdown is the priced view of a subtotal.
// Total == Subtotal + PlatformFee + ProcessorFee + ServiceFee always holds.
type Breakdown struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	ProcessorFee decimal.Decimal `json:"processor_fee"`
	ServiceFee   decimal.Decimal `json:"service_fee"`
	Total        decimal.Decimal `json:"total"`
}

// Calculator computes breakdowns for a fixed schedule. It is safe for
// concurrent use.
type Calculator struct {
	schedule Schedule
}

func NewCalculator(schedule Schedule) *Calculator {
	return &Calculator{schedule: schedule}
}

// Round rounds half-up to the currency precision. Amounts reaching it are
// never negative, so half-away-from-zero is half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Compute prices amount.
//
// Fee components are computed on the unrounded amount and the grand total is
// rounded once. Subtotal, platform and processor fees are reported rounded and
// the service fee takes whatever remains of the rounded total, so the rounding
// residual lands in one component instead of drifting across all of them.
func (c *Calculator) Compute(amount decimal.Decimal) (Breakdown, error) {
	if amount.IsNegative() {
		return Breakdown{}, &apperr.ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("must not be negative, got %s", amount.String()),
			Err:     apperr.ErrInvalidAmount,
		}
	}

	s := c.schedule
	platform := amount.Mul(s.PlatformRate)
	processor := decimal.Zero
	if !amount.IsZero() {
		processor = amount.Mul(s.ProcessorRate).Add(s.ProcessorFixed)
	}
	service := amount.Mul(s.ServiceRate)
	exact := amount.Add(platform).Add(processor).Add(service)

	b := Breakdown{
		Subtotal:     Round(amount),
		PlatformFee:  Round(platform),
		ProcessorFee: Round(processor),
		Total:        Round(exact),
	}
	b.ServiceFee = b.Total.Sub(b.Subtotal).Sub(b.PlatformFee).Sub(b.ProcessorFee)
	if b.ServiceFee.IsNegative() {
		// sub-cent amounts: the rounded components already exceed the total
		b.ServiceFee = decimal.Zero
		b.Total = b.Subtotal.Add(b.PlatformFee).Add(b.ProcessorFee)
	}
	return b, nil
}

// ComputeFloat prices a raw float amount, rejecting NaN and infinities.
func (c *Calculator) ComputeFloat(amount float64) (Breakdown, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Breakdown{}, &apperr.ValidationError{
			Field:   "amount",
			Message: "must be a finite number",
			Err:     apperr.ErrInvalidAmount,
		}
	}
	return c.Compute(decimal.NewFromFloat(amount))
}

// Cents converts a rounded amount to minor units for the payment gateway.
func Cents(d decimal.Decimal) int64 {
	return Round(d).Shift(Places).IntPart()
}
