// Package gateway talks to the payment processor: it turns raw card details
// into an opaque token and charges tokens on behalf of a merchant.
//
// Raw card numbers and CVCs only ever live in a Card value on their way to
// the processor. Nothing in this package logs them, and Card's String method
// masks them.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"lidora/internal/apperr"
)

// Gateway is the payment processor as seen by the services.
type Gateway interface {
	TokenizeCard(ctx context.Context, card Card) (Token, error)
	Charge(ctx context.Context, req ChargeRequest) (Confirmation, error)
}

// Card is raw card input.
type Card struct {
	Number   string
	ExpMonth int
	ExpYear  int
	CVC      string
}

func (c Card) String() string {
	return fmt.Sprintf("card ****%s %02d/%d", c.last4(), c.ExpMonth, c.ExpYear)
}

func (c Card) digits() string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, c.Number)
}

func (c Card) last4() string {
	d := c.digits()
	if len(d) < 4 {
		return d
	}
	return d[len(d)-4:]
}

// Token is the processor's handle for a card plus the display metadata
// that is safe to store.
type Token struct {
	ID       string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// ChargeRequest charges Token for AmountCents and routes the funds to
// Destination. IdempotencyKey makes repeated requests charge once.
type ChargeRequest struct {
	Token          string
	AmountCents    int64
	Currency       string
	Destination    string
	Description    string
	IdempotencyKey string
}

// Confirmation is the processor's receipt for a successful charge.
type Confirmation struct {
	ID          string
	AmountCents int64
	Currency    string
}

// ValidateCard checks card input before it is sent anywhere. now decides
// expiry.
func ValidateCard(c Card, now time.Time) error {
	number := c.digits()
	if number == "" {
		return apperr.Invalid("number", "is required")
	}
	for _, r := range number {
		if !unicode.IsDigit(r) {
			return apperr.Invalid("number", "must contain only digits")
		}
	}
	if len(number) < 12 || len(number) > 19 {
		return apperr.Invalid("number", "must be 12 to 19 digits")
	}
	if !luhn(number) {
		return apperr.Invalid("number", "fails checksum")
	}

	if c.ExpMonth < 1 || c.ExpMonth > 12 {
		return apperr.Invalid("exp_month", fmt.Sprintf("must be 1-12, got %d", c.ExpMonth))
	}
	if c.ExpYear < 1000 {
		return apperr.Invalid("exp_year", fmt.Sprintf("must be a four digit year, got %d", c.ExpYear))
	}
	y, m, _ := now.Date()
	if c.ExpYear < y || (c.ExpYear == y && c.ExpMonth < int(m)) {
		return apperr.Invalid("exp_year", "card has expired")
	}

	if len(c.CVC) < 3 || len(c.CVC) > 4 {
		return apperr.Invalid("cvc", "must be 3 or 4 digits")
	}
	for _, r := range c.CVC {
		if !unicode.IsDigit(r) {
			return apperr.Invalid("cvc", "must contain only digits")
		}
	}
	return nil
}

func luhn(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// Brand guesses the card network from the number prefix.
func Brand(number string) string {
	n := Card{Number: number}.digits()
	switch {
	case strings.HasPrefix(n, "4"):
		return "Visa"
	case strings.HasPrefix(n, "34"), strings.HasPrefix(n, "37"):
		return "American Express"
	case strings.HasPrefix(n, "6011"), strings.HasPrefix(n, "65"):
		return "Discover"
	case len(n) >= 2 && n[0] == '5' && n[1] >= '1' && n[1] <= '5':
		return "MasterCard"
	case len(n) >= 4 && n[:4] >= "2221" && n[:4] <= "2720":
		return "MasterCard"
	default:
		return "Unknown"
	}
}

func validateChargeRequest(req ChargeRequest) error {
	switch {
	case req.Token == "":
		return apperr.Invalid("token", "is required")
	case req.AmountCents <= 0:
		return apperr.Invalid("amount", fmt.Sprintf("must be positive, got %d cents", req.AmountCents))
	case req.Currency == "":
		return apperr.Invalid("currency", "is required")
	case req.Destination == "":
		return apperr.Invalid("destination", "is required")
	case req.IdempotencyKey == "":
		return apperr.Invalid("idempotency_key", "is required")
	}
	return nil
}
