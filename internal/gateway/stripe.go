package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"lidora/internal/apperr"
)

// Stripe charges cards through the Stripe API. Funds are sent to the
// merchant's connected account given as the charge destination.
type Stripe struct {
	api *client.API
	now func() time.Time
}

// NewStripe builds a client for secretKey. backends may be nil to use the
// live API endpoints.
func NewStripe(secretKey string, backends *stripe.Backends) *Stripe {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Stripe{api: api, now: time.Now}
}

func (s *Stripe) TokenizeCard(ctx context.Context, card Card) (Token, error) {
	if err := ValidateCard(card, s.now()); err != nil {
		return Token{}, err
	}

	params := &stripe.TokenParams{
		Card: &stripe.CardParams{
			Number:   stripe.String(card.digits()),
			ExpMonth: stripe.String(strconv.Itoa(card.ExpMonth)),
			ExpYear:  stripe.String(strconv.Itoa(card.ExpYear)),
			CVC:      stripe.String(card.CVC),
		},
	}
	params.Context = ctx

	tok, err := s.api.Tokens.New(params)
	if err != nil {
		return Token{}, classifyStripeError("tokenize card", err)
	}

	out := Token{
		ID:       tok.ID,
		Brand:    Brand(card.Number),
		Last4:    card.last4(),
		ExpMonth: card.ExpMonth,
		ExpYear:  card.ExpYear,
	}
	if tok.Card != nil {
		out.Brand = string(tok.Card.Brand)
		out.Last4 = tok.Card.Last4
	}
	return out, nil
}

func (s *Stripe) Charge(ctx context.Context, req ChargeRequest) (Confirmation, error) {
	if err := validateChargeRequest(req); err != nil {
		return Confirmation{}, err
	}

	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
		Source:      &stripe.SourceParams{Token: stripe.String(req.Token)},
		TransferData: &stripe.ChargeTransferDataParams{
			Destination: stripe.String(req.Destination),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	ch, err := s.api.Charges.New(params)
	if err != nil {
		return Confirmation{}, classifyStripeError("charge", err)
	}
	if ch.Status == stripe.ChargeStatusFailed {
		return Confirmation{}, fmt.Errorf("charge %s: %w: %s", ch.ID, apperr.ErrCardDeclined, ch.FailureMessage)
	}
	return Confirmation{ID: ch.ID, AmountCents: ch.Amount, Currency: string(ch.Currency)}, nil
}

var invalidCardCodes = map[string]bool{
	"incorrect_number":     true,
	"invalid_number":       true,
	"invalid_expiry_month": true,
	"invalid_expiry_year":  true,
	"expired_card":         true,
	"incorrect_cvc":        true,
	"invalid_cvc":          true,
}

// classifyStripeError maps a Stripe failure onto the gateway error kinds.
// Anything that is not a definite rejection of the card is treated as the
// processor being unavailable.
func classifyStripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %v", op, apperr.ErrGatewayUnavailable, err)
	}

	code := string(se.Code)
	switch {
	case code == "card_declined" || (string(se.Type) == "card_error" && !invalidCardCodes[code]):
		return fmt.Errorf("%s: %w: %s", op, apperr.ErrCardDeclined, se.Msg)
	case invalidCardCodes[code]:
		return fmt.Errorf("%s: %w: %s", op, apperr.ErrInvalidCard, se.Msg)
	case code == "rate_limit" || se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500:
		return fmt.Errorf("%s: %w: %s", op, apperr.ErrGatewayUnavailable, se.Msg)
	case string(se.Type) == "api_error" || string(se.Type) == "api_connection_error":
		return fmt.Errorf("%s: %w: %s", op, apperr.ErrGatewayUnavailable, se.Msg)
	default:
		return fmt.Errorf("%s: %w: %s", op, apperr.ErrGateway, se.Msg)
	}
}
