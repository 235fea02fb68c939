package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"

	"lidora/internal/apperr"
)

var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func TestValidateCard(t *testing.T) {
	valid := Card{Number: "4242 4242 4242 4242", ExpMonth: 12, ExpYear: 2030, CVC: "123"}

	tests := []struct {
		name    string
		mutate  func(c *Card)
		field   string
		wantErr bool
	}{
		{name: "valid card", mutate: func(c *Card) {}},
		{name: "dashes allowed", mutate: func(c *Card) { c.Number = "4242-4242-4242-4242" }},
		{name: "expires this month", mutate: func(c *Card) { c.ExpMonth, c.ExpYear = 3, 2026 }},
		{name: "missing number", mutate: func(c *Card) { c.Number = "" }, field: "number", wantErr: true},
		{name: "letters", mutate: func(c *Card) { c.Number = "4242abcd42424242" }, field: "number", wantErr: true},
		{name: "too short", mutate: func(c *Card) { c.Number = "42424242" }, field: "number", wantErr: true},
		{name: "bad checksum", mutate: func(c *Card) { c.Number = "4242424242424241" }, field: "number", wantErr: true},
		{name: "month zero", mutate: func(c *Card) { c.ExpMonth = 0 }, field: "exp_month", wantErr: true},
		{name: "month thirteen", mutate: func(c *Card) { c.ExpMonth = 13 }, field: "exp_month", wantErr: true},
		{name: "two digit year", mutate: func(c *Card) { c.ExpYear = 30 }, field: "exp_year", wantErr: true},
		{name: "expired", mutate: func(c *Card) { c.ExpMonth, c.ExpYear = 2, 2026 }, field: "exp_year", wantErr: true},
		{name: "short cvc", mutate: func(c *Card) { c.CVC = "12" }, field: "cvc", wantErr: true},
		{name: "non digit cvc", mutate: func(c *Card) { c.CVC = "12a" }, field: "cvc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := ValidateCard(c, testNow)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestCardStringMasksNumber(t *testing.T) {
	c := Card{Number: "4242424242424242", ExpMonth: 4, ExpYear: 2031, CVC: "987"}
	s := c.String()
	assert.Equal(t, "card ****4242 04/2031", s)
	assert.NotContains(t, s, "987")
}

func TestBrand(t *testing.T) {
	assert.Equal(t, "Visa", Brand("4242424242424242"))
	assert.Equal(t, "MasterCard", Brand("5555 5555 5555 4444"))
	assert.Equal(t, "MasterCard", Brand("2223003122003222"))
	assert.Equal(t, "American Express", Brand("378282246310005"))
	assert.Equal(t, "Discover", Brand("6011111111111117"))
	assert.Equal(t, "Unknown", Brand("3056930009020004"))
}

func TestClassifyStripeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "declined",
			err:  &stripe.Error{Type: stripe.ErrorType("card_error"), Code: stripe.ErrorCode("card_declined"), HTTPStatusCode: 402},
			want: apperr.ErrCardDeclined,
		},
		{
			name: "insufficient funds card error",
			err:  &stripe.Error{Type: stripe.ErrorType("card_error"), Code: stripe.ErrorCode("insufficient_funds"), HTTPStatusCode: 402},
			want: apperr.ErrCardDeclined,
		},
		{
			name: "incorrect number",
			err:  &stripe.Error{Type: stripe.ErrorType("card_error"), Code: stripe.ErrorCode("incorrect_number"), HTTPStatusCode: 402},
			want: apperr.ErrInvalidCard,
		},
		{
			name: "expired",
			err:  &stripe.Error{Type: stripe.ErrorType("card_error"), Code: stripe.ErrorCode("expired_card"), HTTPStatusCode: 402},
			want: apperr.ErrInvalidCard,
		},
		{
			name: "rate limited",
			err:  &stripe.Error{Type: stripe.ErrorType("invalid_request_error"), Code: stripe.ErrorCode("rate_limit"), HTTPStatusCode: http.StatusTooManyRequests},
			want: apperr.ErrGatewayUnavailable,
		},
		{
			name: "server error",
			err:  &stripe.Error{Type: stripe.ErrorType("api_error"), HTTPStatusCode: http.StatusBadGateway},
			want: apperr.ErrGatewayUnavailable,
		},
		{
			name: "network failure",
			err:  errors.New("dial tcp: connection refused"),
			want: apperr.ErrGatewayUnavailable,
		},
		{
			name: "bad request",
			err:  &stripe.Error{Type: stripe.ErrorType("invalid_request_error"), Code: stripe.ErrorCode("parameter_missing"), HTTPStatusCode: 400},
			want: apperr.ErrGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyStripeError("charge", tt.err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	err := classifyStripeError("charge", &stripe.Error{Type: stripe.ErrorType("invalid_request_error"), HTTPStatusCode: 400})
	assert.False(t, apperr.Retriable(err))
	assert.False(t, errors.Is(err, apperr.ErrGatewayUnavailable))

	err = classifyStripeError("charge", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, apperr.ErrGateway))
}

func TestMemoryGateway(t *testing.T) {
	ctx := context.Background()
	g := NewMemory()
	g.now = func() time.Time { return testNow }

	tok, err := g.TokenizeCard(ctx, Card{Number: "5555555555554444", ExpMonth: 1, ExpYear: 2029, CVC: "321"})
	require.NoError(t, err)
	assert.Regexp(t, `^tok_[0-9a-f]{32}$`, tok.ID)
	assert.Equal(t, "MasterCard", tok.Brand)
	assert.Equal(t, "4444", tok.Last4)

	req := ChargeRequest{Token: tok.ID, AmountCents: 3567, Currency: "usd", Destination: "acct_chef", IdempotencyKey: "order-1"}

	t.Run("idempotent charge", func(t *testing.T) {
		c1, err := g.Charge(ctx, req)
		require.NoError(t, err)
		c2, err := g.Charge(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, c1, c2)
		assert.Equal(t, int64(3567), c1.AmountCents)
		assert.Len(t, g.Charges(), 1)
	})

	t.Run("scripted failure then success", func(t *testing.T) {
		g.FailNext(apperr.ErrGatewayUnavailable)
		r := req
		r.IdempotencyKey = "order-2"
		_, err := g.Charge(ctx, r)
		assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
		_, err = g.Charge(ctx, r)
		assert.NoError(t, err)
	})

	t.Run("declined token", func(t *testing.T) {
		g.Decline("tok_bad")
		r := req
		r.Token, r.IdempotencyKey = "tok_bad", "order-3"
		_, err := g.Charge(ctx, r)
		assert.ErrorIs(t, err, apperr.ErrCardDeclined)
		assert.False(t, apperr.Retriable(err))
	})

	t.Run("invalid requests", func(t *testing.T) {
		for _, r := range []ChargeRequest{
			{AmountCents: 1, Currency: "usd", Destination: "d", IdempotencyKey: "k"},
			{Token: "t", Currency: "usd", Destination: "d", IdempotencyKey: "k"},
			{Token: "t", AmountCents: 1, Destination: "d", IdempotencyKey: "k"},
			{Token: "t", AmountCents: 1, Currency: "usd", IdempotencyKey: "k"},
			{Token: "t", AmountCents: 1, Currency: "usd", Destination: "d"},
		} {
			_, err := g.Charge(ctx, r)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		}
	})

	t.Run("invalid card is not tokenized", func(t *testing.T) {
		_, err := g.TokenizeCard(ctx, Card{Number: "1234", ExpMonth: 1, ExpYear: 2029, CVC: "321"})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}
