package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lidora/internal/apperr"
)

// Memory is an in-process processor for local runs and tests. It accepts
// any valid card, remembers every charge and can be told to fail.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	failures []error
	declined map[string]bool
	byKey    map[string]Confirmation
	charges  []ChargeRequest
}

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		declined: make(map[string]bool),
		byKey:    make(map[string]Confirmation),
	}
}

// FailNext makes the next gateway calls return errs, in order.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Decline makes every charge against token fail with apperr.ErrCardDeclined.
func (m *Memory) Decline(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declined[token] = true
}

// Charges returns the requests that were charged, once per idempotency key.
func (m *Memory) Charges() []ChargeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChargeRequest, len(m.charges))
	copy(out, m.charges)
	return out
}

func (m *Memory) popFailure() error {
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

func (m *Memory) TokenizeCard(ctx context.Context, card Card) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if err := ValidateCard(card, m.now()); err != nil {
		return Token{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure(); err != nil {
		return Token{}, err
	}
	return Token{
		ID:       "tok_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Brand:    Brand(card.Number),
		Last4:    card.last4(),
		ExpMonth: card.ExpMonth,
		ExpYear:  card.ExpYear,
	}, nil
}

func (m *Memory) Charge(ctx context.Context, req ChargeRequest) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	if err := validateChargeRequest(req); err != nil {
		return Confirmation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byKey[req.IdempotencyKey]; ok {
		return c, nil
	}
	if err := m.popFailure(); err != nil {
		return Confirmation{}, err
	}
	if m.declined[req.Token] {
		return Confirmation{}, fmt.Errorf("charge %s: %w", req.IdempotencyKey, apperr.ErrCardDeclined)
	}

	c := Confirmation{
		ID:          "ch_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}
	m.byKey[req.IdempotencyKey] = c
	m.charges = append(m.charges, req)
	return c, nil
}
