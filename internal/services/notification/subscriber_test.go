package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lidora/internal/logger"
	"lidora/internal/messaging"
	"lidora/internal/models"
)

type stubConsumer struct {
	bodies [][]byte
	errs   []error
	closed bool
}

func (s *stubConsumer) StartConsuming(ctx context.Context, handler messaging.MessageHandler) error {
	for _, b := range s.bodies {
		s.errs = append(s.errs, handler(ctx, b))
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubConsumer) Close() error {
	s.closed = true
	return nil
}

func placed(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(models.OrderPlacedMessage{
		OrderID:         "o1",
		UserID:          "u1",
		DestinationID:   "acct_rosa",
		DestinationName: "Rosa",
		Quantity:        3,
		Total:           decimal.RequireFromString("35.67"),
		Currency:        "usd",
		ConfirmationID:  "ch_42",
		PlacedAt:        time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return body
}

func TestHandleMessage(t *testing.T) {
	var out bytes.Buffer
	s := NewSubscriber(&stubConsumer{}, logger.NewNop(), &out)

	require.NoError(t, s.HandleMessage(context.Background(), placed(t)))
	assert.Equal(t,
		"[2026-05-04 18:30:00] Order o1 placed with Rosa: 3 items, 35.67 usd charged (confirmation ch_42)\n",
		out.String())
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	var out bytes.Buffer
	s := NewSubscriber(&stubConsumer{}, logger.NewNop(), &out)

	for _, body := range []string{`not json`, `{"order_id":"o1"}`} {
		err := s.HandleMessage(context.Background(), []byte(body))
		require.Error(t, err, body)
		assert.True(t, messaging.IsPermanent(err), body)
	}
	assert.Empty(t, out.String())
}

func TestStartClosesConsumerOnCancel(t *testing.T) {
	var out bytes.Buffer
	c := &stubConsumer{bodies: [][]byte{placed(t)}}
	s := NewSubscriber(c, logger.NewNop(), &out)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Start(ctx))

	assert.True(t, c.closed)
	require.Len(t, c.errs, 1)
	assert.NoError(t, c.errs[0])
	assert.Contains(t, out.String(), "Order o1")
}
