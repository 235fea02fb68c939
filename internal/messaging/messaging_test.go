package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lidora/internal/logger"
	"lidora/internal/models"
)

type fakeDeclarer struct {
	exchanges []string
	queues    map[string]amqp091.Table
	bindings  [][3]string
	failQueue error
}

func (f *fakeDeclarer) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	f.exchanges = append(f.exchanges, name+":"+kind)
	return nil
}

func (f *fakeDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	if f.failQueue != nil {
		return amqp091.Queue{}, f.failQueue
	}
	if f.queues == nil {
		f.queues = map[string]amqp091.Table{}
	}
	f.queues[name] = args
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeDeclarer) QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error {
	f.bindings = append(f.bindings, [3]string{name, key, exchange})
	return nil
}

func TestDeclareTopology(t *testing.T) {
	d := &fakeDeclarer{}
	require.NoError(t, declareTopology(d))

	assert.Equal(t, []string{"orders_topic:topic"}, d.exchanges)
	require.Contains(t, d.queues, NotificationsQueue)
	assert.Equal(t, int32(86400000), d.queues[NotificationsQueue]["x-message-ttl"])
	assert.Equal(t, [][3]string{{NotificationsQueue, "order.*", OrdersExchange}}, d.bindings)
}

func TestDeclareTopologyQueueFailure(t *testing.T) {
	d := &fakeDeclarer{failQueue: errors.New("access refused")}
	err := declareTopology(d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), NotificationsQueue)
	assert.Empty(t, d.bindings)
}

func TestNewPublishing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	msg := &models.OrderPlacedMessage{
		OrderID:        "o1",
		UserID:         "u1",
		DestinationID:  "acct_rosa",
		Quantity:       3,
		Total:          decimal.RequireFromString("35.67"),
		Currency:       "usd",
		ConfirmationID: "ch_1",
	}

	p, err := newPublishing(msg.OrderID, msg, now)
	require.NoError(t, err)
	assert.Equal(t, "application/json", p.ContentType)
	assert.Equal(t, amqp091.Persistent, p.DeliveryMode)
	assert.Equal(t, "o1", p.MessageId)
	assert.Equal(t, now.UTC(), p.Timestamp)

	var decoded models.OrderPlacedMessage
	require.NoError(t, json.Unmarshal(p.Body, &decoded))
	assert.Equal(t, "u1", decoded.UserID)
	assert.True(t, decoded.Total.Equal(msg.Total))
}

func TestNewPublishingMarshalFailure(t *testing.T) {
	_, err := newPublishing("x", map[string]interface{}{"bad": make(chan int)}, time.Now())
	assert.Error(t, err)
}

type fakeAcknowledger struct {
	acked    int
	nacked   int
	requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked++
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func TestProcessMessage(t *testing.T) {
	tests := []struct {
		name        string
		handlerErr  error
		wantAck     int
		wantNack    int
		wantRequeue bool
	}{
		{name: "success acks", wantAck: 1},
		{name: "transient failure requeues", handlerErr: errors.New("store down"), wantNack: 1, wantRequeue: true},
		{name: "permanent failure drops", handlerErr: Permanent(errors.New("bad body")), wantNack: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Consumer{logger: logger.NewNop(), queueName: NotificationsQueue}
			ack := &fakeAcknowledger{}
			d := amqp091.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`{}`)}

			var got []byte
			c.processMessage(context.Background(), d, func(ctx context.Context, body []byte) error {
				got = body
				_, hasDeadline := ctx.Deadline()
				assert.True(t, hasDeadline)
				return tt.handlerErr
			})

			assert.Equal(t, []byte(`{}`), got)
			assert.Equal(t, tt.wantAck, ack.acked)
			assert.Equal(t, tt.wantNack, ack.nacked)
			assert.Equal(t, tt.wantRequeue, ack.requeued)
		})
	}
}

func TestDrainStopsWhenChannelCloses(t *testing.T) {
	c := &Consumer{logger: logger.NewNop()}
	msgs := make(chan amqp091.Delivery, 2)
	ack := &fakeAcknowledger{}
	msgs <- amqp091.Delivery{Acknowledger: ack}
	msgs <- amqp091.Delivery{Acknowledger: ack}
	close(msgs)

	done := c.drain(context.Background(), msgs, func(context.Context, []byte) error { return nil })
	assert.False(t, done)
	assert.Equal(t, 2, ack.acked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, c.drain(ctx, make(chan amqp091.Delivery), nil))
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad")
	err := Permanent(base)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsPermanent(err))
	assert.True(t, IsPermanent(errors.Join(errors.New("ctx"), err)))
	assert.False(t, IsPermanent(base))
}
