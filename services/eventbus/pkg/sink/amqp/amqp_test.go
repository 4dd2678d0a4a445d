package amqp

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/eventbus/common/logger"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
)

type fakeConfirm struct {
	ack bool
	err error
}

func (c fakeConfirm) WaitContext(context.Context) (bool, error) { return c.ack, c.err }

type published struct {
	exchange, key string
	msg           amqp091.Publishing
}

type fakeChannel struct {
	mu       sync.Mutex
	pubs     []published
	declared []string
	nackAt   int // 1-based; 0 disables
	closed   bool
	closes   int
}

func (f *fakeChannel) Publish(_ context.Context, exchange, key string, msg amqp091.Publishing) (Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, published{exchange, key, msg})
	return fakeConfirm{ack: len(f.pubs) != f.nackAt}, nil
}

func (f *fakeChannel) DeclareQueue(name string) error {
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeChannel) IsClosed() bool { return f.closed }

func (f *fakeChannel) Close() error {
	f.closed = true
	f.closes++
	return nil
}

func recs(n int) []canonical.Record {
	out := make([]canonical.Record, n)
	for i := range out {
		out[i] = canonical.Record{
			Format: canonical.FormatBronze, Key: "binance|ethusdt|trade",
			Kind: "trade", DataType: "trade", Payload: []byte{byte(i)},
		}
	}
	return out
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{}, nil, logger.NewNop())
	assert.Error(t, err)
	_, err = New(Config{URL: "amqp://x", Exchange: "md", DeclareQueues: true}, nil, logger.NewNop())
	assert.Error(t, err)
	_, err = New(Config{URL: "amqp://x", Exchange: "md"}, nil, logger.NewNop())
	assert.NoError(t, err)
}

func TestSend_PublishesWithConfirms(t *testing.T) {
	fc := &fakeChannel{}
	s, err := New(Config{URL: "amqp://x", DeclareQueues: true}, func(Config) (Channel, error) { return fc, nil }, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Send(context.Background(), "md.trades", recs(3)))
	require.NoError(t, s.Send(context.Background(), "md.trades", recs(1)))

	assert.Equal(t, []string{"md.trades"}, fc.declared, "queue declared once")
	require.Len(t, fc.pubs, 4)
	p := fc.pubs[0]
	assert.Equal(t, "", p.exchange)
	assert.Equal(t, "md.trades", p.key)
	assert.Equal(t, amqp091.Persistent, p.msg.DeliveryMode)
	assert.NotEmpty(t, p.msg.MessageId)
	assert.NotEqual(t, p.msg.MessageId, fc.pubs[1].msg.MessageId)
	assert.Equal(t, "binance|ethusdt|trade", p.msg.CorrelationId)
	assert.Equal(t, "trade", p.msg.Headers["kind"])
	assert.Equal(t, "bronze", p.msg.Headers["format"])
	assert.Equal(t, []byte{2}, fc.pubs[2].msg.Body)
}

func TestSend_NackFailsBatch(t *testing.T) {
	fc := &fakeChannel{nackAt: 2}
	s, err := New(Config{URL: "amqp://x"}, func(Config) (Channel, error) { return fc, nil }, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	err = s.Send(context.Background(), "q", recs(3))
	assert.True(t, errors.Is(err, ErrNack), "got %v", err)
}

func TestSend_RedialsClosedChannel(t *testing.T) {
	first := &fakeChannel{}
	second := &fakeChannel{}
	dials := 0
	dial := func(Config) (Channel, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}
	s, err := New(Config{URL: "amqp://x"}, dial, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	first.closed = true
	assert.Error(t, s.Ping(context.Background()))
	require.NoError(t, s.Send(context.Background(), "q", recs(1)))
	assert.Len(t, second.pubs, 1)
	assert.Equal(t, 1, first.closes, "stale channel released on redial")
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
	assert.True(t, second.closed)
}
