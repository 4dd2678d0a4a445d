// Package amqp is the RabbitMQ sink. The channel runs in confirm mode and
// a batch counts as sent once the broker acked every message.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/eventbus/common/backoff"
	"github.com/YaganovValera/eventbus/common/logger"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/sink"
)

var (
	nacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "amqp_sink", Name: "nacks_total",
		Help: "Messages negatively acknowledged by the broker",
	})
	tracer = otel.Tracer("eventbus/sink/amqp")
)

// ErrNack is returned when the broker refuses a message.
var ErrNack = errors.New("amqp sink: message nacked")

// Confirmation is satisfied by *amqp091.DeferredConfirmation.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Channel is the publishing surface the sink needs.
type Channel interface {
	Publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) (Confirmation, error)
	DeclareQueue(name string) error
	IsClosed() bool
	Close() error
}

// Dialer opens a confirm-mode channel.
type Dialer func(cfg Config) (Channel, error)

type brokerChannel struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

// DefaultDialer connects to RabbitMQ and puts the channel in confirm mode.
func DefaultDialer(cfg Config) (Channel, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &brokerChannel{conn: conn, ch: ch}, nil
}

func (b *brokerChannel) Publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) (Confirmation, error) {
	dc, err := b.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (b *brokerChannel) DeclareQueue(name string) error {
	_, err := b.ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}

func (b *brokerChannel) IsClosed() bool { return b.ch.IsClosed() || b.conn.IsClosed() }

func (b *brokerChannel) Close() error {
	err := b.ch.Close()
	if errors.Is(err, amqp091.ErrClosed) {
		err = nil
	}
	if cerr := b.conn.Close(); err == nil && !errors.Is(cerr, amqp091.ErrClosed) {
		err = cerr
	}
	return err
}

// Sink publishes records to RabbitMQ.
type Sink struct {
	cfg  Config
	dial Dialer
	log  *logger.Logger

	mu       sync.Mutex
	ch       Channel
	declared map[string]struct{}
}

// New validates cfg. A nil dial uses DefaultDialer.
func New(cfg Config, dial Dialer, log *logger.Logger) (*Sink, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if dial == nil {
		dial = DefaultDialer
	}
	return &Sink{cfg: cfg, dial: dial, log: log.Named("amqp-sink"), declared: make(map[string]struct{})}, nil
}

// Start dials with back-off.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		return nil
	}
	return s.connectLocked(ctx)
}

func (s *Sink) connectLocked(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()
	var ch Channel
	op := func(context.Context) error {
		c, err := s.dial(s.cfg)
		if err != nil {
			return err
		}
		ch = c
		return nil
	}
	if err := backoff.Execute(ctx, s.cfg.Backoff, s.log, op); err != nil {
		span.RecordError(err)
		return fmt.Errorf("amqp sink: connect: %w", err)
	}
	s.ch = ch
	s.declared = make(map[string]struct{})
	s.log.Info("amqp: channel ready", zap.String("exchange", s.cfg.Exchange))
	return nil
}

// channel returns a live channel, redialing once if the broker closed it.
func (s *Sink) channel() (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return nil, errors.New("amqp sink: not started")
	}
	if s.ch.IsClosed() {
		s.log.Warn("amqp: channel closed, redialing")
		if err := s.ch.Close(); err != nil {
			s.log.Debug("amqp: close stale channel", zap.Error(err))
		}
		ch, err := s.dial(s.cfg)
		if err != nil {
			return nil, fmt.Errorf("amqp sink: redial: %w", err)
		}
		s.ch = ch
		s.declared = make(map[string]struct{})
	}
	return s.ch, nil
}

func (s *Sink) ensureQueue(ch Channel, name string) error {
	if !s.cfg.DeclareQueues {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.declared[name]; ok {
		return nil
	}
	if err := ch.DeclareQueue(name); err != nil {
		return fmt.Errorf("amqp sink: declare %q: %w", name, err)
	}
	s.declared[name] = struct{}{}
	return nil
}

// Send publishes every record and waits for all confirms.
func (s *Sink) Send(ctx context.Context, routingKey string, records []canonical.Record) error {
	ch, err := s.channel()
	if err != nil {
		return err
	}
	if err := s.ensureQueue(ch, routingKey); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "Publish", trace.WithAttributes(
		attribute.String("routing_key", routingKey), attribute.Int("records", len(records))))
	defer span.End()

	confirms := make([]Confirmation, 0, len(records))
	for _, r := range records {
		c, err := ch.Publish(ctx, s.cfg.Exchange, routingKey, toPublishing(r))
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("amqp sink: publish %q: %w", routingKey, err)
		}
		confirms = append(confirms, c)
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()
	for _, c := range confirms {
		ok, err := c.WaitContext(wctx)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("amqp sink: confirm %q: %w", routingKey, err)
		}
		if !ok {
			nacks.Inc()
			span.RecordError(ErrNack)
			return fmt.Errorf("%w (routing key %q)", ErrNack, routingKey)
		}
	}
	return nil
}

func toPublishing(r canonical.Record) amqp091.Publishing {
	hdr := amqp091.Table{}
	for _, h := range sink.Headers(r) {
		if h.Key == sink.HeaderContentType {
			continue
		}
		hdr[h.Key] = h.Value
	}
	return amqp091.Publishing{
		Headers:       hdr,
		ContentType:   sink.ContentType,
		DeliveryMode:  amqp091.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: r.Key,
		Type:          r.Kind,
		Body:          r.Payload,
	}
}

// Flush is a no-op: Send already waited for confirms.
func (s *Sink) Flush(context.Context) error { return nil }

// Ping reports whether the channel is open.
func (s *Sink) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return errors.New("amqp sink: not started")
	}
	if s.ch.IsClosed() {
		return errors.New("amqp sink: channel closed")
	}
	return nil
}

// Close closes the channel and connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return nil
	}
	err := s.ch.Close()
	s.ch = nil
	s.log.Info("amqp: closed")
	return err
}
