// Package kafka is the Kafka sink: one sarama SyncProducer per publisher,
// one produce request per batch.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/eventbus/common/backoff"
	"github.com/YaganovValera/eventbus/common/logger"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/sink"
)

var sinkMetrics = struct {
	ConnectAttempts prometheus.Counter
	ConnectErrors   prometheus.Counter
	MessageErrors   prometheus.Counter
}{
	ConnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "kafka_sink", Name: "connect_attempts_total",
		Help: "Kafka producer connect attempts",
	}),
	ConnectErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "kafka_sink", Name: "connect_errors_total",
		Help: "Kafka producer connect errors",
	}),
	MessageErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "kafka_sink", Name: "message_errors_total",
		Help: "Individual messages rejected inside a batch",
	}),
}

var tracer = otel.Tracer("eventbus/sink/kafka")

// ErrNotStarted is returned by Send and Ping before Start.
var ErrNotStarted = errors.New("kafka sink: not started")

// Sink publishes records to the topic named by the destination.
type Sink struct {
	cfg Config
	sc  *sarama.Config
	log *logger.Logger

	mu     sync.Mutex
	client sarama.Client
	prod   sarama.SyncProducer
}

// New validates cfg. Connection happens in Start.
func New(cfg Config, log *logger.Logger) (*Sink, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Sink{cfg: cfg, sc: sc, log: log.Named("kafka-sink")}, nil
}

// NewWithProducer wraps an existing producer, e.g. sarama/mocks. Ping is
// a no-op without a client.
func NewWithProducer(prod sarama.SyncProducer, log *logger.Logger) *Sink {
	return &Sink{prod: prod, log: log.Named("kafka-sink")}
}

// Start connects with back-off. It is a no-op when a producer is present.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prod != nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Connect",
		trace.WithAttributes(attribute.StringSlice("brokers", s.cfg.Brokers)))
	defer span.End()

	var (
		client sarama.Client
		prod   sarama.SyncProducer
	)
	connect := func(ctx context.Context) error {
		sinkMetrics.ConnectAttempts.Inc()
		c, err := sarama.NewClient(s.cfg.Brokers, s.sc)
		if err != nil {
			sinkMetrics.ConnectErrors.Inc()
			return err
		}
		p, err := sarama.NewSyncProducerFromClient(c)
		if err != nil {
			sinkMetrics.ConnectErrors.Inc()
			_ = c.Close()
			return err
		}
		client, prod = c, p
		return nil
	}
	if err := backoff.Execute(ctx, s.cfg.Backoff, s.log, connect); err != nil {
		span.RecordError(err)
		return fmt.Errorf("kafka sink: connect: %w", err)
	}

	s.client = client
	s.prod = otelsarama.WrapSyncProducer(s.sc, prod)
	s.log.Info("kafka producer ready", zap.Strings("brokers", s.cfg.Brokers))
	return nil
}

// Send produces all records in one request. Per-message failures are
// folded into one error.
func (s *Sink) Send(ctx context.Context, topic string, records []canonical.Record) error {
	s.mu.Lock()
	prod := s.prod
	s.mu.Unlock()
	if prod == nil {
		return ErrNotStarted
	}

	msgs := make([]*sarama.ProducerMessage, len(records))
	for i, r := range records {
		msgs[i] = toMessage(topic, r)
	}

	err := prod.SendMessages(msgs)
	if err == nil {
		return nil
	}
	var perrs sarama.ProducerErrors
	if errors.As(err, &perrs) && len(perrs) > 0 {
		sinkMetrics.MessageErrors.Add(float64(len(perrs)))
		return fmt.Errorf("kafka sink: %d of %d messages to %q failed: %w", len(perrs), len(msgs), topic, perrs[0].Err)
	}
	return fmt.Errorf("kafka sink: send to %q: %w", topic, err)
}

func toMessage(topic string, r canonical.Record) *sarama.ProducerMessage {
	hs := sink.Headers(r)
	headers := make([]sarama.RecordHeader, len(hs))
	for i, h := range hs {
		headers[i] = sarama.RecordHeader{Key: []byte(h.Key), Value: []byte(h.Value)}
	}
	return &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(r.Key),
		Value:   sarama.ByteEncoder(r.Payload),
		Headers: headers,
	}
}

// Flush is a no-op: SendMessages returns after the broker acked.
func (s *Sink) Flush(context.Context) error { return nil }

// Ping refreshes cluster metadata.
func (s *Sink) Ping(ctx context.Context) error {
	s.mu.Lock()
	client, prod := s.client, s.prod
	s.mu.Unlock()
	if prod == nil {
		return ErrNotStarted
	}
	if client == nil {
		return nil
	}
	_, span := tracer.Start(ctx, "Ping")
	defer span.End()
	if err := client.RefreshMetadata(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("kafka sink: ping: %w", err)
	}
	return nil
}

// Close closes the producer and the client.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.prod != nil {
		if e := s.prod.Close(); e != nil {
			s.log.Error("producer close failed", zap.Error(e))
			err = e
		}
		s.prod = nil
	}
	if s.client != nil {
		if e := s.client.Close(); e != nil && !errors.Is(e, sarama.ErrClosedClient) {
			s.log.Error("client close failed", zap.Error(e))
			if err == nil {
				err = e
			}
		}
		s.client = nil
	}
	s.log.Info("kafka producer closed")
	return err
}
