// Package nats is the NATS core sink: destinations are subjects.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
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

var (
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus", Subsystem: "nats_sink", Name: "publish_errors_total",
		Help: "Failed NATS publishes and flushes",
	})
	tracer = otel.Tracer("eventbus/sink/nats")
)

// HeaderKey carries the record key; NATS core messages have no key.
const HeaderKey = "key"

// Conn is the subset of *nats.Conn the sink uses.
type Conn interface {
	PublishMsg(m *natsgo.Msg) error
	FlushWithContext(ctx context.Context) error
	Status() natsgo.Status
	Close()
}

// Dialer opens a connection.
type Dialer func(cfg Config) (Conn, error)

// Config holds NATS connection parameters.
type Config struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
	// FlushTimeout bounds the server round-trip after each batch.
	FlushTimeout time.Duration  `mapstructure:"flush_timeout"`
	Backoff      backoff.Config `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "eventbus"
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
}

func (c Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats sink: URL required")
	}
	return nil
}

// DefaultDialer connects with nats.Connect.
func DefaultDialer(cfg Config) (Conn, error) {
	return natsgo.Connect(cfg.URL,
		natsgo.Name(cfg.Name),
		natsgo.MaxReconnects(-1),
	)
}

// Sink publishes records as NATS messages.
type Sink struct {
	cfg  Config
	dial Dialer
	log  *logger.Logger

	mu   sync.Mutex
	conn Conn
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
	return &Sink{cfg: cfg, dial: dial, log: log.Named("nats-sink")}, nil
}

// Start dials with back-off.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "Connect", trace.WithAttributes(attribute.String("url", s.cfg.URL)))
	defer span.End()

	var conn Conn
	op := func(context.Context) error {
		c, err := s.dial(s.cfg)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Execute(ctx, s.cfg.Backoff, s.log, op); err != nil {
		span.RecordError(err)
		return fmt.Errorf("nats sink: connect: %w", err)
	}
	s.conn = conn
	s.log.Info("nats: connected", zap.String("url", s.cfg.URL))
	return nil
}

func (s *Sink) current() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, errors.New("nats sink: not started")
	}
	return s.conn, nil
}

// Send publishes every record then flushes, so a nil return means the
// server has received the batch.
func (s *Sink) Send(ctx context.Context, subject string, records []canonical.Record) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "Publish", trace.WithAttributes(
		attribute.String("subject", subject), attribute.Int("records", len(records))))
	defer span.End()

	for _, r := range records {
		if err := conn.PublishMsg(toMsg(subject, r)); err != nil {
			publishErrors.Inc()
			span.RecordError(err)
			return fmt.Errorf("nats sink: publish %q: %w", subject, err)
		}
	}
	if err := s.flush(ctx, conn); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func toMsg(subject string, r canonical.Record) *natsgo.Msg {
	hdr := natsgo.Header{}
	hdr.Set(HeaderKey, r.Key)
	for _, h := range sink.Headers(r) {
		hdr.Set(h.Key, h.Value)
	}
	return &natsgo.Msg{Subject: subject, Header: hdr, Data: r.Payload}
}

func (s *Sink) flush(ctx context.Context, conn Conn) error {
	// FlushWithContext rejects contexts without a deadline.
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
	defer cancel()
	if err := conn.FlushWithContext(fctx); err != nil {
		publishErrors.Inc()
		return fmt.Errorf("nats sink: flush: %w", err)
	}
	return nil
}

// Flush waits for the server to process everything published so far.
func (s *Sink) Flush(ctx context.Context) error {
	conn, err := s.current()
	if err != nil {
		return nil
	}
	return s.flush(ctx, conn)
}

// Ping reports whether the connection is up.
func (s *Sink) Ping(context.Context) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	if st := conn.Status(); st != natsgo.CONNECTED {
		return fmt.Errorf("nats sink: status %s", st)
	}
	return nil
}

// Close closes the connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.log.Info("nats: closed")
	}
	return nil
}
