// Package redis is the Redis Streams sink: each destination is a stream,
// each record one XADD entry.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"
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
	redisMetrics = struct {
		XAddErrors       prometheus.Counter
		OperationLatency prometheus.Histogram
	}{
		XAddErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus", Subsystem: "redis_sink", Name: "xadd_errors_total",
			Help: "Failed XADD pipelines",
		}),
		OperationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eventbus", Subsystem: "redis_sink", Name: "pipeline_latency_seconds",
			Help:    "Latency of XADD pipelines",
			Buckets: prometheus.DefBuckets,
		}),
	}
	tracer = otel.Tracer("eventbus/sink/redis")
)

// Entry field names.
const (
	FieldKey     = "key"
	FieldPayload = "payload"
	// FieldHeaderPrefix prefixes every header copied into the entry.
	FieldHeaderPrefix = "h:"
)

// Config holds Redis connection parameters.
type Config struct {
	URL string `mapstructure:"url"` // e.g. "redis://host:6379/0"
	// MaxLen trims streams approximately; zero disables trimming.
	MaxLen  int64          `mapstructure:"max_len"`
	Backoff backoff.Config `mapstructure:"backoff"`
}

func (c *Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("redis sink: URL required")
	}
	if c.MaxLen < 0 {
		return fmt.Errorf("redis sink: max_len must be >= 0")
	}
	return nil
}

// Sink appends records to Redis streams.
type Sink struct {
	cfg    Config
	opts   *goredis.Options
	log    *logger.Logger
	mu     sync.Mutex
	client *goredis.Client
}

// New parses the URL. Connection happens in Start.
func New(cfg Config, log *logger.Logger) (*Sink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis sink: parse URL: %w", err)
	}
	return &Sink{cfg: cfg, opts: opts, log: log.Named("redis-sink")}, nil
}

// Start connects and pings with back-off.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	client := goredis.NewClient(s.opts)

	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(attribute.String("addr", s.opts.Addr)))
	defer span.End()
	op := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := backoff.Execute(ctxConn, s.cfg.Backoff, s.log, op); err != nil {
		span.RecordError(err)
		_ = client.Close()
		return fmt.Errorf("redis sink: connect: %w", err)
	}
	s.client = client
	s.log.Info("redis: connected", zap.String("addr", s.opts.Addr))
	return nil
}

func (s *Sink) conn() (*goredis.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, fmt.Errorf("redis sink: not started")
	}
	return s.client, nil
}

// Send issues one XADD per record in a single pipeline.
func (s *Sink) Send(ctx context.Context, stream string, records []canonical.Record) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "XAdd", trace.WithAttributes(
		attribute.String("stream", stream), attribute.Int("records", len(records))))
	defer span.End()

	start := time.Now()
	_, err = client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, r := range records {
			p.XAdd(ctx, &goredis.XAddArgs{
				Stream: stream,
				MaxLen: s.cfg.MaxLen,
				Approx: s.cfg.MaxLen > 0,
				Values: entryValues(r),
			})
		}
		return nil
	})
	if err != nil {
		redisMetrics.XAddErrors.Inc()
		span.RecordError(err)
		s.log.WithContext(ctx).Error("XADD pipeline failed", zap.String("stream", stream), zap.Error(err))
		return fmt.Errorf("redis sink: xadd %q: %w", stream, err)
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return nil
}

func entryValues(r canonical.Record) []any {
	hs := sink.Headers(r)
	vals := make([]any, 0, 4+2*len(hs))
	vals = append(vals, FieldKey, r.Key, FieldPayload, r.Payload)
	for _, h := range hs {
		vals = append(vals, FieldHeaderPrefix+h.Key, h.Value)
	}
	return vals
}

// Flush is a no-op: a pipeline returns after every reply arrived.
func (s *Sink) Flush(context.Context) error { return nil }

// Ping checks the connection.
func (s *Sink) Ping(ctx context.Context) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.log.Info("redis: closed")
	return err
}
