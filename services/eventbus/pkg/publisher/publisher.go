// Package publisher implements the batching, retrying, at-least-once
// delivery engine that moves canonical records from Publish calls to a Sink.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/YaganovValera/eventbus/common/backoff"
	"github.com/YaganovValera/eventbus/common/logger"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/routing"
)

// State of a Publisher. Transitions only go forward.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Stats is a point-in-time view of a Publisher.
type Stats struct {
	Provider string `json:"provider"`
	State    string `json:"state"`
	Buffered int    `json:"buffered"`
}

type flushJob struct {
	ctx context.Context
	res chan error
}

// Publisher buffers records and sends them in order from a single worker
// goroutine. Publish never blocks on the network.
type Publisher struct {
	cfg    Config
	enc    Encoder
	sink   Sink
	log    *logger.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	buf      []canonical.Record
	state    State
	timer    *time.Timer
	timerGen uint64

	kick chan struct{} // coalesced async flush requests
	jobs chan flushJob
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	startErr  error
	closeOnce sync.Once
	closeErr  error // written by the worker before done is closed
}

// New validates cfg and starts the send worker. The sink is not connected
// until Start.
func New(cfg Config, enc Encoder, sink Sink, log *logger.Logger) (*Publisher, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if enc == nil || sink == nil {
		return nil, fmt.Errorf("publisher: %s: encoder and sink are required", cfg.Provider)
	}

	p := &Publisher{
		cfg:    cfg,
		enc:    enc,
		sink:   sink,
		log:    log.Named("publisher").With(zap.String("provider", cfg.Provider)),
		tracer: otel.Tracer("eventbus/publisher"),
		kick:   make(chan struct{}, 1),
		jobs:   make(chan flushJob),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Provider returns the configured provider label.
func (p *Publisher) Provider() string { return p.cfg.Provider }

// Start connects the sink. Repeated calls return the first result.
func (p *Publisher) Start(ctx context.Context) error {
	p.startOnce.Do(func() {
		if err := p.sink.Start(ctx); err != nil {
			p.startErr = fmt.Errorf("publisher: %s: start sink: %w", p.cfg.Provider, err)
			return
		}
		p.log.Info("sink started",
			zap.Strings("destinations", p.cfg.Routing.Destinations()),
			zap.Int("max_batch_size", p.cfg.MaxBatchSize),
			zap.Duration("max_batch_delay", p.cfg.MaxBatchDelay),
		)
	})
	return p.startErr
}

// Publish encodes ev, drops kinds outside the allow-list and appends the
// rest to the buffer. It is a no-op once Close has been called.
func (p *Publisher) Publish(ev marketevent.Event, meta marketevent.PublishMeta) {
	recs := p.enc.Encode(ev, meta)
	if len(recs) == 0 {
		return
	}
	if p.cfg.Filter != nil {
		kept := recs[:0]
		for _, r := range recs {
			if p.cfg.Filter.Allows(r.Kind) {
				kept = append(kept, r)
			}
		}
		if dropped := len(recs) - len(kept); dropped > 0 {
			metrics.Filtered.WithLabelValues(p.cfg.Provider).Add(float64(dropped))
		}
		recs = kept
		if len(recs) == 0 {
			return
		}
	}

	p.mu.Lock()
	if p.state != StateOpen {
		p.mu.Unlock()
		return
	}
	p.buf = append(p.buf, recs...)
	n := len(p.buf)
	if n >= p.cfg.MaxBatchSize {
		p.cancelTimerLocked()
		p.signal()
	} else if p.timer == nil {
		p.armTimerLocked()
	}
	metrics.Buffered.WithLabelValues(p.cfg.Provider).Set(float64(n))
	p.mu.Unlock()

	metrics.Accepted.WithLabelValues(p.cfg.Provider).Add(float64(len(recs)))
}

// Flush sends everything buffered so far and waits for the result. On
// failure the unsent records are back in the buffer and the first error is
// returned. Cancelling ctx stops the wait, not the send.
func (p *Publisher) Flush(ctx context.Context) error {
	job := flushJob{ctx: ctx, res: make(chan error, 1)}
	select {
	case p.jobs <- job:
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records and hands the final drain to the worker,
// which flushes the buffer, then flushes and closes the sink. ctx bounds
// only the wait: the drain runs to completion even when ctx ends first.
// Every call returns the drain result once it is available.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = StateClosing
		p.cancelTimerLocked()
		pending := len(p.buf)
		p.mu.Unlock()
		p.log.Info("closing", zap.Int("buffered", pending))
		close(p.stop)
	})
	select {
	case <-p.done:
		return p.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reports sink reachability when the sink supports it.
func (p *Publisher) Ping(ctx context.Context) error {
	if pg, ok := p.sink.(Pinger); ok {
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", p.cfg.Provider, err)
		}
	}
	return nil
}

// State returns the lifecycle state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Pending returns the number of buffered records.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Stats returns the provider, state and buffer depth.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Provider: p.cfg.Provider, State: p.state.String(), Buffered: len(p.buf)}
}

// -----------------------------------------------------------------------------
// Scheduling
// -----------------------------------------------------------------------------

func (p *Publisher) signal() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Publisher) armTimerLocked() {
	p.timerGen++
	gen := p.timerGen
	p.timer = time.AfterFunc(p.cfg.MaxBatchDelay, func() { p.onTimer(gen) })
}

func (p *Publisher) cancelTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerGen++
}

func (p *Publisher) onTimer(gen uint64) {
	p.mu.Lock()
	if gen != p.timerGen || p.timer == nil {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.mu.Unlock()
	p.signal()
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			p.closeErr = p.drain()
			return
		case <-p.kick:
			_ = p.flush(context.Background())
		case job := <-p.jobs:
			job.res <- p.flush(job.ctx)
		}
	}
}

// drain is the last thing the worker does, so no Send overlaps the sink
// Flush and Close that follow the final flush.
func (p *Publisher) drain() error {
	ctx := context.Background()
	flushErr := p.flush(ctx)
	if flushErr != nil {
		p.log.Error("final flush failed", zap.Error(flushErr))
	}
	sinkFlushErr := p.sink.Flush(ctx)
	sinkCloseErr := p.sink.Close()

	p.mu.Lock()
	p.state = StateClosed
	left := len(p.buf)
	p.mu.Unlock()
	if left > 0 {
		p.log.Error("closed with undelivered records", zap.Int("records", left))
	} else {
		p.log.Info("closed")
	}
	return multierr.Combine(flushErr, sinkFlushErr, sinkCloseErr)
}

// -----------------------------------------------------------------------------
// Delivery
// -----------------------------------------------------------------------------

// flush runs on the worker only. It drains the buffer at execution time so
// a requeue from an earlier flush is always sent before newer records.
func (p *Publisher) flush(ctx context.Context) error {
	p.mu.Lock()
	p.cancelTimerLocked()
	batch := p.buf
	p.buf = nil
	metrics.Buffered.WithLabelValues(p.cfg.Provider).Set(0)
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	// sends are not cancelled midway; ctx only carries trace data
	ctx, span := p.tracer.Start(context.WithoutCancel(ctx), "publisher.Flush",
		trace.WithAttributes(
			attribute.String("provider", p.cfg.Provider),
			attribute.Int("records", len(batch)),
		))
	defer span.End()

	size := p.cfg.MaxBatchSize
	chunks := 0
	for start := 0; start < len(batch); start += size {
		end := min(start+size, len(batch))
		chunks++

		undelivered, serr := p.sendChunk(ctx, batch[start:end])
		if serr != nil {
			rest := make([]canonical.Record, 0, len(undelivered)+len(batch)-end)
			rest = append(rest, undelivered...)
			rest = append(rest, batch[end:]...)
			serr.Requeued = len(rest)
			p.requeue(rest)

			p.log.Error("flush aborted, records requeued",
				zap.String("destination", serr.Destination),
				zap.Int("attempts", serr.Attempts),
				zap.Int("requeued", serr.Requeued),
				zap.Error(serr.Err),
			)
			span.RecordError(serr)
			span.SetStatus(codes.Error, "send failed")
			return serr
		}
	}

	p.log.Debug("flush complete", zap.Int("records", len(batch)), zap.Int("chunks", chunks))
	return nil
}

// sendChunk sends each destination group of chunk. On failure it returns
// the records of the failed group and of every later group, in chunk order.
func (p *Publisher) sendChunk(ctx context.Context, chunk []canonical.Record) ([]canonical.Record, *SendError) {
	groups := p.cfg.Routing.Group(chunk)
	for i, g := range groups {
		attempts, err := p.sendWithRetry(ctx, g)
		if err == nil {
			continue
		}

		failed := make(map[string]struct{}, len(groups)-i)
		for _, fg := range groups[i:] {
			failed[fg.Destination] = struct{}{}
		}
		undelivered := make([]canonical.Record, 0, len(chunk))
		for _, r := range chunk {
			if _, ok := failed[p.cfg.Routing.Resolve(r.Kind)]; ok {
				undelivered = append(undelivered, r)
			}
		}
		return undelivered, &SendError{
			Provider:    p.cfg.Provider,
			Destination: g.Destination,
			Attempts:    attempts,
			Err:         err,
		}
	}
	return nil, nil
}

func (p *Publisher) sendWithRetry(ctx context.Context, g routing.Group) (int, error) {
	ctx, span := p.tracer.Start(ctx, "publisher.Send",
		trace.WithAttributes(
			attribute.String("destination", g.Destination),
			attribute.Int("records", len(g.Records)),
		))
	defer span.End()

	attempts := 0
	start := time.Now()
	err := backoff.Retry(ctx,
		backoff.NewLinear(p.cfg.Retry.Step, p.cfg.Retry.Max),
		p.cfg.Retry.MaxAttempts,
		p.log,
		func(ctx context.Context) error {
			attempts++
			return p.sink.Send(ctx, g.Destination, g.Records)
		},
		func(err error, delay time.Duration, attempt int) {
			metrics.Retries.WithLabelValues(p.cfg.Provider).Inc()
			span.AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("error", err.Error()),
			))
		},
	)
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err != nil {
		metrics.Failures.WithLabelValues(p.cfg.Provider, g.Destination).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		var maxErr *backoff.ErrMaxRetries
		if errors.As(err, &maxErr) {
			err = maxErr.Err
		}
		return attempts, err
	}

	metrics.SendDelay.WithLabelValues(p.cfg.Provider).Observe(time.Since(start).Seconds())
	metrics.Batches.WithLabelValues(p.cfg.Provider, g.Destination).Inc()
	metrics.Sent.WithLabelValues(p.cfg.Provider, g.Destination).Add(float64(len(g.Records)))
	return attempts, nil
}

// requeue puts records back at the buffer front. A later flush is only
// scheduled while the publisher is open.
func (p *Publisher) requeue(records []canonical.Record) {
	p.mu.Lock()
	merged := make([]canonical.Record, 0, len(records)+len(p.buf))
	merged = append(merged, records...)
	merged = append(merged, p.buf...)
	p.buf = merged
	n := len(p.buf)
	open := p.state == StateOpen
	if open && p.timer == nil {
		p.armTimerLocked()
	}
	metrics.Buffered.WithLabelValues(p.cfg.Provider).Set(float64(n))
	p.mu.Unlock()

	metrics.Requeued.WithLabelValues(p.cfg.Provider).Add(float64(len(records)))
	if !open {
		p.log.Warn("not open, requeued records wait for an explicit flush", zap.Int("buffered", n))
	}
}
