// Package binance is the realtime Binance WebSocket source. It normalizes
// upstream messages into domain events and hands them to a publisher.
package binance

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/YaganovValera/eventbus/common/logger"
	"github.com/YaganovValera/eventbus/services/eventbus/internal/metrics"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"
)

// SourceName is PublishMeta.Source for every event of this package.
const SourceName = "binance-ws"

// Publisher accepts normalized events; *publisher.Hub satisfies it.
type Publisher interface {
	Publish(ev marketevent.Event, meta marketevent.PublishMeta)
}

// Streamer yields raw messages until ctx is done.
type Streamer interface {
	Stream(ctx context.Context) (<-chan RawMessage, error)
}

// Source pumps a Streamer into a Publisher.
type Source struct {
	stream Streamer
	pub    Publisher
	log    *logger.Logger
	now    func() time.Time
}

func NewSource(stream Streamer, pub Publisher, log *logger.Logger) *Source {
	return &Source{stream: stream, pub: pub, log: log.Named("binance-source"), now: time.Now}
}

// Run blocks until ctx is done or the stream closes.
func (s *Source) Run(ctx context.Context) error {
	ch, err := s.stream.Stream(ctx)
	if err != nil {
		return err
	}
	tracer := otel.Tracer("eventbus/source/binance")
	for raw := range ch {
		recv := s.now().UTC()
		_, span := tracer.Start(ctx, "Normalize")
		events, err := Normalize(raw, recv)
		if err != nil {
			span.RecordError(err)
			span.End()
			metrics.ParseErrors.Inc()
			s.log.WithContext(ctx).Warn("normalize failed",
				zap.String("type", raw.Type),
				zap.ByteString("raw", raw.Data),
				zap.Error(err),
			)
			s.publish(marketevent.ControlError{
				Exchange:       Exchange,
				LocalTimestamp: recv,
				Message:        "failed to normalize " + raw.Type + " message",
				Details:        err.Error(),
			}, recv)
			continue
		}
		span.End()
		for _, ev := range events {
			s.publish(ev, recv)
		}
	}
	return ctx.Err()
}

func (s *Source) publish(ev marketevent.Event, recv time.Time) {
	metrics.NormalizedTotal.WithLabelValues(ev.Kind().String()).Inc()
	s.pub.Publish(ev, marketevent.PublishMeta{
		Source:     SourceName,
		Origin:     marketevent.OriginRealtime,
		IngestTime: recv,
	})
}
