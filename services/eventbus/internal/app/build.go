package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/YaganovValera/eventbus/common/logger"
	"github.com/YaganovValera/eventbus/services/eventbus/internal/config"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/publisher"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/sink/amqp"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/sink/kafka"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/sink/nats"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/sink/redis"
)

// SinkFactory builds the sink of one provider. Sinks must not connect
// before Start.
type SinkFactory func(provider string, cfg *config.Config, log *logger.Logger) (publisher.Sink, error)

// NewSink builds the broker sink for provider.
func NewSink(provider string, cfg *config.Config, log *logger.Logger) (publisher.Sink, error) {
	eb := cfg.EventBus
	switch provider {
	case config.ProviderKafka:
		return kafka.New(eb.Kafka.Sink, log)
	case config.ProviderRedis:
		return redis.New(eb.Redis.Sink, log)
	case config.ProviderNATS:
		return nats.New(eb.NATS.Sink, nil, log)
	case config.ProviderAMQP:
		return amqp.New(eb.AMQP.Sink, nil, log)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// BuildHub creates one publisher per enabled provider. Nothing connects
// until Hub.Start. On error every publisher built so far is closed.
func BuildHub(cfg *config.Config, newSink SinkFactory, log *logger.Logger) (*publisher.Hub, error) {
	if newSink == nil {
		newSink = NewSink
	}
	var (
		pubs []*publisher.Publisher
		errs error
	)
	for _, p := range cfg.Providers() {
		if !p.Enabled {
			continue
		}
		pcfg, enc, err := p.Build()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sink, err := newSink(p.Provider, cfg, log)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("eventbus.%s: %w", p.Provider, err))
			continue
		}
		pub, err := publisher.New(pcfg, enc, sink, log)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		pubs = append(pubs, pub)
	}
	hub := publisher.NewHub(pubs...)
	if errs != nil {
		_ = hub.Close(context.Background())
		return nil, errs
	}
	if len(pubs) == 0 {
		return nil, fmt.Errorf("eventbus: no provider enabled")
	}
	return hub, nil
}
