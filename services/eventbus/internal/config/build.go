package config

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/keytemplate"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/publisher"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/routing"
)

// Build turns a publishing block into the immutable publisher config and
// its encoder. All invalid settings are reported together.
func (p NamedPublishing) Build() (publisher.Config, *canonical.Encoder, error) {
	wrap := func(err error) error {
		return fmt.Errorf("eventbus.%s: %w", p.Provider, err)
	}

	format, err := canonical.ParseFormat(p.Format)
	if err != nil {
		return publisher.Config{}, nil, wrap(err)
	}

	var errs error
	key := canonical.KeyFunc(canonical.DefaultKey)
	if p.KeyTemplate != "" {
		if key, err = keytemplate.Compile(p.KeyTemplate, format); err != nil {
			errs = multierr.Append(errs, wrap(err))
		}
	}
	overrides, err := routing.ParseDestinationOverrides(p.DestinationByKind, format)
	if err != nil {
		errs = multierr.Append(errs, wrap(err))
	}
	include, err := routing.ParseKindList(p.IncludeKinds, format)
	if err != nil {
		errs = multierr.Append(errs, wrap(err))
	}
	if strings.TrimSpace(p.Destination) == "" {
		errs = multierr.Append(errs, wrap(fmt.Errorf("destination is required")))
	}
	if p.MaxBatchSize < 0 {
		errs = multierr.Append(errs, wrap(fmt.Errorf("max_batch_size must be >= 0")))
	}
	if p.Retry.MaxAttempts < 0 {
		errs = multierr.Append(errs, wrap(fmt.Errorf("retry.max_attempts must be >= 0")))
	}
	if errs != nil {
		return publisher.Config{}, nil, errs
	}

	table, err := routing.NewTable(p.Destination, overrides)
	if err != nil {
		return publisher.Config{}, nil, wrap(err)
	}
	cfg := publisher.Config{
		Provider:      p.Provider,
		MaxBatchSize:  p.MaxBatchSize,
		MaxBatchDelay: p.MaxBatchDelay,
		Routing:       table,
		Filter:        routing.NewFilter(include),
		Retry: publisher.RetryPolicy{
			MaxAttempts: p.Retry.MaxAttempts,
			Step:        p.Retry.Step,
			Max:         p.Retry.Max,
		},
	}
	return cfg, canonical.NewEncoder(format, key), nil
}
