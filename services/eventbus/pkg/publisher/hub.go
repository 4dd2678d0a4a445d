package publisher

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"
)

// Hub fans one event stream out to every configured Publisher. Each
// Publisher keeps its own buffer, worker and broker connection.
type Hub struct {
	pubs []*Publisher
}

// NewHub groups pubs; it does not start them.
func NewHub(pubs ...*Publisher) *Hub {
	return &Hub{pubs: pubs}
}

// Publishers returns the publishers in registration order.
func (h *Hub) Publishers() []*Publisher { return h.pubs }

// Start starts every sink and returns all failures combined.
func (h *Hub) Start(ctx context.Context) error {
	var err error
	for _, p := range h.pubs {
		err = multierr.Append(err, p.Start(ctx))
	}
	return err
}

// Publish hands ev to every publisher.
func (h *Hub) Publish(ev marketevent.Event, meta marketevent.PublishMeta) {
	for _, p := range h.pubs {
		p.Publish(ev, meta)
	}
}

// Flush flushes all publishers concurrently.
func (h *Hub) Flush(ctx context.Context) error {
	return h.each(func(p *Publisher) error { return p.Flush(ctx) })
}

// Close closes all publishers concurrently.
func (h *Hub) Close(ctx context.Context) error {
	return h.each(func(p *Publisher) error { return p.Close(ctx) })
}

// Ping checks every sink that supports it.
func (h *Hub) Ping(ctx context.Context) error {
	var err error
	for _, p := range h.pubs {
		err = multierr.Append(err, p.Ping(ctx))
	}
	return err
}

// Stats returns one entry per publisher in registration order.
func (h *Hub) Stats() []Stats {
	out := make([]Stats, len(h.pubs))
	for i, p := range h.pubs {
		out[i] = p.Stats()
	}
	return out
}

func (h *Hub) each(fn func(p *Publisher) error) error {
	errs := make([]error, len(h.pubs))
	var wg sync.WaitGroup
	for i, p := range h.pubs {
		wg.Add(1)
		go func(i int, p *Publisher) {
			defer wg.Done()
			errs[i] = fn(p)
		}(i, p)
	}
	wg.Wait()
	return multierr.Combine(errs...)
}
