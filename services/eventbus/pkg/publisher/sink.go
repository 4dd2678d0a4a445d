package publisher

import (
	"context"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"
)

// Sink delivers canonical records to one broker technology. A Sink is owned
// by exactly one Publisher and is never called concurrently by it.
type Sink interface {
	// Start establishes the connection. It may be a no-op.
	Start(ctx context.Context) error
	// Send delivers records to destination. It either delivers all records
	// or returns an error; partial failures must be reported as one error.
	Send(ctx context.Context, destination string, records []canonical.Record) error
	// Flush pushes out anything buffered inside the client library.
	Flush(ctx context.Context) error
	// Close releases connection resources.
	Close() error
}

// Pinger is implemented by sinks that can report broker reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Encoder turns one event into zero or more records.
type Encoder interface {
	Encode(ev marketevent.Event, meta marketevent.PublishMeta) []canonical.Record
}
