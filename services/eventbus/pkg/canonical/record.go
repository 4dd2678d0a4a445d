// Package canonical encodes market events into Bronze and Silver canonical
// records. Encoding is total: malformed numbers degrade to zero values and
// unsupported event kinds produce no records.
package canonical

import (
	"fmt"
	"strings"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"
)

// Format selects the canonical record schema.
type Format int

const (
	FormatBronze Format = iota + 1
	FormatSilver
)

func (f Format) String() string {
	switch f {
	case FormatBronze:
		return "bronze"
	case FormatSilver:
		return "silver"
	default:
		return "unknown"
	}
}

// ParseFormat accepts "bronze" or "silver" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bronze":
		return FormatBronze, nil
	case "silver":
		return FormatSilver, nil
	default:
		return 0, fmt.Errorf("canonical: unknown format %q (want bronze or silver)", s)
	}
}

// Record is the unit handed to a sink.
type Record struct {
	Format Format
	Key    string
	// Kind is the payload case (Bronze, camelCase) or record type
	// (Silver, snake_case).
	Kind     string
	DataType string
	// Meta is set for Bronze records only and is shared between the records
	// of one event; it must not be modified.
	Meta    map[string]string
	Payload []byte
}

// KeyFields are the values a record key may be built from.
type KeyFields struct {
	Exchange string
	Symbol   string
	Kind     string
	DataType string
	Source   string
	Origin   string
	Meta     map[string]string
}

// KeyFunc builds a record key.
type KeyFunc func(f *KeyFields) string

// DefaultKey is "exchange|symbol|kind".
func DefaultKey(f *KeyFields) string {
	var b strings.Builder
	b.Grow(len(f.Exchange) + len(f.Symbol) + len(f.Kind) + 2)
	b.WriteString(f.Exchange)
	b.WriteByte('|')
	b.WriteString(f.Symbol)
	b.WriteByte('|')
	b.WriteString(f.Kind)
	return b.String()
}

// Encoder turns events into records of one Format.
type Encoder struct {
	format Format
	key    KeyFunc
}

// NewEncoder returns an Encoder; a nil key uses DefaultKey.
func NewEncoder(format Format, key KeyFunc) *Encoder {
	if key == nil {
		key = DefaultKey
	}
	return &Encoder{format: format, key: key}
}

func (e *Encoder) Format() Format { return e.format }

// Encode returns zero or more records for ev. It never fails.
func (e *Encoder) Encode(ev marketevent.Event, meta marketevent.PublishMeta) []Record {
	if ev == nil {
		return nil
	}
	switch e.format {
	case FormatBronze:
		return e.encodeBronze(ev, meta)
	case FormatSilver:
		return e.encodeSilver(ev, meta)
	default:
		return nil
	}
}

// newRecords wraps payloads of one event into records that share key and meta.
func (e *Encoder) newRecords(ev marketevent.Event, meta marketevent.PublishMeta, recMeta map[string]string, payloads ...[]byte) []Record {
	kind := KindTag(e.format, ev.Kind())
	dt := dataType(ev)
	key := e.key(&KeyFields{
		Exchange: ev.Venue(),
		Symbol:   ev.Instrument(),
		Kind:     kind,
		DataType: dt,
		Source:   meta.Source,
		Origin:   meta.Origin.String(),
		Meta:     recMeta,
	})

	out := make([]Record, len(payloads))
	for i, p := range payloads {
		out[i] = Record{
			Format:   e.format,
			Key:      key,
			Kind:     kind,
			DataType: dt,
			Meta:     recMeta,
			Payload:  p,
		}
	}
	return out
}

func dataType(ev marketevent.Event) string {
	switch e := ev.(type) {
	case marketevent.BookSnapshot:
		if e.Name != "" {
			return e.Name
		}
	case marketevent.TradeBar:
		if e.Name != "" {
			return e.Name
		}
	}
	return ev.Kind().String()
}
