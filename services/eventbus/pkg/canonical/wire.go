package canonical

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Shared message layout: exchange=1, symbol=2, timestamp=3, local_timestamp=4.
const (
	fieldExchange       protowire.Number = 1
	fieldSymbol         protowire.Number = 2
	fieldTimestamp      protowire.Number = 3
	fieldLocalTimestamp protowire.Number = 4
)

// Side, BookAction and OptionType enum values shared by both schemas.
const (
	sideUnspecified = 0
	sideBuy         = 1
	sideSell        = 2

	actionUnspecified = 0
	actionUpsert      = 1
	actionDelete      = 2
)

// message appends proto3 fields, skipping default values.
type message struct {
	buf []byte
}

func (m *message) bytes() []byte {
	if m.buf == nil {
		return []byte{}
	}
	return m.buf
}

func (m *message) str(n protowire.Number, s string) {
	if s == "" {
		return
	}
	m.buf = protowire.AppendTag(m.buf, n, protowire.BytesType)
	m.buf = protowire.AppendString(m.buf, s)
}

func (m *message) boolean(n protowire.Number, v bool) {
	if !v {
		return
	}
	m.buf = protowire.AppendTag(m.buf, n, protowire.VarintType)
	m.buf = protowire.AppendVarint(m.buf, protowire.EncodeBool(v))
}

func (m *message) varint(n protowire.Number, v int64) {
	if v == 0 {
		return
	}
	m.buf = protowire.AppendTag(m.buf, n, protowire.VarintType)
	m.buf = protowire.AppendVarint(m.buf, uint64(v))
}

// uvarint always writes v; used for proto3 optional fields.
func (m *message) uvarint(n protowire.Number, v uint64) {
	m.buf = protowire.AppendTag(m.buf, n, protowire.VarintType)
	m.buf = protowire.AppendVarint(m.buf, v)
}

func (m *message) sint(n protowire.Number, v int64) {
	if v == 0 {
		return
	}
	m.buf = protowire.AppendTag(m.buf, n, protowire.VarintType)
	m.buf = protowire.AppendVarint(m.buf, protowire.EncodeZigZag(v))
}

// embed always writes the sub-message, even when empty.
func (m *message) embed(n protowire.Number, sub []byte) {
	m.buf = protowire.AppendTag(m.buf, n, protowire.BytesType)
	m.buf = protowire.AppendBytes(m.buf, sub)
}

// timestamp writes a google.protobuf.Timestamp; the zero time is omitted.
// Seconds are floored so nanos stay within [0, 1e9).
func (m *message) timestamp(n protowire.Number, t time.Time) {
	if t.IsZero() {
		return
	}
	var ts message
	ts.varint(1, t.Unix())
	ts.varint(2, int64(t.Nanosecond()))
	m.embed(n, ts.bytes())
}

func (m *message) header(exchange, symbol string, ts, local time.Time) {
	m.str(fieldExchange, exchange)
	m.str(fieldSymbol, symbol)
	m.timestamp(fieldTimestamp, ts)
	m.timestamp(fieldLocalTimestamp, local)
}
