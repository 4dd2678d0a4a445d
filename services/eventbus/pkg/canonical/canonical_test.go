package canonical

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"
)

var (
	ts0  = time.Date(2024, 3, 1, 12, 0, 0, 123_456_789, time.UTC)
	hdr  = marketevent.Header{Exchange: "binance", Symbol: "btcusdt", Timestamp: ts0, LocalTimestamp: ts0.Add(time.Millisecond)}
	meta = marketevent.PublishMeta{
		Source:     "replay-http",
		Origin:     marketevent.OriginReplay,
		IngestTime: ts0,
		RequestID:  "req-1",
		Extra:      map[string]string{"session": "s1", "origin": "spoofed"},
	}
)

func TestTradeExample(t *testing.T) {
	trade := marketevent.Trade{Header: hdr, ID: "42", Price: 31250.25, Amount: 0.75, Side: marketevent.SideBuy}

	bronze := NewEncoder(FormatBronze, nil).Encode(trade, meta)
	require.Len(t, bronze, 1)
	b := decode(t, bronze[0].Payload)
	assert.Equal(t, "31250.25", b.str(6))
	assert.Equal(t, "0.75", b.str(7))
	assert.Equal(t, uint64(sideBuy), b.uint(8))
	assert.Equal(t, "binance|btcusdt|trade", bronze[0].Key)
	assert.Equal(t, "trade", bronze[0].Kind)
	assert.Equal(t, "trade", bronze[0].DataType)

	silver := NewEncoder(FormatSilver, nil).Encode(trade, meta)
	require.Len(t, silver, 1)
	s := decode(t, silver[0].Payload)
	assert.Equal(t, int64(3125025000000), s.sint(6))
	assert.Equal(t, int64(75000000), s.sint(7))
	assert.Nil(t, silver[0].Meta)
}

func TestBookChangeFanOut(t *testing.T) {
	bc := marketevent.BookChange{
		Header: hdr,
		Bids:   []marketevent.BookLevel{{Price: 2500, Amount: 10}, {Price: 2499.5, Amount: 0}},
		Asks:   []marketevent.BookLevel{{Price: 2500.5, Amount: 8}},
	}
	recs := NewEncoder(FormatBronze, nil).Encode(bc, meta)
	require.Len(t, recs, 3)

	want := []struct {
		side, action uint64
		price        string
	}{
		{sideBuy, actionUpsert, "2500"},
		{sideBuy, actionDelete, "2499.5"},
		{sideSell, actionUpsert, "2500.5"},
	}
	for i, w := range want {
		f := decode(t, recs[i].Payload)
		assert.Equal(t, w.side, f.uint(6), "record %d side", i)
		assert.Equal(t, w.action, f.uint(7), "record %d action", i)
		assert.Equal(t, w.price, f.str(8), "record %d price", i)
		assert.Equal(t, "bookChange", recs[i].Kind)
		assert.Equal(t, "binance|btcusdt|bookChange", recs[i].Key)
	}

	silver := NewEncoder(FormatSilver, nil).Encode(bc, meta)
	require.Len(t, silver, 3)
	assert.Equal(t, "book_change", silver[0].Kind)
}

func TestBookChangeSentinel(t *testing.T) {
	bc := marketevent.BookChange{Header: hdr}
	for _, format := range []Format{FormatBronze, FormatSilver} {
		recs := NewEncoder(format, nil).Encode(bc, meta)
		require.Len(t, recs, 1, format.String())
		f := decode(t, recs[0].Payload)
		assert.False(t, f.has(6), "%s: side must be UNSPECIFIED", format)
		assert.False(t, f.has(7), "%s: action must be UNSPECIFIED", format)
		if format == FormatBronze {
			assert.Equal(t, "0", f.str(8))
			assert.Equal(t, "0", f.str(9))
		} else {
			assert.Equal(t, int64(0), f.sint(8))
			assert.Equal(t, int64(0), f.sint(9))
		}
	}
}

func TestNonFiniteCoercion(t *testing.T) {
	trade := marketevent.Trade{Header: hdr, Price: math.NaN(), Amount: math.Inf(1)}
	b := decode(t, NewEncoder(FormatBronze, nil).Encode(trade, meta)[0].Payload)
	assert.Equal(t, "0", b.str(6))
	assert.Equal(t, "0", b.str(7))

	s := decode(t, NewEncoder(FormatSilver, nil).Encode(trade, meta)[0].Payload)
	assert.False(t, s.has(6))
	assert.False(t, s.has(7))

	q := marketevent.Quote{Header: hdr, BidPrice: 100, BidAmount: 1, AskPrice: math.NaN(), AskAmount: math.NaN()}
	qf := decode(t, NewEncoder(FormatBronze, nil).Encode(q, meta)[0].Payload)
	assert.Equal(t, "100", qf.str(5))
	assert.False(t, qf.has(7), "optional Bronze field should be empty")

	dt := marketevent.DerivativeTicker{Header: hdr, FundingRate: math.Inf(-1), MarkPrice: 10}
	df := decode(t, NewEncoder(FormatSilver, nil).Encode(dt, meta)[0].Payload)
	assert.False(t, df.has(7))
	assert.Equal(t, int64(10_0000_0000), df.sint(9))
}

func TestTimestamp(t *testing.T) {
	trade := marketevent.Trade{Header: hdr, Price: 1, Amount: 1}
	f := decode(t, NewEncoder(FormatBronze, nil).Encode(trade, meta)[0].Payload)
	require.True(t, f.has(fieldTimestamp))
	ts := decode(t, f[fieldTimestamp][0].b)
	assert.Equal(t, uint64(ts0.Unix()), ts.uint(1))
	assert.Equal(t, uint64(123_456_789), ts.uint(2))

	pre := time.UnixMilli(-1500).UTC()
	f = decode(t, NewEncoder(FormatBronze, nil).Encode(marketevent.Trade{Header: marketevent.Header{Timestamp: pre}}, meta)[0].Payload)
	ts = decode(t, f[fieldTimestamp][0].b)
	assert.Equal(t, int64(-2), int64(ts.uint(1)))
	assert.Equal(t, uint64(500_000_000), ts.uint(2))

	f = decode(t, NewEncoder(FormatBronze, nil).Encode(marketevent.Trade{}, meta)[0].Payload)
	assert.False(t, f.has(fieldTimestamp), "zero time must be omitted")
}

func TestBronzeMeta(t *testing.T) {
	recs := NewEncoder(FormatBronze, nil).Encode(marketevent.Trade{Header: hdr}, meta)
	require.Len(t, recs, 1)
	m := recs[0].Meta
	assert.Equal(t, "replay-http", m[MetaSource])
	assert.Equal(t, "replay", m[MetaOrigin])
	assert.Equal(t, "req-1", m[MetaRequestID])
	assert.Equal(t, "2024-03-01T12:00:00.123456789Z", m[MetaIngestTime])
	assert.Equal(t, "s1", m["session"])
}

func TestSilverSkipsControl(t *testing.T) {
	enc := NewEncoder(FormatSilver, nil)
	assert.Empty(t, enc.Encode(marketevent.Disconnect{Exchange: "binance"}, meta))
	assert.Empty(t, enc.Encode(marketevent.ControlError{Exchange: "binance", Message: "x"}, meta))

	bronze := NewEncoder(FormatBronze, nil)
	d := bronze.Encode(marketevent.Disconnect{Exchange: "binance", LocalTimestamp: ts0}, meta)
	require.Len(t, d, 1)
	assert.Equal(t, "binance||disconnect", d[0].Key)
	e := bronze.Encode(marketevent.ControlError{Exchange: "binance", Message: "boom"}, meta)
	require.Len(t, e, 1)
	assert.Equal(t, "error", e[0].Kind)
	assert.Equal(t, "boom", decode(t, e[0].Payload).str(5))
}

func TestNilEventAndUnknownFormat(t *testing.T) {
	assert.Nil(t, NewEncoder(FormatBronze, nil).Encode(nil, meta))
	assert.Nil(t, NewEncoder(Format(0), nil).Encode(marketevent.Trade{}, meta))
}

func TestSilverSnapshot(t *testing.T) {
	off := false
	group := 0.5
	snap := marketevent.BookSnapshot{
		Header:   hdr,
		Name:     "book_snapshot_2_100ms",
		Depth:    2,
		Interval: 100 * time.Millisecond,
		Bids:     []marketevent.BookLevel{{Price: 100.5, Amount: 2}},
		Asks:     []marketevent.BookLevel{{Price: 101, Amount: 1}, {Price: 102, Amount: 3}},
		Sequence: "12345",
	}
	enc := NewEncoder(FormatSilver, nil)

	recs := enc.Encode(snap, meta)
	require.Len(t, recs, 1)
	assert.Equal(t, "book_snapshot", recs[0].Kind)
	assert.Equal(t, "book_snapshot_2_100ms", recs[0].DataType)
	f := decode(t, recs[0].Payload)
	assert.Len(t, f[8], 1)
	assert.Len(t, f[9], 2)
	assert.Equal(t, uint64(1), f.uint(10), "removeCrossedLevels defaults to true")
	assert.Equal(t, uint64(12345), f.uint(11))
	assert.Equal(t, uint64(100), f.uint(7))
	lvl := decode(t, f[8][0].b)
	assert.Equal(t, int64(10050000000), lvl.sint(1))

	snap.RemoveCrossedLevels = &off
	snap.Grouping = &group
	snap.Sequence = "not-a-number"
	recs = enc.Encode(snap, meta)
	require.Len(t, recs, 1)
	assert.Equal(t, "grouped_book_snapshot", recs[0].Kind)
	f = decode(t, recs[0].Payload)
	assert.False(t, f.has(10))
	assert.False(t, f.has(11), "unparsable sequence is dropped")
	assert.Equal(t, int64(50000000), f.sint(12))

	bronze := NewEncoder(FormatBronze, nil).Encode(snap, meta)
	require.Len(t, bronze, 1)
	assert.Equal(t, "groupedBookSnapshot", bronze[0].Kind)
	assert.Equal(t, "0.5", decode(t, bronze[0].Payload).str(10))
}

func TestParseSequence(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	tests := []struct {
		in   any
		want uint64
		ok   bool
	}{
		{nil, 0, false},
		{7, 7, true},
		{-1, 0, false},
		{int64(8), 8, true},
		{uint64(math.MaxUint64), math.MaxUint64, true},
		{big.NewInt(9), 9, true},
		{huge, 0, false},
		{"10", 10, true},
		{" 11 ", 11, true},
		{"abc", 0, false},
		{json.Number("12"), 12, true},
		{json.Number("1.5"), 0, false},
		{float64(13), 13, true},
		{1.5, 0, false},
		{struct{}{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseSequence(tt.in)
		assert.Equal(t, tt.ok, ok, "%#v", tt.in)
		assert.Equal(t, tt.want, got, "%#v", tt.in)
	}
}

func TestOptionSummaryScales(t *testing.T) {
	o := marketevent.OptionSummary{
		Header: hdr, OptionType: marketevent.OptionTypeCall, StrikePrice: 60000,
		MarkIV: 0.6512, Delta: 0.123456789, BestBidIV: math.NaN(),
		BestAskPrice: 0.0123, UnderlyingIndex: "BTC-USD",
	}
	f := decode(t, NewEncoder(FormatSilver, nil).Encode(o, meta)[0].Payload)
	assert.Equal(t, uint64(2), f.uint(5))
	assert.Equal(t, int64(6000000000000), f.sint(6))
	assert.Equal(t, int64(651200), f.sint(17))
	assert.Equal(t, int64(123456789), f.sint(18))
	assert.False(t, f.has(10))
	assert.Equal(t, int64(1230000), f.sint(11))
	assert.Equal(t, "BTC-USD", f.str(24))
}

func TestCustomKeyFunc(t *testing.T) {
	enc := NewEncoder(FormatSilver, func(f *KeyFields) string { return f.Kind + "/" + f.Origin })
	recs := enc.Encode(marketevent.Trade{Header: hdr}, meta)
	require.Len(t, recs, 1)
	assert.Equal(t, "trade/replay", recs[0].Key)
}

func TestKindTags(t *testing.T) {
	assert.Len(t, KindTags(FormatBronze), 12)
	assert.Len(t, KindTags(FormatSilver), 10)
	assert.NotContains(t, KindTags(FormatSilver), "disconnect")
	assert.Equal(t, "derivativeTicker", KindTag(FormatBronze, marketevent.KindDerivativeTicker))
	assert.Equal(t, "", KindTag(FormatSilver, marketevent.KindError))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" Silver ")
	require.NoError(t, err)
	assert.Equal(t, FormatSilver, f)
	_, err = ParseFormat("gold")
	assert.Error(t, err)
}
