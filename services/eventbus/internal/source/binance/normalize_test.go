package binance

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/eventbus/common/logger"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"
)

var recv = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func normalizeOne(t *testing.T, typ, data string) marketevent.Event {
	t.Helper()
	evs, err := Normalize(RawMessage{Type: typ, Data: []byte(data)}, recv)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	return evs[0]
}

func TestNormalize_Trade(t *testing.T) {
	ev := normalizeOne(t, TypeTrade,
		`{"e":"trade","E":1714564800100,"s":"btcusdt","t":12345,"p":"31250.25","q":"0.1","T":1714564800050,"m":true}`)
	tr, ok := ev.(marketevent.Trade)
	require.True(t, ok)
	assert.Equal(t, "binance", tr.Exchange)
	assert.Equal(t, "BTCUSDT", tr.Symbol)
	assert.Equal(t, "12345", tr.ID)
	assert.Equal(t, 31250.25, tr.Price)
	assert.Equal(t, 0.1, tr.Amount)
	assert.Equal(t, marketevent.SideSell, tr.Side)
	assert.Equal(t, time.UnixMilli(1714564800050).UTC(), tr.Timestamp)
	assert.Equal(t, recv, tr.LocalTimestamp)
}

func TestNormalize_AggTradeUsesAggID(t *testing.T) {
	ev := normalizeOne(t, TypeAggTrade, `{"e":"aggTrade","s":"ETHUSDT","a":77,"p":"1","q":"2","T":1,"m":false}`)
	tr := ev.(marketevent.Trade)
	assert.Equal(t, "77", tr.ID)
	assert.Equal(t, marketevent.SideBuy, tr.Side)
}

func TestNormalize_Depth(t *testing.T) {
	ev := normalizeOne(t, TypeDepthUpdate,
		`{"e":"depthUpdate","E":1714564800000,"s":"BTCUSDT","U":157,"u":160,"b":[["100.0","1.5"]],"a":[["101.0","0"],["102.0","3"]]}`)
	bc := ev.(marketevent.BookChange)
	assert.Equal(t, []marketevent.BookLevel{{Price: 100, Amount: 1.5}}, bc.Bids)
	assert.Len(t, bc.Asks, 2)
	assert.Equal(t, 0.0, bc.Asks[0].Amount)
	assert.Equal(t, int64(160), bc.Sequence)
	assert.False(t, bc.IsSnapshot)

	_, err := Normalize(RawMessage{Type: TypeDepthUpdate, Data: []byte(`{"e":"depthUpdate","b":[["x","1"]]}`)}, recv)
	assert.Error(t, err)
}

func TestNormalize_BookTickerUsesReceiveTimeWithoutE(t *testing.T) {
	ev := normalizeOne(t, TypeBookTicker, `{"u":1,"s":"BNBUSDT","b":"25.35","B":"31.21","a":"25.36","A":""}`)
	bt := ev.(marketevent.BookTicker)
	assert.Equal(t, recv, bt.Timestamp)
	assert.Equal(t, 25.35, bt.BidPrice)
	assert.True(t, math.IsNaN(bt.AskAmount))
}

func TestNormalize_Kline(t *testing.T) {
	open := `{"e":"kline","E":2,"s":"BTCUSDT","k":{"t":0,"T":59999,"i":"1m","o":"1","c":"2","h":"3","l":"0.5","v":"10","n":4,"x":false,"q":"15","V":"6"}}`
	evs, err := Normalize(RawMessage{Type: TypeKline, Data: []byte(open)}, recv)
	require.NoError(t, err)
	assert.Empty(t, evs, "open bars are skipped")

	closed := `{"e":"kline","E":2,"s":"BTCUSDT","k":{"t":0,"T":59999,"i":"1m","o":"1","c":"2","h":"3","l":"0.5","v":"10","n":4,"x":true,"q":"15","V":"6"}}`
	bar := normalizeOne(t, TypeKline, closed).(marketevent.TradeBar)
	assert.Equal(t, "trade_bar_1m", bar.Name)
	assert.Equal(t, int64(60000), bar.Interval)
	assert.Equal(t, 1.5, bar.VWAP)
	assert.Equal(t, 6.0, bar.BuyVolume)
	assert.Equal(t, 4.0, bar.SellVolume)
	assert.Equal(t, int64(4), bar.Trades)
}

func TestNormalize_FuturesStreams(t *testing.T) {
	liq := normalizeOne(t, TypeForceOrder,
		`{"e":"forceOrder","E":5,"o":{"s":"BTCUSDT","S":"SELL","q":"0.014","p":"9910","T":4}}`).(marketevent.Liquidation)
	assert.Equal(t, marketevent.SideSell, liq.Side)
	assert.Equal(t, 9910.0, liq.Price)

	dt := normalizeOne(t, TypeMarkPrice,
		`{"e":"markPriceUpdate","E":5,"s":"BTCUSDT","p":"11794.15","i":"11784.62","r":"0.00038167","T":1562306400000}`).(marketevent.DerivativeTicker)
	assert.Equal(t, 11794.15, dt.MarkPrice)
	assert.Equal(t, 0.00038167, dt.FundingRate)
	assert.True(t, math.IsNaN(dt.LastPrice))
	assert.Equal(t, time.UnixMilli(1562306400000).UTC(), dt.FundingTimestamp)
}

func TestNormalize_DisconnectAndUnknown(t *testing.T) {
	ev := normalizeOne(t, TypeDisconnect, ``)
	assert.Equal(t, marketevent.KindDisconnect, ev.Kind())

	evs, err := Normalize(RawMessage{Type: "24hrTicker", Data: []byte(`{}`)}, recv)
	assert.NoError(t, err)
	assert.Empty(t, evs)
}

func TestKlineInterval(t *testing.T) {
	for in, want := range map[string]time.Duration{"1s": time.Second, "15m": 15 * time.Minute, "4h": 4 * time.Hour, "1w": 7 * 24 * time.Hour} {
		got, err := klineInterval(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "m", "0m", "1x"} {
		_, err := klineInterval(bad)
		assert.Error(t, err, bad)
	}
}

type chanStream struct{ msgs []RawMessage }

func (c chanStream) Stream(context.Context) (<-chan RawMessage, error) {
	ch := make(chan RawMessage, len(c.msgs))
	for _, m := range c.msgs {
		ch <- m
	}
	close(ch)
	return ch, nil
}

type recorder struct {
	mu     sync.Mutex
	events []marketevent.Event
	metas  []marketevent.PublishMeta
}

func (r *recorder) Publish(ev marketevent.Event, meta marketevent.PublishMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.metas = append(r.metas, meta)
}

func TestSource_Run(t *testing.T) {
	stream := chanStream{msgs: []RawMessage{
		{Type: TypeTrade, Data: []byte(`{"e":"trade","s":"BTCUSDT","t":1,"p":"1","q":"1","T":1}`)},
		{Type: TypeTrade, Data: []byte(`{"e":"trade","s":"BTCUSDT","t":2,"p":"bad","q":"1","T":1}`)},
		{Type: TypeDisconnect},
	}}
	rec := &recorder{}
	src := NewSource(stream, rec, logger.NewNop())
	src.now = func() time.Time { return recv }

	require.NoError(t, src.Run(context.Background()))

	require.Len(t, rec.events, 3)
	assert.Equal(t, marketevent.KindTrade, rec.events[0].Kind())
	assert.Equal(t, marketevent.KindError, rec.events[1].Kind())
	assert.Equal(t, marketevent.KindDisconnect, rec.events[2].Kind())
	for _, m := range rec.metas {
		assert.Equal(t, SourceName, m.Source)
		assert.Equal(t, marketevent.OriginRealtime, m.Origin)
		assert.Equal(t, recv, m.IngestTime)
	}
}
