package binance

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"
)

// Exchange is the venue id stamped on every event.
const Exchange = "binance"

// Upstream event types handled by Normalize.
const (
	TypeTrade       = "trade"
	TypeAggTrade    = "aggTrade"
	TypeDepthUpdate = "depthUpdate"
	TypeKline       = "kline"
	TypeForceOrder  = "forceOrder"
	TypeMarkPrice   = "markPriceUpdate"
)

// Normalize converts one raw message into domain events. Unsupported types
// yield no events and no error.
func Normalize(raw RawMessage, recv time.Time) ([]marketevent.Event, error) {
	switch raw.Type {
	case TypeTrade, TypeAggTrade:
		return normalizeTrade(raw, recv)
	case TypeDepthUpdate:
		return normalizeDepth(raw.Data, recv)
	case TypeBookTicker:
		return normalizeBookTicker(raw.Data, recv)
	case TypeKline:
		return normalizeKline(raw.Data, recv)
	case TypeForceOrder:
		return normalizeForceOrder(raw.Data, recv)
	case TypeMarkPrice:
		return normalizeMarkPrice(raw.Data, recv)
	case TypeDisconnect:
		return []marketevent.Event{marketevent.Disconnect{Exchange: Exchange, LocalTimestamp: recv}}, nil
	default:
		return nil, nil
	}
}

func normalizeTrade(raw RawMessage, recv time.Time) ([]marketevent.Event, error) {
	var evt struct {
		Symbol     string `json:"s"`
		TradeID    *int64 `json:"t"`
		AggID      *int64 `json:"a"`
		Price      string `json:"p"`
		Qty        string `json:"q"`
		TradeTime  int64  `json:"T"`
		BuyerMaker bool   `json:"m"`
	}
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, fmt.Errorf("binance: unmarshal %s: %w", raw.Type, err)
	}
	price, err := parseNumber("p", evt.Price)
	if err != nil {
		return nil, err
	}
	qty, err := parseNumber("q", evt.Qty)
	if err != nil {
		return nil, err
	}

	var id string
	switch {
	case raw.Type == TypeAggTrade && evt.AggID != nil:
		id = strconv.FormatInt(*evt.AggID, 10)
	case evt.TradeID != nil:
		id = strconv.FormatInt(*evt.TradeID, 10)
	}
	// buyer is maker: the aggressor sold
	side := marketevent.SideBuy
	if evt.BuyerMaker {
		side = marketevent.SideSell
	}
	return []marketevent.Event{marketevent.Trade{
		Header: header(evt.Symbol, evt.TradeTime, recv),
		ID:     id,
		Price:  price,
		Amount: qty,
		Side:   side,
	}}, nil
}

func normalizeDepth(data []byte, recv time.Time) ([]marketevent.Event, error) {
	var evt struct {
		EventTime int64      `json:"E"`
		Symbol    string     `json:"s"`
		FinalID   int64      `json:"u"`
		Bids      [][]string `json:"b"`
		Asks      [][]string `json:"a"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("binance: unmarshal depthUpdate: %w", err)
	}
	bids, err := levels(evt.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := levels(evt.Asks)
	if err != nil {
		return nil, err
	}
	return []marketevent.Event{marketevent.BookChange{
		Header:   header(evt.Symbol, evt.EventTime, recv),
		Bids:     bids,
		Asks:     asks,
		Sequence: evt.FinalID,
	}}, nil
}

func normalizeBookTicker(data []byte, recv time.Time) ([]marketevent.Event, error) {
	var evt struct {
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		BidPrice  string `json:"b"`
		BidQty    string `json:"B"`
		AskPrice  string `json:"a"`
		AskQty    string `json:"A"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("binance: unmarshal bookTicker: %w", err)
	}
	return []marketevent.Event{marketevent.BookTicker{
		Header:    header(evt.Symbol, evt.EventTime, recv),
		BidPrice:  optional(evt.BidPrice),
		BidAmount: optional(evt.BidQty),
		AskPrice:  optional(evt.AskPrice),
		AskAmount: optional(evt.AskQty),
	}}, nil
}

func normalizeKline(data []byte, recv time.Time) ([]marketevent.Event, error) {
	var evt struct {
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		K         struct {
			Start      int64  `json:"t"`
			Close      int64  `json:"T"`
			Interval   string `json:"i"`
			Open       string `json:"o"`
			ClosePrice string `json:"c"`
			High       string `json:"h"`
			Low        string `json:"l"`
			Volume     string `json:"v"`
			Trades     int64  `json:"n"`
			Final      bool   `json:"x"`
			QuoteVol   string `json:"q"`
			TakerBuy   string `json:"V"`
		} `json:"k"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("binance: unmarshal kline: %w", err)
	}
	k := evt.K
	// only closed bars are published
	if !k.Final {
		return nil, nil
	}
	interval, err := klineInterval(k.Interval)
	if err != nil {
		return nil, err
	}
	vol := optional(k.Volume)
	buy := optional(k.TakerBuy)
	vwap := math.NaN()
	if q := optional(k.QuoteVol); vol > 0 {
		vwap = q / vol
	}
	return []marketevent.Event{marketevent.TradeBar{
		Header:         header(evt.Symbol, k.Close, recv),
		Name:           "trade_bar_" + k.Interval,
		BarKind:        "time",
		Interval:       interval.Milliseconds(),
		Open:           optional(k.Open),
		High:           optional(k.High),
		Low:            optional(k.Low),
		Close:          optional(k.ClosePrice),
		Volume:         vol,
		BuyVolume:      buy,
		SellVolume:     vol - buy,
		Trades:         k.Trades,
		VWAP:           vwap,
		OpenTimestamp:  time.UnixMilli(k.Start).UTC(),
		CloseTimestamp: time.UnixMilli(k.Close).UTC(),
	}}, nil
}

func normalizeForceOrder(data []byte, recv time.Time) ([]marketevent.Event, error) {
	var evt struct {
		EventTime int64 `json:"E"`
		Order     struct {
			Symbol    string `json:"s"`
			Side      string `json:"S"`
			Qty       string `json:"q"`
			Price     string `json:"p"`
			TradeTime int64  `json:"T"`
		} `json:"o"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("binance: unmarshal forceOrder: %w", err)
	}
	o := evt.Order
	price, err := parseNumber("p", o.Price)
	if err != nil {
		return nil, err
	}
	qty, err := parseNumber("q", o.Qty)
	if err != nil {
		return nil, err
	}
	var side marketevent.Side
	switch strings.ToUpper(o.Side) {
	case "BUY":
		side = marketevent.SideBuy
	case "SELL":
		side = marketevent.SideSell
	}
	ts := o.TradeTime
	if ts == 0 {
		ts = evt.EventTime
	}
	return []marketevent.Event{marketevent.Liquidation{
		Header: header(o.Symbol, ts, recv),
		Price:  price,
		Amount: qty,
		Side:   side,
	}}, nil
}

func normalizeMarkPrice(data []byte, recv time.Time) ([]marketevent.Event, error) {
	var evt struct {
		EventTime   int64  `json:"E"`
		Symbol      string `json:"s"`
		MarkPrice   string `json:"p"`
		IndexPrice  string `json:"i"`
		FundingRate string `json:"r"`
		NextFunding int64  `json:"T"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("binance: unmarshal markPriceUpdate: %w", err)
	}
	var funding time.Time
	if evt.NextFunding > 0 {
		funding = time.UnixMilli(evt.NextFunding).UTC()
	}
	return []marketevent.Event{marketevent.DerivativeTicker{
		Header:               header(evt.Symbol, evt.EventTime, recv),
		LastPrice:            math.NaN(),
		OpenInterest:         math.NaN(),
		FundingRate:          optional(evt.FundingRate),
		IndexPrice:           optional(evt.IndexPrice),
		MarkPrice:            optional(evt.MarkPrice),
		PredictedFundingRate: math.NaN(),
		FundingTimestamp:     funding,
	}}, nil
}

func header(symbol string, ms int64, recv time.Time) marketevent.Header {
	ts := recv
	if ms > 0 {
		ts = time.UnixMilli(ms).UTC()
	}
	return marketevent.Header{
		Exchange:       Exchange,
		Symbol:         strings.ToUpper(symbol),
		Timestamp:      ts,
		LocalTimestamp: recv,
	}
}

func levels(pairs [][]string) ([]marketevent.BookLevel, error) {
	out := make([]marketevent.BookLevel, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			return nil, fmt.Errorf("binance: malformed level %v", p)
		}
		price, err := parseNumber("price", p[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseNumber("qty", p[1])
		if err != nil {
			return nil, err
		}
		out = append(out, marketevent.BookLevel{Price: price, Amount: qty})
	}
	return out, nil
}

func parseNumber(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: invalid %s %q: %w", field, s, err)
	}
	return v, nil
}

// optional parses s, NaN when absent or malformed.
func optional(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

var intervalUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'M': 30 * 24 * time.Hour,
}

// klineInterval parses Binance interval codes such as "1m", "4h", "1M".
func klineInterval(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("binance: invalid kline interval %q", s)
	}
	unit, ok := intervalUnits[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("binance: invalid kline interval %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("binance: invalid kline interval %q", s)
	}
	return time.Duration(n) * unit, nil
}
