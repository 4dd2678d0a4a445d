package canonical

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"
)

// Bronze metadata keys set from PublishMeta. Extra entries are copied
// alongside and never override these.
const (
	MetaSource     = "source"
	MetaOrigin     = "origin"
	MetaRequestID  = "requestId"
	MetaIngestTime = "ingestTime"
)

func bronzeMeta(meta marketevent.PublishMeta) map[string]string {
	m := make(map[string]string, len(meta.Extra)+4)
	for k, v := range meta.Extra {
		m[k] = v
	}
	if meta.Source != "" {
		m[MetaSource] = meta.Source
	}
	m[MetaOrigin] = meta.Origin.String()
	if meta.RequestID != "" {
		m[MetaRequestID] = meta.RequestID
	}
	if !meta.IngestTime.IsZero() {
		m[MetaIngestTime] = meta.IngestTime.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func (e *Encoder) encodeBronze(ev marketevent.Event, meta marketevent.PublishMeta) []Record {
	var payloads [][]byte

	switch v := ev.(type) {
	case marketevent.Trade:
		payloads = [][]byte{bronzeTrade(v.Header, v.ID, v.Price, v.Amount, v.Side)}
	case marketevent.Liquidation:
		payloads = [][]byte{bronzeTrade(v.Header, v.ID, v.Price, v.Amount, v.Side)}
	case marketevent.BookChange:
		payloads = bronzeBookChange(v)
	case marketevent.BookSnapshot:
		payloads = [][]byte{bronzeBookSnapshot(v)}
	case marketevent.Quote:
		payloads = [][]byte{bronzeQuote(v.Header, v.BidPrice, v.BidAmount, v.AskPrice, v.AskAmount)}
	case marketevent.BookTicker:
		payloads = [][]byte{bronzeQuote(v.Header, v.BidPrice, v.BidAmount, v.AskPrice, v.AskAmount)}
	case marketevent.DerivativeTicker:
		payloads = [][]byte{bronzeDerivativeTicker(v)}
	case marketevent.OptionSummary:
		payloads = [][]byte{bronzeOptionSummary(v)}
	case marketevent.TradeBar:
		payloads = [][]byte{bronzeTradeBar(v)}
	case marketevent.Disconnect:
		var m message
		m.str(fieldExchange, v.Exchange)
		m.timestamp(fieldLocalTimestamp, v.LocalTimestamp)
		payloads = [][]byte{m.bytes()}
	case marketevent.ControlError:
		var m message
		m.str(fieldExchange, v.Exchange)
		m.timestamp(fieldLocalTimestamp, v.LocalTimestamp)
		m.str(5, v.Message)
		m.str(6, v.Details)
		payloads = [][]byte{m.bytes()}
	default:
		return nil
	}

	return e.newRecords(ev, meta, bronzeMeta(meta), payloads...)
}

func sideValue(s marketevent.Side) int64 {
	switch s {
	case marketevent.SideBuy:
		return sideBuy
	case marketevent.SideSell:
		return sideSell
	default:
		return sideUnspecified
	}
}

func actionFor(amount float64) int64 {
	if finite(amount) && amount > 0 {
		return actionUpsert
	}
	return actionDelete
}

func bronzeTrade(h marketevent.Header, id string, price, amount float64, side marketevent.Side) []byte {
	var m message
	m.header(h.Exchange, h.Symbol, h.Timestamp, h.LocalTimestamp)
	m.str(5, id)
	m.str(6, DecimalString(price))
	m.str(7, DecimalString(amount))
	m.varint(8, sideValue(side))
	return m.bytes()
}

func bronzeBookChange(v marketevent.BookChange) [][]byte {
	level := func(side, action int64, price, amount string) []byte {
		var m message
		m.header(v.Exchange, v.Symbol, v.Timestamp, v.LocalTimestamp)
		m.boolean(5, v.IsSnapshot)
		m.varint(6, side)
		m.varint(7, action)
		m.str(8, price)
		m.str(9, amount)
		return m.bytes()
	}

	if len(v.Bids)+len(v.Asks) == 0 {
		return [][]byte{level(sideUnspecified, actionUnspecified, "0", "0")}
	}
	out := make([][]byte, 0, len(v.Bids)+len(v.Asks))
	for _, l := range v.Bids {
		out = append(out, level(sideBuy, actionFor(l.Amount), DecimalString(l.Price), DecimalString(l.Amount)))
	}
	for _, l := range v.Asks {
		out = append(out, level(sideSell, actionFor(l.Amount), DecimalString(l.Price), DecimalString(l.Amount)))
	}
	return out
}

func bronzeLevels(m *message, n protowire.Number, levels []marketevent.BookLevel) {
	for _, l := range levels {
		var lm message
		lm.str(1, DecimalString(l.Price))
		lm.str(2, DecimalString(l.Amount))
		m.embed(n, lm.bytes())
	}
}

func bronzeBookSnapshot(v marketevent.BookSnapshot) []byte {
	var m message
	m.header(v.Exchange, v.Symbol, v.Timestamp, v.LocalTimestamp)
	m.str(5, v.Name)
	m.varint(6, int64(v.Depth))
	m.varint(7, v.Interval.Milliseconds())
	bronzeLevels(&m, 8, v.Bids)
	bronzeLevels(&m, 9, v.Asks)
	if v.Grouping != nil {
		m.str(10, optionalDecimal(*v.Grouping))
	}
	return m.bytes()
}

func bronzeQuote(h marketevent.Header, bidPrice, bidAmount, askPrice, askAmount float64) []byte {
	var m message
	m.header(h.Exchange, h.Symbol, h.Timestamp, h.LocalTimestamp)
	m.str(5, optionalDecimal(bidPrice))
	m.str(6, optionalDecimal(bidAmount))
	m.str(7, optionalDecimal(askPrice))
	m.str(8, optionalDecimal(askAmount))
	return m.bytes()
}

func bronzeDerivativeTicker(v marketevent.DerivativeTicker) []byte {
	var m message
	m.header(v.Exchange, v.Symbol, v.Timestamp, v.LocalTimestamp)
	m.str(5, optionalDecimal(v.LastPrice))
	m.str(6, optionalDecimal(v.OpenInterest))
	m.str(7, optionalDecimal(v.FundingRate))
	m.str(8, optionalDecimal(v.IndexPrice))
	m.str(9, optionalDecimal(v.MarkPrice))
	m.str(10, optionalDecimal(v.PredictedFundingRate))
	m.timestamp(11, v.FundingTimestamp)
	return m.bytes()
}

func optionTypeValue(t marketevent.OptionType) int64 {
	switch t {
	case marketevent.OptionTypePut:
		return 1
	case marketevent.OptionTypeCall:
		return 2
	default:
		return 0
	}
}

func bronzeOptionSummary(v marketevent.OptionSummary) []byte {
	var m message
	m.header(v.Exchange, v.Symbol, v.Timestamp, v.LocalTimestamp)
	m.varint(5, optionTypeValue(v.OptionType))
	m.str(6, optionalDecimal(v.StrikePrice))
	m.timestamp(7, v.ExpirationDate)
	m.str(8, optionalDecimal(v.BestBidPrice))
	m.str(9, optionalDecimal(v.BestBidAmount))
	m.str(10, optionalDecimal(v.BestBidIV))
	m.str(11, optionalDecimal(v.BestAskPrice))
	m.str(12, optionalDecimal(v.BestAskAmount))
	m.str(13, optionalDecimal(v.BestAskIV))
	m.str(14, optionalDecimal(v.LastPrice))
	m.str(15, optionalDecimal(v.OpenInterest))
	m.str(16, optionalDecimal(v.MarkPrice))
	m.str(17, optionalDecimal(v.MarkIV))
	m.str(18, optionalDecimal(v.Delta))
	m.str(19, optionalDecimal(v.Gamma))
	m.str(20, optionalDecimal(v.Vega))
	m.str(21, optionalDecimal(v.Theta))
	m.str(22, optionalDecimal(v.Rho))
	m.str(23, optionalDecimal(v.UnderlyingPrice))
	m.str(24, v.UnderlyingIndex)
	return m.bytes()
}

func bronzeTradeBar(v marketevent.TradeBar) []byte {
	var m message
	m.header(v.Exchange, v.Symbol, v.Timestamp, v.LocalTimestamp)
	m.str(5, v.Name)
	m.varint(6, v.Interval)
	m.str(7, v.BarKind)
	m.str(8, DecimalString(v.Open))
	m.str(9, DecimalString(v.High))
	m.str(10, DecimalString(v.Low))
	m.str(11, DecimalString(v.Close))
	m.str(12, DecimalString(v.Volume))
	m.str(13, DecimalString(v.BuyVolume))
	m.str(14, DecimalString(v.SellVolume))
	m.varint(15, v.Trades)
	m.str(16, optionalDecimal(v.VWAP))
	m.timestamp(17, v.OpenTimestamp)
	m.timestamp(18, v.CloseTimestamp)
	return m.bytes()
}
